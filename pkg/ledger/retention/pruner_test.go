package retention

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/ledger/storage"
)

var now = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, s ledger.Storage, ages []int, finalized bool) {
	t.Helper()
	ctx := context.Background()
	for i, days := range ages {
		started := now.AddDate(0, 0, -days)
		e := &ledger.Entry{
			ID:        fmt.Sprintf("op-%d-%v", i, finalized),
			Kind:      ledger.KindReconcile,
			Status:    ledger.StatusRunning,
			Payload:   map[string]any{},
			StartedAt: started,
		}
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if finalized {
			done := e.Clone()
			done.Status = ledger.StatusSuccess
			done.CompletedAt = &started
			if err := s.Finalize(ctx, done); err != nil {
				t.Fatalf("Finalize failed: %v", err)
			}
		}
	}
}

func TestPruner_ByAge(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, []int{1, 10, 40, 90}, true)
	seed(t, s, []int{100}, false)

	p := NewPruner(s, &Config{RetentionDays: 30})
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted %d, want 2", deleted)
	}

	remaining, _ := s.Count(context.Background(), &ledger.Query{})
	if remaining != 3 {
		t.Errorf("remaining %d, want 3 (two recent + one running)", remaining)
	}
}

func TestPruner_ByCountWithArchive(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, []int{1, 2, 3, 4, 5}, true)

	archiveDir := t.TempDir()
	p := NewPruner(s, &Config{MaxEntries: 2, ArchiveBeforeDelete: true, ArchivePath: archiveDir})
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted %d, want 3", deleted)
	}

	files, err := filepath.Glob(filepath.Join(archiveDir, "ledger-count-*.jsonl"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one archive file, got %v (%v)", files, err)
	}

	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Errorf("archive has %d lines, want 3", lines)
	}
}

func TestPruner_DisabledKeepsEverything(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, []int{365, 730}, true)

	p := NewPruner(s, &Config{})
	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted %d, want 0", deleted)
	}
}
