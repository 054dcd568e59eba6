package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"netpilot-hq/netpilot/pkg/ledger"
)

// createTempDB creates a temporary SQLite database for testing.
func createTempDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	config := &SQLiteConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}

	s, err := NewSQLiteStorage(config)
	if err != nil {
		t.Fatalf("Failed to create SQLite storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every storage implementation.
func backends(t *testing.T, fn func(t *testing.T, s ledger.Storage)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStorage()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, createTempDB(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newEntry(id string, kind ledger.Kind, startedAt time.Time) *ledger.Entry {
	return &ledger.Entry{
		ID:        id,
		Kind:      kind,
		Action:    "publish",
		Subject:   "example.com",
		Status:    ledger.StatusRunning,
		Payload:   map[string]any{"domains": float64(1)},
		StartedAt: startedAt,
	}
}

func finalize(entry *ledger.Entry, status ledger.Status, errText string) *ledger.Entry {
	done := entry.Clone()
	completed := done.StartedAt.Add(1500 * time.Millisecond)
	done.Status = status
	done.Error = errText
	done.CompletedAt = &completed
	done.Duration = 1500 * time.Millisecond
	return done
}

func TestStorage_InsertFinalizeGet(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Storage) {
		ctx := context.Background()
		entry := newEntry("op-1", ledger.KindReconcile, base)

		if err := s.Insert(ctx, entry); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		got, err := s.Get(ctx, "op-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != ledger.StatusRunning {
			t.Errorf("status = %s, want running", got.Status)
		}

		done := finalize(entry, ledger.StatusFailed, "reload failed")
		done.Payload["skipped"] = []any{"route 7"}
		if err := s.Finalize(ctx, done); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}

		got, err = s.Get(ctx, "op-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != ledger.StatusFailed || got.Error != "reload failed" {
			t.Errorf("unexpected finalized entry: %+v", got)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(base.Add(1500*time.Millisecond)) {
			t.Errorf("CompletedAt = %v", got.CompletedAt)
		}
		if got.Duration != 1500*time.Millisecond {
			t.Errorf("Duration = %s", got.Duration)
		}
		skipped, ok := got.Payload["skipped"].([]any)
		if !ok || len(skipped) != 1 || skipped[0] != "route 7" {
			t.Errorf("payload skipped = %#v", got.Payload["skipped"])
		}
	})
}

func TestStorage_FinalizeOnlyOnce(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Storage) {
		ctx := context.Background()
		entry := newEntry("op-1", ledger.KindCertIssue, base)
		if err := s.Insert(ctx, entry); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		if err := s.Finalize(ctx, finalize(entry, ledger.StatusSuccess, "")); err != nil {
			t.Fatalf("first Finalize failed: %v", err)
		}
		err := s.Finalize(ctx, finalize(entry, ledger.StatusFailed, "late"))
		if !errors.Is(err, ledger.ErrAlreadyFinalized) {
			t.Fatalf("second Finalize error = %v, want ErrAlreadyFinalized", err)
		}

		got, _ := s.Get(ctx, "op-1")
		if got.Status != ledger.StatusSuccess || got.Error != "" {
			t.Errorf("finalized entry was mutated: %+v", got)
		}

		if err := s.Finalize(ctx, finalize(newEntry("missing", ledger.KindReconcile, base), ledger.StatusSuccess, "")); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("Finalize of unknown entry = %v, want ErrNotFound", err)
		}
	})
}

func TestStorage_QueryFilters(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Storage) {
		ctx := context.Background()

		kinds := []ledger.Kind{ledger.KindReconcile, ledger.KindCertIssue, ledger.KindCertRenew}
		for i := 0; i < 9; i++ {
			e := newEntry(fmt.Sprintf("op-%d", i), kinds[i%3], base.Add(time.Duration(i)*time.Minute))
			if i%3 == 1 {
				e.Subject = "other.org"
			}
			if err := s.Insert(ctx, e); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if i < 6 {
				if err := s.Finalize(ctx, finalize(e, ledger.StatusSuccess, "")); err != nil {
					t.Fatalf("Finalize failed: %v", err)
				}
			}
		}

		tests := []struct {
			name  string
			query *ledger.Query
			want  int
			first string
		}{
			{name: "all newest first", query: &ledger.Query{}, want: 9, first: "op-8"},
			{name: "by kind", query: &ledger.Query{Kind: ledger.KindCertIssue}, want: 3, first: "op-7"},
			{name: "by status", query: &ledger.Query{Status: ledger.StatusRunning}, want: 3, first: "op-8"},
			{name: "by subject", query: &ledger.Query{Subject: "other.org"}, want: 3, first: "op-7"},
			{name: "limit", query: &ledger.Query{Limit: 2}, want: 2, first: "op-8"},
			{name: "offset", query: &ledger.Query{Limit: 2, Offset: 8}, want: 1, first: "op-0"},
			{name: "time range", query: &ledger.Query{
				StartTime: ptr(base.Add(2 * time.Minute)),
				EndTime:   ptr(base.Add(4 * time.Minute)),
			}, want: 3, first: "op-4"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Query(ctx, tt.query)
				if err != nil {
					t.Fatalf("Query failed: %v", err)
				}
				if len(got) != tt.want {
					t.Fatalf("got %d entries, want %d", len(got), tt.want)
				}
				if got[0].ID != tt.first {
					t.Errorf("first entry = %s, want %s", got[0].ID, tt.first)
				}
			})
		}

		count, err := s.Count(ctx, &ledger.Query{Kind: ledger.KindReconcile})
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if count != 3 {
			t.Errorf("Count = %d, want 3", count)
		}
	})
}

func TestStorage_DeleteSkipsRunning(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.Storage) {
		ctx := context.Background()

		for i := 0; i < 4; i++ {
			e := newEntry(fmt.Sprintf("op-%d", i), ledger.KindReconcile, base.Add(time.Duration(i)*time.Hour))
			if err := s.Insert(ctx, e); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if i != 0 {
				if err := s.Finalize(ctx, finalize(e, ledger.StatusSuccess, "")); err != nil {
					t.Fatalf("Finalize failed: %v", err)
				}
			}
		}

		deleted, err := s.Delete(ctx, &ledger.Query{EndTime: ptr(base.Add(90 * time.Minute))})
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("deleted %d entries, want 1", deleted)
		}

		if _, err := s.Get(ctx, "op-0"); err != nil {
			t.Errorf("running entry was deleted: %v", err)
		}
		if _, err := s.Get(ctx, "op-1"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("Get(op-1) = %v, want ErrNotFound", err)
		}
	})
}

func ptr(t time.Time) *time.Time { return &t }
