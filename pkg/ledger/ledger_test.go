package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/ledger/storage"
	"netpilot-hq/netpilot/pkg/model"
)

func TestLedger_BeginAndSucceed(t *testing.T) {
	store := storage.NewMemoryStorage()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := start

	var observed []*ledger.Entry
	l := ledger.New(store,
		ledger.WithClock(func() time.Time { return clock }),
		ledger.WithObserver(func(e *ledger.Entry) { observed = append(observed, e) }),
	)

	ctx := context.Background()
	op, err := l.Begin(ctx, model.Scope{TenantID: "acme-corp"}, ledger.KindReconcile, "publish", "example.com")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	stored, err := store.Get(ctx, op.ID())
	if err != nil {
		t.Fatalf("running entry not stored: %v", err)
	}
	if stored.Status != ledger.StatusRunning || stored.TenantID != "acme-corp" {
		t.Errorf("unexpected running entry: %+v", stored)
	}

	op.Set("files", 1)
	op.Append("skipped", "route 3")
	op.Append("skipped", "route 4")

	clock = start.Add(2 * time.Second)
	if err := op.Succeed(ctx); err != nil {
		t.Fatalf("Succeed failed: %v", err)
	}

	stored, _ = store.Get(ctx, op.ID())
	if stored.Status != ledger.StatusSuccess {
		t.Errorf("status = %s, want success", stored.Status)
	}
	if stored.Duration != 2*time.Second {
		t.Errorf("duration = %s, want 2s", stored.Duration)
	}
	if skipped := stored.Payload["skipped"].([]any); len(skipped) != 2 {
		t.Errorf("skipped = %v, want 2 items", skipped)
	}
	if len(observed) != 1 || observed[0].ID != op.ID() {
		t.Errorf("observer calls = %d", len(observed))
	}
}

func TestLedger_FinalizeExactlyOnce(t *testing.T) {
	store := storage.NewMemoryStorage()
	l := ledger.New(store)
	ctx := context.Background()

	op, err := l.Begin(ctx, model.DefaultScope, ledger.KindCertIssue, "issue", "example.com")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results <- op.Fail(ctx, errors.New("acme down"))
			} else {
				results <- op.Succeed(ctx)
			}
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, already int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrAlreadyFinalized):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || already != 9 {
		t.Errorf("ok=%d already=%d, want 1 and 9", ok, already)
	}

	final := op.Entry()
	op.Set("late", true)
	if _, exists := op.Entry().Payload["late"]; exists {
		t.Errorf("payload mutated after finalization")
	}
	if final.Status == ledger.StatusRunning {
		t.Errorf("entry still running after finalization")
	}
}

func TestLedger_FailRecordsError(t *testing.T) {
	store := storage.NewMemoryStorage()
	l := ledger.New(store)
	ctx := context.Background()

	op, _ := l.Begin(ctx, model.DefaultScope, ledger.KindCertRenew, "renew", "example.com")
	if err := op.Finish(ctx, errors.New("verification failed")); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	entries, err := l.Query(ctx, &ledger.Query{Status: ledger.StatusFailed})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Error != "verification failed" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLedger_RejectsUnknownKind(t *testing.T) {
	l := ledger.New(storage.NewMemoryStorage())
	if _, err := l.Begin(context.Background(), model.DefaultScope, ledger.Kind("deploy"), "", ""); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
