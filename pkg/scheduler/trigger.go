package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Trigger turns bursts of change notifications into single runs. Fire
// never blocks; after the first Fire the function runs once the trigger
// has been quiet for the debounce interval. Fires that arrive during a
// run cause exactly one more run.
type Trigger struct {
	name     string
	debounce time.Duration
	fn       func(ctx context.Context) error
	logger   *slog.Logger

	signal chan struct{}
	fired  atomic.Int64
	runs   atomic.Int64
}

// NewTrigger creates a trigger. Run must be called for fn to execute.
func NewTrigger(name string, debounce time.Duration, fn func(ctx context.Context) error, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default().With("component", "scheduler")
	}
	return &Trigger{
		name:     name,
		debounce: debounce,
		fn:       fn,
		logger:   logger,
		signal:   make(chan struct{}, 1),
	}
}

// Fire requests a run.
func (t *Trigger) Fire() {
	t.fired.Add(1)
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Runs returns the number of completed runs.
func (t *Trigger) Runs() int64 {
	return t.runs.Load()
}

// Run processes fires until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.signal:
		}

		if !t.settle(ctx) {
			return
		}

		start := time.Now()
		err := t.fn(ctx)
		t.runs.Add(1)
		if err != nil {
			t.logger.Error("triggered run failed", "trigger", t.name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
			continue
		}
		t.logger.Info("triggered run completed", "trigger", t.name, "duration_ms", time.Since(start).Milliseconds(), "fired", t.fired.Swap(0))
	}
}

// settle waits until no fire arrived for one debounce interval. It
// returns false when ctx ends first.
func (t *Trigger) settle(ctx context.Context) bool {
	if t.debounce <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(t.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.signal:
			timer.Reset(t.debounce)
		case <-timer.C:
			return true
		}
	}
}
