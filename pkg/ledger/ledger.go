package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"netpilot-hq/netpilot/pkg/model"
)

// Observer is called after an entry has been finalized.
type Observer func(entry *Entry)

// Ledger creates and finalizes entries on top of a Storage.
type Ledger struct {
	storage   Storage
	logger    *slog.Logger
	now       func() time.Time
	observers []Observer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithObserver registers a callback run after each finalization.
func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		l.observers = append(l.observers, o)
	}
}

// New creates a ledger backed by storage.
func New(storage Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: storage,
		logger:  slog.Default().With("component", "ledger"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Storage returns the underlying storage.
func (l *Ledger) Storage() Storage {
	return l.storage
}

// Begin creates a running entry and returns the handle that finalizes it.
func (l *Ledger) Begin(ctx context.Context, scope model.Scope, kind Kind, action, subject string) (*Operation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid ledger kind %q", kind)
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		TenantID:  scope.TenantID,
		Kind:      kind,
		Action:    action,
		Subject:   subject,
		Status:    StatusRunning,
		Payload:   map[string]any{},
		StartedAt: l.now().UTC(),
	}

	if err := l.storage.Insert(ctx, entry.Clone()); err != nil {
		return nil, err
	}

	l.logger.Debug("ledger entry started",
		"id", entry.ID,
		"kind", kind,
		"action", action,
		"subject", subject,
	)

	return &Operation{ledger: l, entry: entry}, nil
}

// Query proxies to the storage backend.
func (l *Ledger) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	return l.storage.Query(ctx, q)
}

// Operation is the handle of a running entry. It is owned by the
// operation that created it and may be used from several goroutines.
type Operation struct {
	ledger *Ledger

	mu    sync.Mutex
	entry *Entry
	done  bool
}

// ID returns the entry id.
func (o *Operation) ID() string {
	return o.entry.ID
}

// Set stores a payload value. It has no effect after finalization.
func (o *Operation) Set(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.entry.Payload[key] = value
}

// Append adds value to the payload list stored under key.
func (o *Operation) Append(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	list, _ := o.entry.Payload[key].([]any)
	o.entry.Payload[key] = append(list, value)
}

// Succeed finalizes the entry as successful.
func (o *Operation) Succeed(ctx context.Context) error {
	return o.finish(ctx, StatusSuccess, nil)
}

// Fail finalizes the entry as failed with cause.
func (o *Operation) Fail(ctx context.Context, cause error) error {
	return o.finish(ctx, StatusFailed, cause)
}

// Finish finalizes the entry as failed when cause is non-nil and as
// successful otherwise.
func (o *Operation) Finish(ctx context.Context, cause error) error {
	if cause != nil {
		return o.Fail(ctx, cause)
	}
	return o.Succeed(ctx)
}

func (o *Operation) finish(ctx context.Context, status Status, cause error) error {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return ErrAlreadyFinalized
	}
	o.done = true

	now := o.ledger.now().UTC()
	o.entry.Status = status
	o.entry.CompletedAt = &now
	o.entry.Duration = now.Sub(o.entry.StartedAt)
	if cause != nil {
		o.entry.Error = cause.Error()
	}
	final := o.entry.Clone()
	o.mu.Unlock()

	// Finalization must land even if the operation's context was cancelled.
	if err := o.ledger.storage.Finalize(context.WithoutCancel(ctx), final); err != nil {
		o.ledger.logger.Error("failed to finalize ledger entry",
			"id", final.ID,
			"kind", final.Kind,
			"error", err,
		)
		return err
	}

	logArgs := []any{
		"id", final.ID,
		"kind", final.Kind,
		"action", final.Action,
		"subject", final.Subject,
		"status", final.Status,
		"duration_ms", final.Duration.Milliseconds(),
	}
	if status == StatusFailed {
		o.ledger.logger.Warn("operation failed", append(logArgs, "error", final.Error)...)
	} else {
		o.ledger.logger.Info("operation completed", logArgs...)
	}

	for _, obs := range o.ledger.observers {
		obs(final)
	}
	return nil
}

// Entry returns a copy of the entry in its current state.
func (o *Operation) Entry() *Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entry.Clone()
}
