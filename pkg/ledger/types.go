package ledger

import (
	"context"
	"time"
)

// Kind is the type of operation an entry records.
type Kind string

const (
	KindReconcile Kind = "reconcile"
	KindCertIssue Kind = "cert-issue"
	KindCertRenew Kind = "cert-renew"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReconcile, KindCertIssue, KindCertRenew:
		return true
	}
	return false
}

// Status is the state of an entry.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Entry is a single ledger record.
type Entry struct {
	// ID is a UUIDv4 assigned when the entry is created.
	ID string `json:"id"`

	TenantID string `json:"tenant_id,omitempty"`
	Kind     Kind   `json:"kind"`

	// Action names the step of the operation, e.g. "publish", "reload", "sweep".
	Action string `json:"action,omitempty"`

	// Subject is the domain name the operation applies to, or "*" for all.
	Subject string `json:"subject,omitempty"`

	Status  Status         `json:"status"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Clone returns a copy of the entry whose payload map is not shared.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Query filters ledger entries. Zero-valued fields are ignored.
type Query struct {
	TenantID string
	Kind     Kind
	Status   Status
	Subject  string

	// StartTime and EndTime bound StartedAt, inclusive.
	StartTime *time.Time
	EndTime   *time.Time

	// Limit is the maximum number of entries returned. Default: 100
	Limit  int
	Offset int
}

// Storage persists ledger entries.
type Storage interface {
	// Insert stores a new running entry.
	Insert(ctx context.Context, entry *Entry) error

	// Finalize records the terminal status of a running entry. It returns
	// ErrAlreadyFinalized if the stored entry is no longer running and
	// ErrNotFound if it does not exist.
	Finalize(ctx context.Context, entry *Entry) error

	// Get returns the entry with the given id.
	Get(ctx context.Context, id string) (*Entry, error)

	// Query returns entries matching q, newest first.
	Query(ctx context.Context, q *Query) ([]*Entry, error)

	// Count returns the number of entries matching q, ignoring pagination.
	Count(ctx context.Context, q *Query) (int64, error)

	// Delete removes finalized entries matching q and returns how many were removed.
	// Running entries are never deleted.
	Delete(ctx context.Context, q *Query) (int64, error)

	Close() error
}
