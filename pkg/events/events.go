// Package events carries notifications out of the lifecycle manager and
// the reconciliation engine. The in-process Hub logs every event and fans
// it out to subscribers; external transports subscribe to the Hub.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	TypeCertificateUpdated = "certificate.updated"
	TypeReconcileProgress  = "reconcile.progress"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("events: hub closed")

// CertificateUpdated is published whenever a certificate changes state.
type CertificateUpdated struct {
	TenantID      string     `json:"tenant_id,omitempty"`
	DomainID      int64      `json:"domain_id"`
	DomainName    string     `json:"domain_name"`
	CertificateID int64      `json:"certificate_id"`
	Status        string     `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Progress reports the advance of a long-running operation.
type Progress struct {
	// OperationID is the ledger entry of the operation.
	OperationID string `json:"operation_id,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Step        string `json:"step"`
	Percent     int    `json:"percent"`
	Message     string `json:"message,omitempty"`
}

// Event is what subscribers receive. Exactly one payload field is set.
type Event struct {
	Type        string              `json:"type"`
	Time        time.Time           `json:"time"`
	Certificate *CertificateUpdated `json:"certificate,omitempty"`
	Progress    *Progress           `json:"progress,omitempty"`
}

// Notifier receives certificate updates.
type Notifier interface {
	CertificateUpdated(ctx context.Context, ev CertificateUpdated)
}

// ProgressSink receives progress reports.
type ProgressSink interface {
	Progress(ctx context.Context, p Progress)
}

// Discard implements Notifier and ProgressSink and drops everything.
var Discard discard

type discard struct{}

func (discard) CertificateUpdated(context.Context, CertificateUpdated) {}
func (discard) Progress(context.Context, Progress)                     {}

// Hub fans events out to subscribers. Delivery is non-blocking: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewHub creates a hub. A nil logger uses slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "events"),
		now:    time.Now,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber with the given buffer size. The
// returned cancel func unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func(), error) {
	if buffer < 1 {
		buffer = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, ErrHubClosed
	}

	id := h.nextID
	h.nextID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// CertificateUpdated implements Notifier.
func (h *Hub) CertificateUpdated(ctx context.Context, ev CertificateUpdated) {
	h.logger.InfoContext(ctx, "certificate updated",
		"domain", ev.DomainName,
		"certificate_id", ev.CertificateID,
		"status", ev.Status,
	)
	h.publish(Event{Type: TypeCertificateUpdated, Time: h.now(), Certificate: &ev})
}

// Progress implements ProgressSink.
func (h *Hub) Progress(ctx context.Context, p Progress) {
	h.logger.DebugContext(ctx, "progress",
		"subject", p.Subject,
		"step", p.Step,
		"percent", p.Percent,
		"message", p.Message,
	)
	h.publish(Event{Type: TypeReconcileProgress, Time: h.now(), Progress: &p})
}

func (h *Hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("subscriber buffer full, event dropped", "subscriber", id, "type", ev.Type)
		}
	}
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
