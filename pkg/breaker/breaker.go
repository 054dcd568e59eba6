package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the mode of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before admitting a probe.
	// Default: 60s
	ResetTimeout time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	return c
}

// Observer is notified of every state transition. It is called with the
// breaker's lock released, in the goroutine that caused the transition.
type Observer func(name string, from, to State)

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	FailureThreshold    int       `json:"failure_threshold"`
	ResetTimeout        string    `json:"reset_timeout"`
}

// Breaker guards a single named operation.
type Breaker struct {
	name      string
	config    Config
	observers []Observer
	isFailure func(error) bool
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	probing     bool
}

// Option configures a Breaker or a Registry.
type Option func(*options)

type options struct {
	observers []Observer
	isFailure func(error) bool
	now       func() time.Time
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observers = append(opts.observers, o)
		}
	}
}

// WithFailureClassifier overrides which errors count as failures.
// By default every error except context.Canceled counts.
func WithFailureClassifier(fn func(error) bool) Option {
	return func(opts *options) {
		opts.isFailure = fn
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		isFailure: defaultIsFailure,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// New creates a closed breaker for the named operation.
func New(name string, cfg Config, opts ...Option) *Breaker {
	o := buildOptions(opts)
	return newBreaker(name, cfg, o)
}

func newBreaker(name string, cfg Config, o options) *Breaker {
	return &Breaker{
		name:      name,
		config:    cfg.withDefaults(),
		observers: o.observers,
		isFailure: o.isFailure,
		now:       o.now,
		state:     StateClosed,
	}
}

// Name returns the operation name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose reset timeout
// has elapsed still reports open until the next call moves it to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
		OpenedAt:            b.openedAt,
		FailureThreshold:    b.config.FailureThreshold,
		ResetTimeout:        b.config.ResetTimeout.String(),
	}
}

// Execute runs fn if the breaker admits the call and records its outcome.
// A rejected call returns an *OpenError without invoking fn. A panic in fn
// is recorded as a failure and then re-raised.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(probe, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	callErr := fn(ctx)
	b.record(probe, callErr)
	return callErr
}

// Call is the value-returning form of Execute.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// admit decides whether a call may proceed. It reports whether the
// admitted call is the half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return false, nil

	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.config.ResetTimeout {
			err := &OpenError{Name: b.name, State: StateOpen, RetryAfter: b.config.ResetTimeout - elapsed}
			b.mu.Unlock()
			return false, err
		}
		b.state = StateHalfOpen
		b.probing = true
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return true, nil

	default: // half-open
		if b.probing {
			err := &OpenError{Name: b.name, State: StateHalfOpen}
			b.mu.Unlock()
			return false, err
		}
		b.probing = true
		b.mu.Unlock()
		return true, nil
	}
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(probe bool, err error) {
	failed := b.isFailure(err)

	b.mu.Lock()
	from := b.state

	if probe {
		b.probing = false
	}

	switch {
	case !failed && err != nil:
		// Not counted, e.g. a cancelled caller. A cancelled probe leaves the
		// breaker half-open so the next caller probes again.
	case !failed:
		b.failures = 0
		if b.state == StateHalfOpen && probe {
			b.state = StateClosed
			b.openedAt = time.Time{}
		}
	default:
		b.failures++
		b.lastFailure = b.now()
		switch {
		case b.state == StateHalfOpen && probe:
			b.state = StateOpen
			b.openedAt = b.lastFailure
		case b.state == StateClosed && b.failures >= b.config.FailureThreshold:
			b.state = StateOpen
			b.openedAt = b.lastFailure
		}
	}

	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	for _, o := range b.observers {
		o(b.name, from, to)
	}
}

// Reset forces the breaker back to closed. Intended for operator use.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.openedAt = time.Time{}
	b.probing = false
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
