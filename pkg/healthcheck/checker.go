package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/model"
)

// DefaultTimeout bounds a probe when the upstream has no timeout of its own.
const DefaultTimeout = 5 * time.Second

// Result is the outcome of one probe.
type Result struct {
	UpstreamID   int64         `json:"upstream_id"`
	DomainID     int64         `json:"domain_id"`
	Name         string        `json:"name"`
	URL          string        `json:"url"`
	Healthy      bool          `json:"healthy"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time_ns"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Checker probes upstreams.
type Checker struct {
	client         *http.Client
	breakers       *breaker.Registry
	defaultTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient sets the client used for probes. Redirects are never
// followed regardless of the client's policy.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		if client != nil {
			c.client = client
		}
	}
}

// WithDefaultTimeout sets the timeout for upstreams without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChecker creates a checker guarded by breakers.
func NewChecker(breakers *breaker.Registry, opts ...Option) *Checker {
	c := &Checker{
		client:         &http.Client{},
		breakers:       breakers,
		defaultTimeout: DefaultTimeout,
		logger:         slog.Default().With("component", "healthcheck"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// 3xx answers count as healthy, so observe them instead of following.
	client := *c.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.client = &client
	return c
}

// ProbeURL joins target and path with exactly one slash.
func ProbeURL(target, path string) string {
	return strings.TrimRight(target, "/") + "/" + strings.TrimLeft(path, "/")
}

// statusError marks an answer outside [200, 400). It counts as a breaker failure.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unhealthy status %d", e.code)
}

// CheckUpstream probes u once. It never returns an error.
func (c *Checker) CheckUpstream(ctx context.Context, u model.Upstream) Result {
	res := Result{
		UpstreamID: u.ID,
		DomainID:   u.DomainID,
		Name:       u.Name,
		URL:        ProbeURL(u.TargetURL, u.HealthCheckPath),
		CheckedAt:  c.now().UTC(),
	}

	timeout := u.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	start := c.now()
	err := c.breakers.Execute(ctx, breaker.UpstreamName(u.ID), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "netpilot-healthcheck")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		res.StatusCode = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode >= 400 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	res.ResponseTime = c.now().Sub(start)

	if err != nil {
		res.Error = err.Error()
		var open *breaker.OpenError
		if errors.As(err, &open) {
			c.logger.DebugContext(ctx, "probe skipped, breaker open", "upstream_id", u.ID, "url", res.URL)
		} else {
			c.logger.DebugContext(ctx, "probe failed", "upstream_id", u.ID, "url", res.URL, "error", err)
		}
		return res
	}

	res.Healthy = true
	return res
}
