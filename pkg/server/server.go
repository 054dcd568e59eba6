package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/certs"
	"netpilot-hq/netpilot/pkg/config"
	"netpilot-hq/netpilot/pkg/healthcheck"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/reconcile"
	"netpilot-hq/netpilot/pkg/scheduler"
	"netpilot-hq/netpilot/pkg/store"
	"netpilot-hq/netpilot/pkg/telemetry/health"
	"netpilot-hq/netpilot/pkg/telemetry/metrics"
	"netpilot-hq/netpilot/pkg/telemetry/tracing"
)

// Reconciler is the part of the engine the API triggers.
type Reconciler interface {
	ReconcileAll(ctx context.Context, scope model.Scope) (*reconcile.Report, error)
	ReconcileDomain(ctx context.Context, scope model.Scope, domainID int64) (*reconcile.Report, error)
	Render(ctx context.Context, scope model.Scope, domainID int64) ([]byte, []reconcile.Skipped, error)
}

// Certificates is the part of the lifecycle manager the API triggers.
type Certificates interface {
	Issue(ctx context.Context, scope model.Scope, certID int64) (*model.Certificate, error)
	Reset(ctx context.Context, scope model.Scope, certID int64) (*model.Certificate, error)
}

// UpstreamHealth serves the latest probe results.
type UpstreamHealth interface {
	Snapshot() []healthcheck.Result
	DomainSnapshot(domainID int64) []healthcheck.Result
}

// Jobs exposes the scheduler.
type Jobs interface {
	Status() []scheduler.JobStatus
	RunNow(ctx context.Context, name string) error
}

// Trigger queues an asynchronous reconcile.
type Trigger interface {
	Fire()
}

// Deps are the components behind the routes. Routes whose component is
// nil answer 404.
type Deps struct {
	Health       *health.Checker
	Metrics      *metrics.Collector
	Ledger       *ledger.Ledger
	Breakers     *breaker.Registry
	Upstreams    UpstreamHealth
	Reconciler   Reconciler
	Trigger      Trigger
	Certificates Certificates
	CertStore    store.CertificateStore
	Jobs         Jobs
	Tracer       *tracing.Tracer

	Version health.VersionInfo
}

// Server is the admin HTTP server.
type Server struct {
	config     *config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server

	mu           sync.RWMutex
	isRunning    bool
	shutdownOnce sync.Once
}

// New creates a server. Call Start to listen.
func New(cfg *config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(recoverer(s.logger))
	if s.deps.Tracer != nil {
		r.Use(s.deps.Tracer.Middleware)
	}
	r.Use(requestLogger(s.logger))

	h := &handlers{deps: s.deps, logger: s.logger}

	if s.deps.Health != nil {
		r.Get("/health", s.deps.Health.LivenessHandler())
		r.Get("/ready", s.deps.Health.ReadinessHandler())
	}
	r.Get("/version", h.version)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.config.WriteTimeout > 0 {
			r.Use(middleware.Timeout(s.config.WriteTimeout))
		}
		if s.deps.Reconciler != nil {
			r.Post("/reconcile", h.reconcile)
			r.Get("/domains/{id}/render", h.render)
		}
		if s.deps.Ledger != nil {
			r.Get("/ledger", h.listLedger)
			r.Get("/ledger/{id}", h.getLedger)
		}
		if s.deps.Breakers != nil {
			r.Get("/breakers", h.listBreakers)
			r.Post("/breakers/{name}/reset", h.resetBreaker)
		}
		if s.deps.Upstreams != nil {
			r.Get("/upstreams/health", h.upstreamHealth)
		}
		if s.deps.CertStore != nil {
			r.Get("/certificates", h.listCertificates)
		}
		if s.deps.Certificates != nil {
			r.Post("/certificates/{id}/issue", h.issueCertificate)
			r.Post("/certificates/{id}/reset", h.resetCertificate)
		}
		if s.deps.Jobs != nil {
			r.Get("/jobs", h.listJobs)
			r.Post("/jobs/{name}/run", h.runJob)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start listens and serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown stops the server gracefully within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultServerShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("admin server stopped")
	})
	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Interface checks.
var (
	_ Reconciler     = (*reconcile.Engine)(nil)
	_ Certificates   = (*certs.Manager)(nil)
	_ Jobs           = (*scheduler.Scheduler)(nil)
	_ Trigger        = (*scheduler.Trigger)(nil)
	_ UpstreamHealth = (*healthcheck.Monitor)(nil)
)
