package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"netpilot-hq/netpilot/pkg/telemetry/metrics"
)

var (
	// ErrUnknownJob is returned by RunNow for a name that was never added.
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobRunning is returned by RunNow while the job is already running.
	ErrJobRunning = errors.New("job already running")
)

// Job is a named unit of background work.
type Job struct {
	Name string

	// Spec is a standard cron expression or descriptor such as
	// "@every 60s". An empty Spec disables the job.
	Spec string

	Run func(ctx context.Context) error
}

// JobStatus describes a job for the admin API.
type JobStatus struct {
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	Next         *time.Time    `json:"next,omitempty"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int64         `json:"runs"`
	Running      bool          `json:"running"`
}

type job struct {
	Job
	id      cron.EntryID
	running atomic.Bool

	mu           sync.Mutex
	runs         int64
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records job runs in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.metrics = c
	}
}

// WithLocation evaluates schedules in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// Scheduler runs jobs on cron schedules.
type Scheduler struct {
	cron     *cron.Cron
	logger   *slog.Logger
	metrics  *metrics.Collector
	location *time.Location

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	running bool
}

// New creates a scheduler. Jobs are added with Add before Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   slog.Default().With("component", "scheduler"),
		location: time.Local,
		jobs:     make(map[string]*job),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Add registers j. A job with an empty Spec is kept for RunNow but never
// scheduled.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" {
		return errors.New("job name is required")
	}
	if j.Run == nil {
		return fmt.Errorf("job %q has no function", j.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("job %q already added", j.Name)
	}

	entry := &job{Job: j}
	if j.Spec != "" {
		schedule, err := cron.ParseStandard(j.Spec)
		if err != nil {
			return fmt.Errorf("invalid cron schedule %q for job %q: %w", j.Spec, j.Name, err)
		}
		entry.id = s.cron.Schedule(schedule, cron.FuncJob(func() {
			s.run(s.baseContext(), entry)
		}))
	} else {
		s.logger.Info("job schedule not configured, job runs on demand only", "job", j.Name)
	}

	s.jobs[j.Name] = entry
	return nil
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Start runs the schedules until ctx is cancelled or Stop is called. Jobs
// receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}
	s.ctx = ctx
	s.cron.Start()
	s.running = true

	names := make([]string, 0, len(s.jobs))
	for name, j := range s.jobs {
		if j.Spec != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	s.logger.Info("scheduler started", "jobs", names)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the schedules and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the schedules are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs the named job synchronously. It fails with ErrJobRunning
// when a scheduled run is in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.run(ctx, j) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// run executes j unless it is already running and reports whether it ran.
func (s *Scheduler) run(ctx context.Context, j *job) bool {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Warn("job still running, skipping run", "job", j.Name)
		s.metrics.RecordJobRun(j.Name, "skipped", 0)
		return false
	}
	defer j.running.Store(false)

	start := time.Now()
	s.logger.Debug("job started", "job", j.Name)
	err := j.Run(ctx)
	elapsed := time.Since(start)

	j.mu.Lock()
	j.runs++
	j.lastRun = start
	j.lastDuration = elapsed
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", j.Name, "duration_ms", elapsed.Milliseconds(), "error", err)
		s.metrics.RecordJobRun(j.Name, "failed", elapsed)
		return true
	}
	s.logger.Debug("job completed", "job", j.Name, "duration_ms", elapsed.Milliseconds())
	s.metrics.RecordJobRun(j.Name, "success", elapsed)
	return true
}

// Status returns every job sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			Name:    j.Name,
			Spec:    j.Spec,
			Running: j.running.Load(),
		}
		if j.Spec != "" {
			if next := s.cron.Entry(j.id).Next; !next.IsZero() {
				st.Next = &next
			}
		}

		j.mu.Lock()
		st.Runs = j.runs
		if !j.lastRun.IsZero() {
			last := j.lastRun
			st.LastRun = &last
			st.LastDuration = j.lastDuration
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()

		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// NextRun returns the next scheduled run of the named job.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok || j.Spec == "" {
		return nil
	}
	next := s.cron.Entry(j.id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
