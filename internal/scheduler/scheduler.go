package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/leadscout/internal/model"
)

// Job is one scheduled trigger. Errors are logged; the schedule keeps running.
type Job func(ctx context.Context) error

type entry struct {
	name string
	spec string
	job  Job
}

// Scheduler owns the cron loop that fires the daily cycles.
type Scheduler struct {
	cron       *cron.Cron
	entries    []entry
	runOnStart bool
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart fires every job once when Run starts, without waiting for the first tick.
func WithRunOnStart(on bool) Option {
	return func(s *Scheduler) { s.runOnStart = on }
}

// WithLocation evaluates cron specs in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.cron = cron.New(cron.WithLocation(loc))
		}
	}
}

// New creates an empty scheduler.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		running: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers job under a standard 5-field cron spec or a descriptor like "@daily".
// An invalid spec is a configuration error.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return &model.ConfigError{Field: "schedule." + name, Msg: fmt.Sprintf("invalid cron spec %q: %v", spec, err)}
	}
	s.entries = append(s.entries, entry{name: name, spec: spec, job: job})
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, e := range s.entries {
		if _, err := s.cron.AddFunc(e.spec, func() { s.fire(ctx, e) }); err != nil {
			return fmt.Errorf("cron.AddFunc %s: %w", e.name, err)
		}
		s.logger.Info("scheduled", "job", e.name, "spec", e.spec)
	}

	s.cron.Start()
	s.logger.Info("starting scheduler", "jobs", len(s.entries))

	if s.runOnStart {
		for _, e := range s.entries {
			go s.fire(ctx, e)
		}
	}

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// fire runs one job, skipping it when the previous run is still going.
func (s *Scheduler) fire(ctx context.Context, e entry) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.running[e.name] {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress, skipping", "job", e.name)
		return
	}
	s.running[e.name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, e.name)
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := e.job(ctx); err != nil {
		s.logger.Error("scheduled job failed", "job", e.name, "error", err)
		return
	}
	s.logger.Info("scheduled job finished", "job", e.name, "duration", time.Since(start).Round(time.Millisecond).String())
}
