// Package maintenance runs the periodic housekeeping jobs of the ledger:
// daily backups, WAL checkpoints and cache eviction sweeps.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mmynk/tatekae/internal/metrics"
)

// JobFunc is one unit of maintenance work.
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules. A job whose previous run is
// still in progress is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]JobFunc
}

// New creates a Scheduler evaluating schedules in loc. Each run gets a
// context that is cancelled after timeout.
func New(loc *time.Location, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: timeout,
		jobs:    make(map[string]JobFunc),
	}
}

// Add registers a job under a standard five-field cron spec or a descriptor
// such as "@hourly". An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	s.jobs[name] = fn
	if spec == "" {
		s.logger.Info("Maintenance job disabled", "job", name)
		return nil
	}

	if _, err := s.cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	s.logger.Info("Maintenance job scheduled", "job", name, "schedule", spec)
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return s.run(name, fn)
}

func (s *Scheduler) run(name string, fn JobFunc) error {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	metrics.RecordJobRun(name, duration, err == nil)

	if err != nil {
		s.logger.Error("Maintenance job failed", "job", name, "duration_ms", duration.Milliseconds(), "error", err)
		return err
	}
	s.logger.Debug("Maintenance job finished", "job", name, "duration_ms", duration.Milliseconds())
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
