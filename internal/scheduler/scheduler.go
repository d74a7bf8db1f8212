// Package scheduler runs recurring background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/nownext/internal/observability"
)

// ErrUnknownJob is returned for a job name that was never added.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// JobFunc is the body of a job. ctx is cancelled when the scheduler stops.
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on 5-field cron expressions. A job whose previous
// run has not finished is skipped rather than run twice.
type Scheduler struct {
	mu sync.RWMutex

	cron   *cron.Cron
	parser cron.Parser
	jobs   map[string]*job
	logger *slog.Logger

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	name    string
	expr    string
	fn      JobFunc
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// JobStatus describes a job.
type JobStatus struct {
	Name    string
	Expr    string
	Running bool
	LastRun time.Time
	LastErr error
	NextRun time.Time
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		parser: parser,
		jobs:   make(map[string]*job),
		logger: observability.WithComponent(slog.Default(), "scheduler"),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "scheduler")
	return s
}

// Add registers fn to run on expr. Names must be unique.
func (s *Scheduler) Add(name, expr string, fn JobFunc) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already added", name)
	}
	j := &job{name: name, expr: expr, fn: fn}
	j.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(j) }))
	s.jobs[name] = j
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops the schedule and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// RunNow runs a job immediately, outside its schedule. It returns false if
// the job was already running.
func (s *Scheduler) RunNow(name string) (bool, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(j), nil
}

// Status returns the state of every job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out = append(out, JobStatus{
			Name:    j.name,
			Expr:    j.expr,
			Running: j.running,
			LastRun: j.lastRun,
			LastErr: j.lastErr,
			NextRun: s.cron.Entry(j.entryID).Next,
		})
		j.mu.Unlock()
	}
	return out
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// run executes j unless it is already running. It reports whether it ran.
func (s *Scheduler) run(j *job) bool {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.logger.Debug("skipping job, previous run still active", slog.String("job", j.name))
		return false
	}
	j.running = true
	j.mu.Unlock()

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	defer s.wg.Done()

	var err error
	done := observability.TimedOperationWithError(ctx, s.logger.With(slog.String("job", j.name)), "scheduled_job", &err)
	err = j.fn(ctx)
	done()

	j.mu.Lock()
	j.running = false
	j.lastRun = time.Now()
	j.lastErr = err
	j.mu.Unlock()
	return true
}
