// Package scheduler runs periodic resume jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"xscrap/pkg/logger"
)

// Job is one scheduled unit of work
type Job func(ctx context.Context) error

// JobInfo describes a registered job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// Scheduler manages named periodic jobs. A job whose previous run is still
// in progress is skipped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	running map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler in the given timezone. timeout bounds each job
// run; zero means no bound.
func New(timezone string, timeout time.Duration, log logger.Logger) (*Scheduler, error) {
	if timezone == "" {
		timezone = "Local"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		timezone: loc,
		timeout:  timeout,
		logger:   log.WithField("component", "scheduler"),
		jobs:     make(map[string]cron.EntryID),
		running:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	return s, nil
}

// AddJob registers job under name on a standard five-field cron schedule
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	s.logger.InfoWithFields("Job added", map[string]interface{}{
		"job":      name,
		"schedule": schedule,
	})
	return nil
}

// RemoveJob unregisters name. A run already in progress is not interrupted.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.WithField("job", name).Info("Job removed")
	}
}

// RunNow runs the job registered as name immediately, subject to the same
// overlap rule as scheduled runs. It reports whether the job ran.
func (s *Scheduler) RunNow(name string, job Job) (bool, error) {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) (bool, error) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.WithField("job", name).Info("Previous run still in progress, skipping")
		return false, nil
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := s.logger.WithField("job", name)
	log.Info("Job started")
	start := time.Now()

	if err := job(ctx); err != nil {
		log.WithError(err).Error("Job failed")
		return true, err
	}
	log.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("Job completed")
	return true, nil
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	logger.LogComponentStart(s.logger, "scheduler", map[string]interface{}{
		"timezone": s.timezone.String(),
		"jobs":     len(s.jobs),
	})
	s.cron.Start()
}

// Stop cancels running jobs and returns a context that is done once they
// have returned
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	logger.LogComponentStop(s.logger, "scheduler", "stopped")
	return s.cron.Stop()
}

// ListJobs returns the registered jobs with their next and previous runs
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}
	return infos
}

// ValidateSchedule reports whether spec parses as a five-field cron schedule
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// cronLogger adapts logger.Logger to cron.Logger
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.DebugWithFields(msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithError(err).ErrorWithFields(msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
