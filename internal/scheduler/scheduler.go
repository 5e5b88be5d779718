// Package scheduler runs periodic fuel price updates.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// DefaultTick is the default interval between update runs.
const DefaultTick = time.Minute

const jobName = "update-providers"

// Updater is the orchestrator operation run on every tick.
type Updater interface {
	Update(ctx context.Context, force bool) error
}

// Scheduler calls Update on every tick. Providers decide themselves whether
// they are due, so the tick only bounds how late an update may start.
type Scheduler struct {
	updater Updater
	tick    time.Duration
	logger  zerolog.Logger

	mu        sync.RWMutex
	job       gocron.Job
	lastRunAt *time.Time
	running   bool
}

// New creates a new Scheduler.
func New(u Updater, tick time.Duration, logger zerolog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		updater: u,
		tick:    tick,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler and blocks until the context is cancelled.
// The first run starts immediately; runs never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	j, err := cron.NewJob(
		gocron.DurationJob(s.tick),
		gocron.NewTask(func() { s.runUpdate(ctx) }),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("creating %s job: %w", jobName, err)
	}

	s.mu.Lock()
	s.job = j
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Dur("tick", s.tick).Msg("starting scheduler")
	cron.Start()

	<-ctx.Done()

	if err := cron.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("scheduler shutdown error")
	}
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runUpdate(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	s.lastRunAt = &now
	s.mu.Unlock()

	s.logger.Debug().Msg("running scheduled update")
	if err := s.updater.Update(ctx, false); err != nil {
		s.logger.Error().Err(err).Msg("scheduled update failed")
		return
	}
	s.logger.Debug().Dur("duration", time.Since(now)).Msg("scheduled update completed")
}

// NextRunAt returns the time of the next scheduled run, or the zero time if
// the scheduler is not running.
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.RLock()
	j, running := s.job, s.running
	s.mu.RUnlock()
	if j == nil || !running {
		return time.Time{}
	}
	next, err := j.NextRun()
	if err != nil {
		return time.Time{}
	}
	return next
}

// LastRunAt returns the start time of the last run.
func (s *Scheduler) LastRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
