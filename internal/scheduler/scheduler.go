package scheduler

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// MinSweepInterval floors how often the sweep may run. Staleness thresholds
// are hours, so sweeping more often than once a minute buys nothing.
const MinSweepInterval = time.Minute

// Sweeper periodically runs a background sweep function, used to re-evaluate
// lake staleness between refreshes.
type Sweeper struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	sweep     func()
	log       *slog.Logger
}

// New creates a new Sweeper. Intervals below MinSweepInterval are raised.
func New(interval time.Duration, sweep func(), log *slog.Logger) *Sweeper {
	if interval < MinSweepInterval {
		interval = MinSweepInterval
	}
	return &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
		sweep:     sweep,
		log:       log,
	}
}

// Start schedules the periodic sweep and starts the underlying scheduler.
func (s *Sweeper) Start() error {
	if s.sweep == nil {
		s.log.Warn("no sweep function configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(s.sweep)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Debug("staleness sweep scheduled", "interval", s.interval.String())
	return nil
}

// Stop stops the scheduler and cancels any future sweeps.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
