// Package scheduler runs named recurring background tasks on a cron spec,
// with a per-run timeout and outcome logging.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task is one recurring unit of work. The context carries the per-run
// timeout; a run overshooting it is cancelled, not overlapped.
type Task func(ctx context.Context) error

type Scheduler struct {
	cron       *cron.Cron
	runTimeout time.Duration
	logger     zerolog.Logger
}

func New(runTimeout time.Duration, logger zerolog.Logger) *Scheduler {
	if runTimeout <= 0 {
		runTimeout = time.Hour
	}
	return &Scheduler{
		cron:       cron.New(),
		runTimeout: runTimeout,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Add registers a named task on a cron spec (descriptors like
// "@every 24h" included).
func (s *Scheduler) Add(spec, name string, task Task) error {
	logger := s.logger.With().Str("task", name).Logger()
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()

		started := time.Now()
		logger.Info().Msg("scheduled task started")
		if err := task(ctx); err != nil {
			logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("scheduled task failed")
			return
		}
		logger.Info().Dur("elapsed", time.Since(started)).Msg("scheduled task finished")
	})
	if err != nil {
		return fmt.Errorf("register task %s on spec %q: %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop halts scheduling and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}
