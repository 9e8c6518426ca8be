package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mastodon_archiver/internal/domain"
)

// Syncer defines the interface for archive runs.
type Syncer interface {
	Run(ctx context.Context) (*domain.RunSummary, error)
}

// Scheduler repeats archive runs on a fixed interval, one at a time.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   zerolog.Logger
}

func NewScheduler(syncer Syncer, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs immediately and then on every tick until ctx is done. A
// rejected access token stops the scheduler since no later run can succeed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")

	if err := s.runSync(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runSync(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) error {
	summary, err := s.syncer.Run(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	s.logger.Error().Err(err).Msg("archive run failed")
	if domain.IsKind(err, domain.KindAuth) {
		return fmt.Errorf("stop scheduling: %w", err)
	}
	if summary != nil {
		s.logger.Warn().Str("run_id", summary.RunID).Msg("retrying on next tick")
	}
	return nil
}
