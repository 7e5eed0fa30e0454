// Package retention implements the idle-conversation sweeper. On a cron
// schedule it deletes conversations whose UpdatedAt is older than the
// configured idle age, cascading to their messages.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/soga/internal/config"
)

// Purger deletes idle conversations. Implemented by the storage backends.
type Purger interface {
	PurgeIdleConversations(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs the retention schedule as a background job.
type Sweeper struct {
	store  Purger
	cfg    *config.RetentionConfig
	logger *slog.Logger
	cron   *cron.Cron
}

// New creates a Sweeper. A nil or disabled config yields a no-op sweeper.
func New(store Purger, cfg *config.RetentionConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Start schedules the sweep and runs one immediately to catch up after
// downtime. Returns a stop function.
func (s *Sweeper) Start(ctx context.Context) (func(), error) {
	if s.cfg == nil || !s.cfg.Enabled {
		return func() {}, nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.CronSchedule(), func() { s.Sweep(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", s.cfg.CronSchedule(), err)
	}
	s.cron.Start()

	s.logger.Info("retention sweeper started",
		slog.String("schedule", s.cfg.CronSchedule()),
		slog.Duration("max_idle", s.cfg.MaxIdle()),
	)

	s.Sweep(ctx)

	return func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("retention sweeper stopped")
	}, nil
}

// Sweep deletes conversations idle longer than the configured age.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxIdle())

	purged, err := s.store.PurgeIdleConversations(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "retention sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if purged > 0 {
		s.logger.InfoContext(ctx, "retention sweep completed",
			slog.Int64("purged", purged),
			slog.Time("cutoff", cutoff),
		)
	}
}
