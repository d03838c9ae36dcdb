package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Roller is the store-side rollup operation the scheduler drives.
type Roller interface {
	RecomputeDay(ctx context.Context, day time.Time) (int, error)
}

// RollupScheduler recomputes daily summaries on a cron schedule. Each run
// recomputes the current and the previous UTC day, so records that landed
// just before midnight are folded into the right summary on the next run.
type RollupScheduler struct {
	store    Roller
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	logger   *slog.Logger
}

// NewRollupScheduler creates a rollup scheduler with a cron expression,
// e.g. "15 0 * * *" for daily at 00:15 UTC.
func NewRollupScheduler(store Roller, schedule string) *RollupScheduler {
	return &RollupScheduler{
		store:    store,
		schedule: schedule,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		logger:   slog.Default().With("component", "usage.rollup"),
	}
}

// Start begins scheduled rollups. An empty schedule disables the scheduler.
func (s *RollupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("rollup schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid rollup schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runRollup(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling rollup: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("rollup scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce recomputes the summaries for the given day immediately.
func (s *RollupScheduler) RunOnce(ctx context.Context, day time.Time) (int, error) {
	return s.store.RecomputeDay(ctx, day)
}

func (s *RollupScheduler) runRollup(ctx context.Context) {
	now := time.Now().UTC()
	for _, day := range []time.Time{now.Add(-24 * time.Hour), now} {
		written, err := s.store.RecomputeDay(ctx, day)
		if err != nil {
			s.logger.Error("rollup failed", "day", Day(day).Format("2006-01-02"), "error", err)
			continue
		}
		s.logger.Info("rollup completed",
			"day", Day(day).Format("2006-01-02"),
			"summaries", written,
		)
	}
}

// Stop stops the scheduler and waits for a running rollup to finish.
func (s *RollupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("rollup scheduler stopped")
	}
}
