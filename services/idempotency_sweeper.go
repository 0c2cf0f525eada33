package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/match-engine/repositories"
	"github.com/go-co-op/gocron/v2"
)

// IdempotencySweeper periodically drops idempotency records past their retention window.
type IdempotencySweeper struct {
	scheduler gocron.Scheduler
	store     repositories.IdempotencyStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewIdempotencySweeper(store repositories.IdempotencyStore, interval time.Duration, logger *slog.Logger) (*IdempotencySweeper, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &IdempotencySweeper{scheduler: sched, store: store, logger: logger, now: time.Now}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := s.SweepOnce(context.Background()); err != nil {
				s.logger.Error("idempotency sweep failed", slog.Any("error", err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule idempotency sweep: %w", err)
	}
	return s, nil
}

func (s *IdempotencySweeper) Start() {
	s.scheduler.Start()
	s.logger.Info("idempotency sweeper started")
}

func (s *IdempotencySweeper) Stop() error {
	return s.scheduler.Shutdown()
}

// SweepOnce purges expired records and returns how many were removed.
func (s *IdempotencySweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired idempotency records purged", slog.Int64("count", n))
	}
	return n, nil
}
