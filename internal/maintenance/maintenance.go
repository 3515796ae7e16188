// Package maintenance runs periodic housekeeping jobs.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dukerupert/herald/internal/metrics"
)

// ExpiredDeleter removes notifications whose expiry has passed.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Scheduler struct {
	cron     gocron.Scheduler
	store    ExpiredDeleter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

func New(store ExpiredDeleter, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron,
		store:    store,
		metrics:  m,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Start registers the jobs and starts the scheduler. The first sweep runs
// immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.CollectExpired(ctx) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// CollectExpired deletes every notification that has expired by now.
func (s *Scheduler) CollectExpired(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("delete expired notifications", "error", err)
		return 0
	}
	s.metrics.ObserveExpired(n)
	if n > 0 {
		s.logger.Info("deleted expired notifications", "count", n)
	}
	return n
}
