package job

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// Scheduler runs a job pass on a fixed interval.
type Scheduler struct {
	job      *Job
	clock    quartz.Clock
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(j *Job, clock quartz.Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Scheduler{
		job:      j,
		clock:    clock,
		interval: interval,
		logger:   j.logger.Named("scheduler"),
	}
}

// Run blocks until ctx is done. A failed pass is logged and retried on the
// next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	w := s.clock.TickerFunc(ctx, s.interval, func() error {
		if _, err := s.job.Run(ctx); err != nil {
			s.logger.Error("pass failed", zap.Error(err))
		}
		return nil
	}, "scheduler")
	err := w.Wait()
	s.logger.Info("scheduler stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
