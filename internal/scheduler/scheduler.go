// Package scheduler is the periodic trigger for worker passes.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"SendQueue/internal/metrics"
	"SendQueue/internal/worker"
)

const TriggerPeriodic = "periodic"

// Processor is satisfied by *worker.Processor.
type Processor interface {
	Run(ctx context.Context, limit int) (worker.Summary, error)
}

type Scheduler struct {
	proc     Processor
	interval time.Duration
	limit    int
	log      *zap.Logger
	metrics  *metrics.Collector
}

func New(proc Processor, interval time.Duration, limit int, log *zap.Logger, m *metrics.Collector) (*Scheduler, error) {
	if proc == nil {
		return nil, errors.New("scheduler: processor is required")
	}
	if interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Scheduler{proc: proc, interval: interval, limit: limit, log: log, metrics: m}, nil
}

// Start runs a pass immediately and then once per interval until ctx is
// cancelled. A slow pass delays the next tick rather than overlapping it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("scheduler started", zap.Duration("interval", s.interval), zap.Int("limit", s.limit))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	sum, err := s.proc.Run(ctx, s.limit)
	s.metrics.Run(TriggerPeriodic, time.Since(start))

	if err != nil {
		s.log.Error("scheduled pass failed",
			zap.String("kind", worker.KindOf(err).String()),
			zap.Error(err),
		)
		return
	}
	if sum.Processed > 0 || sum.Skipped > 0 {
		s.log.Debug("scheduled pass finished", zap.Int("processed", sum.Processed))
	}
}
