package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"intel_fetcher/internal/domain"
	"intel_fetcher/internal/ingest"
)

// Runner defines the interface for one source's ingestion cycle.
type Runner interface {
	SourceID() string
	Run(ctx context.Context) (*domain.CycleSummary, error)
}

// Scheduler triggers every registered source on a fixed interval. Sources
// run concurrently against independent checkpoints; same-source overlap is
// refused by the runner itself.
type Scheduler struct {
	runners  []Runner
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewScheduler(runners []Runner, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runners:  runners,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "sources", len(s.runners))

	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, r := range s.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()

			cycleCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			_, err := r.Run(cycleCtx)
			switch {
			case errors.Is(err, ingest.ErrCycleInFlight):
				s.logger.Debug("cycle skipped, already in flight", "source", r.SourceID())
			case err != nil:
				s.logger.Error("cycle failed", "source", r.SourceID(), "error", err)
			}
		}(r)
	}

	wg.Wait()
}
