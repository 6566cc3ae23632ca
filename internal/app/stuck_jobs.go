// Package app holds process-level helpers shared by the server and worker
// binaries.
package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// StuckJobFailer marks running jobs older than a cutoff as failed.
// *postgres.JobRepo is the production implementation.
type StuckJobFailer interface {
	FailStuck(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StuckJobSweeper periodically reaps running jobs whose worker died. Without
// it a crashed worker leaves jobs in running forever, since the queue record
// was already committed.
type StuckJobSweeper struct {
	jobs     StuckJobFailer
	maxAge   time.Duration
	interval time.Duration
}

// NewStuckJobSweeper constructs a sweeper; zero durations get safe defaults.
func NewStuckJobSweeper(jobs StuckJobFailer, maxAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{jobs: jobs, maxAge: maxAge, interval: interval}
}

// Run sweeps until ctx is cancelled. The first sweep happens immediately.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	n, err := s.jobs.FailStuck(ctx, s.maxAge)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int64("jobs.marked_failed", n))
	if n > 0 {
		slog.Warn("stuck jobs marked failed",
			slog.Int64("count", n),
			slog.Duration("max_age", s.maxAge))
	}
}
