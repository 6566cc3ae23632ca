// Package usecase contains application services bridging HTTP handlers and
// the domain ports.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight-ai/finsight/internal/adapter/observability"
	"github.com/finsight-ai/finsight/internal/domain"
)

// AnalyzeService creates analysis jobs and hands them to the queue.
type AnalyzeService struct {
	Jobs       domain.JobRepository
	Portfolios domain.PortfolioRepository
	Queue      domain.Queue
}

// NewAnalyzeService constructs an AnalyzeService with its dependencies.
func NewAnalyzeService(j domain.JobRepository, p domain.PortfolioRepository, q domain.Queue) AnalyzeService {
	return AnalyzeService{Jobs: j, Portfolios: p, Queue: q}
}

// Enqueue validates the request, verifies the user has holdings, creates a
// pending job, and enqueues the analysis task. An enqueue failure fails the
// job immediately so the client never waits on a task that was never queued.
func (s AnalyzeService) Enqueue(ctx context.Context, userID string, req domain.AnalysisRequest) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if req.RetirementHorizonYears < 0 {
		return "", fmt.Errorf("%w: retirement horizon must not be negative", domain.ErrInvalidArgument)
	}
	if req.AnnualIncomeTarget < 0 {
		return "", fmt.Errorf("%w: income target must not be negative", domain.ErrInvalidArgument)
	}

	if _, err := s.Portfolios.GetPortfolio(ctx, userID); err != nil {
		return "", fmt.Errorf("op=analyze.Enqueue: %w", err)
	}

	now := time.Now().UTC()
	j := domain.Job{
		UserID:    userID,
		Kind:      domain.JobKindPortfolioAnalysis,
		Status:    domain.JobPending,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	jobID, err := s.Jobs.Create(ctx, j)
	if err != nil {
		return "", fmt.Errorf("op=analyze.Enqueue: %w", err)
	}

	payload := domain.AnalysisTaskPayload{
		JobID:     jobID,
		UserID:    userID,
		RequestID: observability.RequestIDFromContext(ctx),
		Attempt:   1,
	}
	if _, err := s.Queue.EnqueueAnalysis(ctx, payload); err != nil {
		detail := &domain.ErrorDetail{Kind: domain.KindInternal, Message: "enqueue failed"}
		if serr := s.Jobs.SetStatus(ctx, jobID, domain.JobFailed, domain.StatusUpdate{Error: detail}); serr != nil {
			slog.Error("failed to mark unqueued job failed",
				slog.String("job_id", jobID), slog.Any("error", serr))
		}
		return "", fmt.Errorf("op=analyze.Enqueue: %w", err)
	}
	return jobID, nil
}
