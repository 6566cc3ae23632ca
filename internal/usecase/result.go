package usecase

import (
	"context"
	"fmt"

	"github.com/finsight-ai/finsight/internal/domain"
)

// ResultService reads analysis jobs for the API. Partial worker payloads
// are hidden until the job completes; clients only ever see a consistent
// document.
type ResultService struct {
	Jobs domain.JobRepository
}

// NewResultService constructs a ResultService.
func NewResultService(j domain.JobRepository) ResultService {
	return ResultService{Jobs: j}
}

// JobView is the API shape of a job. Payload fields are nil unless the job
// completed.
type JobView struct {
	ID          string                 `json:"id"`
	Status      domain.JobStatus       `json:"status"`
	Kind        domain.JobKind         `json:"kind"`
	Request     domain.AnalysisRequest `json:"request"`
	Narrative   *domain.Narrative      `json:"narrative,omitempty"`
	Charts      *domain.ChartSet       `json:"charts,omitempty"`
	Projections *domain.Projections    `json:"projections,omitempty"`
	Summary     *domain.Summary        `json:"summary,omitempty"`
	Error       *domain.ErrorDetail    `json:"error,omitempty"`
	CreatedAt   string                 `json:"created_at"`
	StartedAt   *string                `json:"started_at,omitempty"`
	CompletedAt *string                `json:"completed_at,omitempty"`
}

// Fetch loads a job scoped to its owner.
func (s ResultService) Fetch(ctx context.Context, userID, jobID string) (JobView, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return JobView{}, fmt.Errorf("op=result.Fetch: %w", err)
	}
	if userID != "" && job.UserID != userID {
		// Do not leak existence of other users' jobs.
		return JobView{}, fmt.Errorf("op=result.Fetch: %w", domain.ErrNotFound)
	}

	v := JobView{
		ID:        job.ID,
		Status:    job.Status,
		Kind:      job.Kind,
		Request:   job.Request,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if job.StartedAt != nil {
		t := job.StartedAt.Format("2006-01-02T15:04:05Z07:00")
		v.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := job.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		v.CompletedAt = &t
	}
	if job.Status == domain.JobCompleted {
		v.Narrative = job.Narrative
		v.Charts = job.Charts
		v.Projections = job.Projections
		v.Summary = job.Summary
	}
	return v, nil
}
