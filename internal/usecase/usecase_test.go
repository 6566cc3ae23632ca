package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/domain"
)

type memJobs struct {
	jobs    map[string]domain.Job
	nextErr error
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]domain.Job{}} }

func (m *memJobs) Create(_ context.Context, j domain.Job) (string, error) {
	if m.nextErr != nil {
		return "", m.nextErr
	}
	j.ID = fmt.Sprintf("job-%d", len(m.jobs)+1)
	m.jobs[j.ID] = j
	return j.ID, nil
}

func (m *memJobs) Get(_ context.Context, id string) (domain.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (m *memJobs) SetStatus(_ context.Context, id string, status domain.JobStatus, ts domain.StatusUpdate) error {
	j := m.jobs[id]
	j.Status = status
	if ts.Error != nil {
		j.Error = ts.Error
	}
	m.jobs[id] = j
	return nil
}

func (m *memJobs) WritePayload(_ context.Context, id string, field domain.PayloadField, value any) error {
	return nil
}

type memPortfolio struct{ err error }

func (m memPortfolio) GetPortfolio(context.Context, string) (domain.Portfolio, error) {
	return domain.Portfolio{}, m.err
}

type memQueue struct {
	enqueued []domain.AnalysisTaskPayload
	err      error
}

func (m *memQueue) EnqueueAnalysis(_ context.Context, p domain.AnalysisTaskPayload) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.enqueued = append(m.enqueued, p)
	return p.JobID, nil
}

func TestEnqueue_CreatesPendingJobAndQueuesTask(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	q := &memQueue{}
	svc := NewAnalyzeService(jobs, memPortfolio{}, q)

	id, err := svc.Enqueue(context.Background(), "u1", domain.AnalysisRequest{
		RetirementHorizonYears: 20, AnnualIncomeTarget: 60000, RiskProfile: "balanced",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	j := jobs.jobs[id]
	assert.Equal(t, domain.JobPending, j.Status)
	assert.Equal(t, domain.JobKindPortfolioAnalysis, j.Kind)
	assert.Equal(t, 20, j.Request.RetirementHorizonYears)

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, id, q.enqueued[0].JobID)
	assert.Equal(t, "u1", q.enqueued[0].UserID)
	assert.Equal(t, 1, q.enqueued[0].Attempt)
}

func TestEnqueue_RejectsInvalidArguments(t *testing.T) {
	t.Parallel()
	svc := NewAnalyzeService(newMemJobs(), memPortfolio{}, &memQueue{})

	cases := map[string]struct {
		userID string
		req    domain.AnalysisRequest
	}{
		"no user":           {userID: "", req: domain.AnalysisRequest{}},
		"negative horizon":  {userID: "u1", req: domain.AnalysisRequest{RetirementHorizonYears: -1}},
		"negative target":   {userID: "u1", req: domain.AnalysisRequest{AnnualIncomeTarget: -100}},
	}
	for name, tc := range cases {
		_, err := svc.Enqueue(context.Background(), tc.userID, tc.req)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, name)
	}
}

func TestEnqueue_UnknownUserSurfacesNotFound(t *testing.T) {
	t.Parallel()
	svc := NewAnalyzeService(newMemJobs(), memPortfolio{err: domain.ErrNotFound}, &memQueue{})

	_, err := svc.Enqueue(context.Background(), "ghost", domain.AnalysisRequest{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnqueue_QueueFailureFailsJob(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	svc := NewAnalyzeService(jobs, memPortfolio{}, &memQueue{err: errors.New("broker down")})

	_, err := svc.Enqueue(context.Background(), "u1", domain.AnalysisRequest{})
	require.Error(t, err)

	// The created job must not linger as pending.
	require.Len(t, jobs.jobs, 1)
	for _, j := range jobs.jobs {
		assert.Equal(t, domain.JobFailed, j.Status)
		require.NotNil(t, j.Error)
		assert.Equal(t, domain.KindInternal, j.Error.Kind)
	}
}

func completedJob() domain.Job {
	now := time.Now().UTC()
	started := now.Add(-time.Minute)
	return domain.Job{
		ID: "job-1", UserID: "u1", Kind: domain.JobKindPortfolioAnalysis,
		Status:      domain.JobCompleted,
		Narrative:   &domain.Narrative{Text: "Executive Summary..."},
		Charts:      &domain.ChartSet{},
		Projections: &domain.Projections{SuccessProbability: 70},
		Summary:     &domain.Summary{TotalValue: 4000},
		CreatedAt:   started, StartedAt: &started, CompletedAt: &now,
	}
}

func TestFetch_CompletedJobExposesPayloads(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	jobs.jobs["job-1"] = completedJob()
	svc := NewResultService(jobs)

	v, err := svc.Fetch(context.Background(), "u1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, v.Status)
	require.NotNil(t, v.Narrative)
	require.NotNil(t, v.Summary)
	require.NotNil(t, v.StartedAt)
	require.NotNil(t, v.CompletedAt)
}

func TestFetch_RunningJobHidesPartialPayloads(t *testing.T) {
	t.Parallel()
	j := completedJob()
	j.Status = domain.JobRunning
	j.CompletedAt = nil
	jobs := newMemJobs()
	jobs.jobs["job-1"] = j
	svc := NewResultService(jobs)

	v, err := svc.Fetch(context.Background(), "u1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, v.Status)
	assert.Nil(t, v.Narrative, "partial writes must stay invisible")
	assert.Nil(t, v.Charts)
	assert.Nil(t, v.Projections)
	assert.Nil(t, v.Summary)
}

func TestFetch_OwnerScoping(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	jobs.jobs["job-1"] = completedJob()
	svc := NewResultService(jobs)

	_, err := svc.Fetch(context.Background(), "someone-else", "job-1")
	require.ErrorIs(t, err, domain.ErrNotFound, "foreign jobs look like missing jobs")

	_, err = svc.Fetch(context.Background(), "u1", "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetch_FailedJobExposesError(t *testing.T) {
	t.Parallel()
	j := completedJob()
	j.Status = domain.JobFailed
	j.Narrative = nil
	j.Error = &domain.ErrorDetail{Kind: domain.KindTimeout, Message: "job deadline exceeded"}
	jobs := newMemJobs()
	jobs.jobs["job-1"] = j
	svc := NewResultService(jobs)

	v, err := svc.Fetch(context.Background(), "u1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, v.Status)
	require.NotNil(t, v.Error)
	assert.Equal(t, domain.KindTimeout, v.Error.Kind)
	assert.Nil(t, v.Summary)
}
