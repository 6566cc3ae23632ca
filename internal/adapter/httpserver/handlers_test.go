package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain"
	"github.com/finsight-ai/finsight/internal/usecase"
)

type stubJobs struct {
	jobs map[string]domain.Job
}

func (s *stubJobs) Create(_ context.Context, j domain.Job) (string, error) {
	j.ID = "job-1"
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *stubJobs) Get(_ context.Context, id string) (domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (s *stubJobs) SetStatus(_ context.Context, id string, status domain.JobStatus, _ domain.StatusUpdate) error {
	j := s.jobs[id]
	j.Status = status
	s.jobs[id] = j
	return nil
}

func (s *stubJobs) WritePayload(context.Context, string, domain.PayloadField, any) error { return nil }

type stubPortfolio struct{ err error }

func (s stubPortfolio) GetPortfolio(context.Context, string) (domain.Portfolio, error) {
	return domain.Portfolio{}, s.err
}

type stubQueue struct{ err error }

func (s stubQueue) EnqueueAnalysis(_ context.Context, p domain.AnalysisTaskPayload) (string, error) {
	return p.JobID, s.err
}

func testServer(t *testing.T) (*Server, *stubJobs) {
	t.Helper()
	jobs := &stubJobs{jobs: map[string]domain.Job{}}
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 1000}
	srv := NewServer(cfg,
		usecase.NewAnalyzeService(jobs, stubPortfolio{}, stubQueue{}),
		usecase.NewResultService(jobs),
		nil, nil)
	return srv, jobs
}

func TestCreateAnalysis_Accepted(t *testing.T) {
	t.Parallel()
	srv, jobs := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses",
		strings.NewReader(`{"retirement_horizon_years":20,"annual_income_target":60000,"risk_profile":"balanced"}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-1", body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, domain.JobPending, jobs.jobs["job-1"].Status)
}

func TestCreateAnalysis_RequiresUserHeader(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
}

func TestCreateAnalysis_BadJSONBody(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(`{nope`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAnalysis_UnknownUserIs404(t *testing.T) {
	t.Parallel()
	jobs := &stubJobs{jobs: map[string]domain.Job{}}
	srv := NewServer(config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 1000},
		usecase.NewAnalyzeService(jobs, stubPortfolio{err: domain.ErrNotFound}, stubQueue{}),
		usecase.NewResultService(jobs), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(`{}`))
	req.Header.Set("X-User-Id", "ghost")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAnalysis_CompletedDocument(t *testing.T) {
	t.Parallel()
	srv, jobs := testServer(t)
	now := time.Now().UTC()
	jobs.jobs["job-1"] = domain.Job{
		ID: "job-1", UserID: "u1", Kind: domain.JobKindPortfolioAnalysis,
		Status:    domain.JobCompleted,
		Narrative: &domain.Narrative{Text: "Executive Summary..."},
		Summary:   &domain.Summary{TotalValue: 4000, Headline: "Portfolio of 4000.00"},
		CreatedAt: now, CompletedAt: &now,
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/job-1", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view usecase.JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.JobCompleted, view.Status)
	require.NotNil(t, view.Summary)
	assert.InDelta(t, 4000, view.Summary.TotalValue, 0.001)
}

func TestGetAnalysis_ForeignJobIs404(t *testing.T) {
	t.Parallel()
	srv, jobs := testServer(t)
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner", Status: domain.JobCompleted}

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/job-1", nil)
	req.Header.Set("X-User-Id", "intruder")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()
	jobs := &stubJobs{jobs: map[string]domain.Job{}}
	dbDown := errors.New("db unreachable")
	srv := NewServer(config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 1000},
		usecase.NewAnalyzeService(jobs, stubPortfolio{}, stubQueue{}),
		usecase.NewResultService(jobs),
		func(context.Context) error { return dbDown },
		func(context.Context) error { return nil })
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
}

func TestRequestIDEchoed(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-abc")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-Id"))
}

func TestRecovererTurnsPanicInto500(t *testing.T) {
	t.Parallel()
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
