package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finsight-ai/finsight/internal/adapter/observability"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain"
	"github.com/finsight-ai/finsight/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Analyze    usecase.AnalyzeService
	Results    usecase.ResultService
	DBCheck    func(ctx context.Context) error
	QueueCheck func(ctx context.Context) error
}

// NewServer constructs a Server with all handlers and checks wired.
func NewServer(cfg config.Config, analyze usecase.AnalyzeService, results usecase.ResultService, dbCheck, queueCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Analyze: analyze, Results: results, DBCheck: dbCheck, QueueCheck: queueCheck}
}

// Router builds the chi router with the middleware stack and API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(AccessLog)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.Cfg.CORSAllowOrigins},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id", "X-User-Id"},
	}))

	r.Get("/healthz", s.HealthHandler())
	r.Get("/readyz", s.ReadyHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.Cfg.RateLimitPerMin, time.Minute))
		r.Post("/analyses", s.CreateAnalysisHandler())
		r.Get("/analyses/{id}", s.GetAnalysisHandler())
	})
	return r
}

type createAnalysisRequest struct {
	RetirementHorizonYears int     `json:"retirement_horizon_years"`
	AnnualIncomeTarget     float64 `json:"annual_income_target"`
	RiskProfile            string  `json:"risk_profile"`
}

// CreateAnalysisHandler accepts an analysis request and returns the job id.
func (s *Server) CreateAnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			writeError(w, fmt.Errorf("%w: X-User-Id header required", domain.ErrInvalidArgument), nil)
			return
		}
		var body createAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), nil)
			return
		}
		jobID, err := s.Analyze.Enqueue(r.Context(), userID, domain.AnalysisRequest{
			RetirementHorizonYears: body.RetirementHorizonYears,
			AnnualIncomeTarget:     body.AnnualIncomeTarget,
			RiskProfile:            body.RiskProfile,
		})
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": jobID, "status": string(domain.JobPending)})
	}
}

// GetAnalysisHandler returns the job document, with payloads only once the
// job completed.
func (s *Server) GetAnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		view, err := s.Results.Fetch(r.Context(), r.Header.Get("X-User-Id"), jobID)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// HealthHandler reports process liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyHandler reports dependency readiness.
func (s *Server) ReadyHandler() http.HandlerFunc {
	type check struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := []check{}
		allOK := true
		for name, fn := range map[string]func(context.Context) error{
			"db":    s.DBCheck,
			"queue": s.QueueCheck,
		} {
			ok := true
			if fn != nil {
				ok = fn(ctx) == nil
			}
			allOK = allOK && ok
			checks = append(checks, check{Name: name, OK: ok})
		}
		status := http.StatusOK
		if !allOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": allOK, "checks": checks})
	}
}
