// Package domain holds the core entities, payload types, and ports of the
// analysis platform. Adapters depend on this package, never the reverse.
package domain

import (
	"context"
	"math"
	"time"
)

// JobKind enumerates job kinds. Rebalance is a reserved extension point and
// shares the portfolio_analysis state machine.
type JobKind string

const (
	JobKindPortfolioAnalysis JobKind = "portfolio_analysis"
	JobKindRebalance         JobKind = "rebalance"
)

// JobStatus is the lifecycle state of a job. Terminal states are absorbing.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// PayloadField names one of the four independent job result payloads.
type PayloadField string

const (
	PayloadNarrative   PayloadField = "narrative"
	PayloadCharts      PayloadField = "charts"
	PayloadProjections PayloadField = "projections"
	PayloadSummary     PayloadField = "summary"
)

// ErrorDetail is populated iff a job is failed.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// AnalysisRequest is the structured input snapshot captured at job creation.
type AnalysisRequest struct {
	RetirementHorizonYears int     `json:"retirement_horizon_years"`
	AnnualIncomeTarget     float64 `json:"annual_income_target"`
	RiskProfile            string  `json:"risk_profile"`
}

// Job is the durable record of one analysis request and its outcome.
//
// Invariants:
//   - status=completed implies all four payloads non-nil and valid.
//   - status=failed implies Error non-nil.
//   - StartedAt <= CompletedAt when both present.
type Job struct {
	ID          string
	UserID      string
	Kind        JobKind
	Status      JobStatus
	Request     AnalysisRequest
	Narrative   *Narrative
	Charts      *ChartSet
	Projections *Projections
	Summary     *Summary
	Error       *ErrorDetail
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Narrative is the Narrator's payload.
type Narrative struct {
	Text         string   `json:"text"`
	Sections     []string `json:"sections"`
	QualityScore float64  `json:"quality_score"`
}

// ChartType enumerates the chart shapes the frontend understands.
type ChartType string

const (
	ChartPie           ChartType = "pie"
	ChartDonut         ChartType = "donut"
	ChartBar           ChartType = "bar"
	ChartHorizontalBar ChartType = "horizontal_bar"
	ChartLine          ChartType = "line"
)

// ChartDatum is one labelled value in a chart series.
type ChartDatum struct {
	Label string  `json:"label" validate:"required"`
	Value float64 `json:"value"`
}

// ChartSpec describes one chart the Visualizer proposes.
type ChartSpec struct {
	Title string       `json:"title" validate:"required"`
	Type  ChartType    `json:"type" validate:"required,oneof=pie donut bar horizontal_bar line"`
	Data  []ChartDatum `json:"data" validate:"required,min=1,dive"`
}

// ChartSet is the Visualizer's payload.
type ChartSet struct {
	Charts []ChartSpec `json:"charts"`
}

// Milestone is one point in a projection series.
type Milestone struct {
	Year  int     `json:"year"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Projections is the Projector's payload.
type Projections struct {
	SuccessProbability float64     `json:"success_probability" validate:"gte=0,lte=100"`
	Milestones         []Milestone `json:"milestones" validate:"required,min=1"`
	Narrative          string      `json:"narrative" validate:"required"`
}

// Summary is composed by the orchestrator's finalizer once every required
// worker payload has been validated.
type Summary struct {
	TotalValue      float64            `json:"total_value"`
	AssetAllocation map[string]float64 `json:"asset_allocation"`
	Headline        string             `json:"headline"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// AllocationTolerance is the allowed drift around 100 for a classified map.
const AllocationTolerance = 0.01

// AllocationMap maps a bucket name (asset class, region, or sector) to a
// percentage. An empty map means unclassified.
type AllocationMap map[string]float64

// Classified reports whether the map carries any buckets.
func (m AllocationMap) Classified() bool { return len(m) > 0 }

// Sum returns the total of all bucket percentages.
func (m AllocationMap) Sum() float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

// Valid reports whether the map is empty or sums to 100 within tolerance.
func (m AllocationMap) Valid() bool {
	if len(m) == 0 {
		return true
	}
	return math.Abs(m.Sum()-100) <= AllocationTolerance
}

// Instrument is an externally owned security row, mutable by the Classifier.
type Instrument struct {
	Symbol     string
	Name       string
	Kind       string
	Price      *float64
	AssetClass AllocationMap
	Region     AllocationMap
	Sector     AllocationMap
}

// NeedsClassification reports whether any of the three allocation maps is
// empty. Such instruments are sent through the classification gap fill.
func (i Instrument) NeedsClassification() bool {
	return !i.AssetClass.Classified() || !i.Region.Classified() || !i.Sector.Classified()
}

// Account holds free cash for one user.
type Account struct {
	ID            string
	UserID        string
	CashBalance   float64
	CashYieldRate *float64
}

// Position is a holding within an account, unique per (account, symbol).
type Position struct {
	AccountID string
	Symbol    string
	Quantity  float64
	AsOf      time.Time
}

// Portfolio is the consistent Store read handed to the orchestrator.
type Portfolio struct {
	Accounts    []Account
	Positions   []Position
	Instruments map[string]Instrument
}

// Symbols returns the distinct symbols referenced by positions, in first-seen
// order.
func (p Portfolio) Symbols() []string {
	seen := make(map[string]bool, len(p.Positions))
	out := make([]string, 0, len(p.Positions))
	for _, pos := range p.Positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			out = append(out, pos.Symbol)
		}
	}
	return out
}

// AnalysisTaskPayload is the queue message for one analysis job.
type AnalysisTaskPayload struct {
	JobID     string `json:"job_id"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id,omitempty"`
	// Attempt is the request attempt counter; beyond the poison threshold the
	// orchestrator marks the job failed without invoking workers.
	Attempt int `json:"attempt,omitempty"`
}

// ClassificationRequest is the Classifier's per-instrument input.
type ClassificationRequest struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	KindHint string `json:"kind_hint,omitempty"`
}

// Classification is the Classifier's per-instrument output.
type Classification struct {
	Symbol     string        `json:"symbol"`
	AssetClass AllocationMap `json:"asset_class_map"`
	Region     AllocationMap `json:"region_map"`
	Sector     AllocationMap `json:"sector_map"`
}

// Valid reports whether all three maps are present and sum to 100 within
// tolerance.
func (c Classification) Valid() bool {
	return c.AssetClass.Classified() && c.AssetClass.Valid() &&
		c.Region.Classified() && c.Region.Valid() &&
		c.Sector.Classified() && c.Sector.Valid()
}

// JudgeVerdict is the Quality Judge's output. The rationale is observability
// only and is never persisted.
type JudgeVerdict struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Repositories (ports)

type JobRepository interface {
	Create(ctx context.Context, j Job) (string, error)
	Get(ctx context.Context, id string) (Job, error)
	// SetStatus transitions a job conditionally: terminal rows are never
	// overwritten. Started/Completed timestamps and error detail are applied
	// when non-nil.
	SetStatus(ctx context.Context, id string, status JobStatus, ts StatusUpdate) error
	// WritePayload writes one payload field; writes to distinct fields are
	// independently serializable.
	WritePayload(ctx context.Context, id string, field PayloadField, value any) error
}

// StatusUpdate carries the optional fields of a status transition.
type StatusUpdate struct {
	Started   *time.Time
	Completed *time.Time
	Error     *ErrorDetail
}

type PortfolioRepository interface {
	// GetPortfolio performs a consistent read of one user's accounts,
	// positions, and referenced instruments.
	GetPortfolio(ctx context.Context, userID string) (Portfolio, error)
}

type InstrumentRepository interface {
	// UpsertInstruments is idempotent by symbol; allocation maps are fully
	// replaced, never merged.
	UpsertInstruments(ctx context.Context, list []Instrument) error
}

// Queue (port)

type Queue interface {
	EnqueueAnalysis(ctx context.Context, payload AnalysisTaskPayload) (string, error)
}

// MarketOracle (port)

type MarketOracle interface {
	// LastPrices returns best-available prices for the requested symbols.
	// Missing symbols are simply absent from the result (degraded mode).
	LastPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Worker ports. Each worker is an opaque callable with typed I/O; adapters
// classify failures into WorkerError kinds.

type Classifier interface {
	Classify(ctx context.Context, reqs []ClassificationRequest) ([]Classification, error)
}

type Narrator interface {
	Narrate(ctx context.Context, snap PortfolioSnapshot, req AnalysisRequest) (Narrative, error)
}

type Visualizer interface {
	Visualize(ctx context.Context, snap PortfolioSnapshot) (ChartSet, error)
}

type Projector interface {
	Project(ctx context.Context, snap PortfolioSnapshot, req AnalysisRequest) (Projections, error)
}

type QualityJudge interface {
	Judge(ctx context.Context, text string) (JudgeVerdict, error)
}
