// Package orchestrator implements the planner core: the job lifecycle state
// machine, the pre-processing pass, and the worker fan-out dispatcher.
//
// One Orchestrator.Handle call is the unit of work per queue message. Every
// accepted job either reaches a terminal state with validated payloads or is
// surfaced as a failure with diagnostic detail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain"
)

// Options carries the orchestration budgets and policy knobs. Resolved once
// at process start; read-only afterwards.
type Options struct {
	JobTimeout        time.Duration
	WorkerTimeout     time.Duration
	WorkerMaxAttempts int
	JudgeThreshold    float64
	PoisonThreshold   int
	PriceBatchSize    int
	PriceBudget       time.Duration
	CancelGrace       time.Duration
}

// OptionsFromConfig maps the process configuration onto orchestration options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		JobTimeout:        cfg.JobTimeout,
		WorkerTimeout:     cfg.WorkerTimeout,
		WorkerMaxAttempts: cfg.WorkerMaxAttempts,
		JudgeThreshold:    cfg.JudgeThreshold,
		PoisonThreshold:   cfg.PoisonAttemptThreshold,
		PriceBatchSize:    cfg.PriceBatchSize,
		PriceBudget:       cfg.PriceBudget,
		CancelGrace:       cfg.CancelGrace,
	}
}

// Orchestrator drives one job from queue message to terminal state.
type Orchestrator struct {
	jobs        domain.JobRepository
	portfolio   domain.PortfolioRepository
	instruments domain.InstrumentRepository
	oracle      domain.MarketOracle
	classifier  domain.Classifier
	narrator    domain.Narrator
	visualizer  domain.Visualizer
	projector   domain.Projector
	judge       domain.QualityJudge

	policy *Policy
	sink   EventSink
	opts   Options
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Jobs        domain.JobRepository
	Portfolio   domain.PortfolioRepository
	Instruments domain.InstrumentRepository
	Oracle      domain.MarketOracle
	Classifier  domain.Classifier
	Narrator    domain.Narrator
	Visualizer  domain.Visualizer
	Projector   domain.Projector
	Judge       domain.QualityJudge
}

// New constructs an Orchestrator. A nil sink falls back to structured logs;
// a nil policy falls back to the default retry schedule.
func New(deps Deps, opts Options, policy *Policy, sink EventSink) *Orchestrator {
	if sink == nil {
		sink = SlogSink{}
	}
	if policy == nil {
		policy = NewPolicy(500*time.Millisecond, 2, 8*time.Second, 0.2, time.Now().UnixNano())
	}
	return &Orchestrator{
		jobs:        deps.Jobs,
		portfolio:   deps.Portfolio,
		instruments: deps.Instruments,
		oracle:      deps.Oracle,
		classifier:  deps.Classifier,
		narrator:    deps.Narrator,
		visualizer:  deps.Visualizer,
		projector:   deps.Projector,
		judge:       deps.Judge,
		policy:      policy,
		sink:        sink,
		opts:        opts,
	}
}

// Handle is the single entry point per queue message. It is idempotent:
// re-invoking on a running job restarts the dispatch (crash recovery);
// re-invoking on a terminal job is a no-op. A non-nil return means the
// message may be redelivered by the queue driver; every other outcome is
// acknowledged.
func (o *Orchestrator) Handle(ctx context.Context, jobID string, attempt int) error {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Handle")
	defer span.End()

	if o.opts.PoisonThreshold > 0 && attempt > o.opts.PoisonThreshold {
		return o.failPoisoned(ctx, jobID, attempt)
	}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Terminal for this message; acknowledge without redelivery.
			slog.Warn("job not found, dropping message",
				slog.String("job_id", jobID),
				slog.String("error_kind", string(domain.KindNotFound)))
			return nil
		}
		return fmt.Errorf("op=orchestrator.handle: get job: %w", err)
	}
	if job.Status.Terminal() {
		slog.Info("job already terminal, no-op",
			slog.String("job_id", jobID), slog.String("status", string(job.Status)))
		return nil
	}

	started := time.Now().UTC()
	upd := domain.StatusUpdate{}
	if job.StartedAt == nil {
		upd.Started = &started
	}
	if err := o.jobs.SetStatus(ctx, jobID, domain.JobRunning, upd); err != nil {
		return fmt.Errorf("op=orchestrator.handle: mark running: %w", err)
	}
	o.sink.Emit(ctx, Event{Name: EventJobStarted, JobID: jobID, UserID: job.UserID})

	jctx, cancel := context.WithTimeout(ctx, o.opts.JobTimeout)
	defer cancel()

	runErr := o.run(jctx, job)
	if runErr == nil {
		done := time.Now().UTC()
		if err := o.jobs.SetStatus(ctx, jobID, domain.JobCompleted, domain.StatusUpdate{Completed: &done}); err != nil {
			return fmt.Errorf("op=orchestrator.handle: mark completed: %w", err)
		}
		o.sink.Emit(ctx, Event{Name: EventJobTerminal, JobID: jobID, Status: domain.JobCompleted})
		return nil
	}

	kind := domain.KindOf(runErr)
	if errors.Is(jctx.Err(), context.DeadlineExceeded) {
		kind = domain.KindTimeout
	}
	done := time.Now().UTC()
	detail := &domain.ErrorDetail{Kind: kind, Message: runErr.Error()}
	if err := o.jobs.SetStatus(ctx, jobID, domain.JobFailed, domain.StatusUpdate{Completed: &done, Error: detail}); err != nil {
		return fmt.Errorf("op=orchestrator.handle: mark failed: %w", err)
	}
	o.sink.Emit(ctx, Event{Name: EventJobTerminal, JobID: jobID, Status: domain.JobFailed, ErrorKind: kind})

	if kind == domain.KindInternal {
		// Internal invariant violations propagate; the queue may retry.
		return runErr
	}
	return nil
}

// run executes pre-processing, fan-out, and finalization under the job-level
// deadline.
func (o *Orchestrator) run(ctx context.Context, job domain.Job) error {
	pf, err := o.portfolio.GetPortfolio(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("op=orchestrator.run: read portfolio: %w", err)
	}

	o.preprocess(ctx, job.ID, &pf)

	snap := domain.BuildSnapshot(job.UserID, pf, time.Now().UTC())
	payloads, err := o.dispatch(ctx, job, snap)
	if err != nil {
		return err
	}

	summary := buildSummary(snap, payloads)
	if err := o.jobs.WritePayload(ctx, job.ID, domain.PayloadSummary, summary); err != nil {
		return fmt.Errorf("op=orchestrator.run: write summary: %w", err)
	}
	return nil
}

func (o *Orchestrator) failPoisoned(ctx context.Context, jobID string, attempt int) error {
	done := time.Now().UTC()
	detail := &domain.ErrorDetail{
		Kind:    domain.KindPoison,
		Message: fmt.Sprintf("message redelivered %d times, giving up", attempt),
	}
	if err := o.jobs.SetStatus(ctx, jobID, domain.JobFailed, domain.StatusUpdate{Completed: &done, Error: detail}); err != nil {
		slog.Error("failed to mark poisoned job",
			slog.String("job_id", jobID), slog.Any("error", err))
	}
	o.sink.Emit(ctx, Event{Name: EventJobTerminal, JobID: jobID, Status: domain.JobFailed, ErrorKind: domain.KindPoison})
	return nil
}

// buildSummary composes the fourth payload from the snapshot and the
// validated worker outputs.
func buildSummary(snap domain.PortfolioSnapshot, payloads map[domain.PayloadField]any) domain.Summary {
	s := domain.Summary{
		TotalValue:      snap.TotalValue,
		AssetAllocation: snap.AssetClass,
		GeneratedAt:     time.Now().UTC(),
	}
	headline := fmt.Sprintf("Portfolio of %.2f across %d holdings", snap.TotalValue, len(snap.Positions))
	if p, ok := payloads[domain.PayloadProjections].(domain.Projections); ok {
		headline = fmt.Sprintf("%s; plan success probability %.0f%%", headline, p.SuccessProbability)
	}
	s.Headline = headline
	return s
}
