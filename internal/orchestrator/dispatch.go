package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight-ai/finsight/internal/domain"
)

// unit is one independent piece of fan-out work: a worker invocation that
// produces one payload field. The run callback receives the attempt number so
// the narrator path can relax its quality gate on regeneration.
type unit struct {
	worker string
	field  domain.PayloadField
	run    func(ctx context.Context, attempt int) (any, error)
}

type unitResult struct {
	worker  string
	field   domain.PayloadField
	payload any
	kind    domain.ErrorKind
	err     error
}

// dispatch runs the three required workers concurrently, waits for all of
// them to reach a terminal per-worker status, and returns the validated
// payloads. Worker results are independent; partial-write ordering is
// irrelevant to correctness.
func (o *Orchestrator) dispatch(ctx context.Context, job domain.Job, snap domain.PortfolioSnapshot) (map[domain.PayloadField]any, error) {
	units := []unit{
		{
			worker: WorkerNarrator,
			field:  domain.PayloadNarrative,
			run: func(ctx context.Context, attempt int) (any, error) {
				return o.narrate(ctx, snap, job.Request, attempt)
			},
		},
		{
			worker: WorkerVisualizer,
			field:  domain.PayloadCharts,
			run: func(ctx context.Context, _ int) (any, error) {
				return o.visualizer.Visualize(ctx, snap)
			},
		},
		{
			worker: WorkerProjector,
			field:  domain.PayloadProjections,
			run: func(ctx context.Context, _ int) (any, error) {
				return o.projector.Project(ctx, snap, job.Request)
			},
		},
	}

	results := make(chan unitResult, len(units))
	for _, u := range units {
		go func(u unit) { results <- o.runUnit(ctx, job.ID, u) }(u)
	}

	// Collect every unit's terminal status. After the job context dies,
	// laggards that ignore cancellation get a short grace window before the
	// dispatcher abandons them.
	graceBudget := o.opts.CancelGrace
	if graceBudget <= 0 {
		graceBudget = 2 * time.Second
	}
	payloads := make(map[domain.PayloadField]any, len(units))
	var failures []unitResult
	done := ctx.Done()
	var grace <-chan time.Time
	for remaining := len(units); remaining > 0; {
		select {
		case r := <-results:
			remaining--
			if r.err != nil {
				failures = append(failures, r)
				continue
			}
			payloads[r.field] = r.payload
		case <-done:
			done = nil
			grace = time.After(graceBudget)
		case <-grace:
			failures = append(failures, unitResult{worker: "dispatcher", kind: domain.KindCancelled,
				err: domain.NewWorkerError(domain.KindCancelled,
					fmt.Errorf("abandoned %d in-flight workers after cancel grace", remaining))})
			remaining = 0
		}
	}
	if len(failures) == 0 {
		return payloads, nil
	}

	// Prefer the root cause over cancellation fallout: when the job deadline
	// trips, every other in-flight unit reports cancelled.
	cause := failures[0]
	for _, f := range failures {
		if f.kind != domain.KindCancelled {
			cause = f
			break
		}
	}
	return nil, fmt.Errorf("op=orchestrator.dispatch: worker %s: %w", cause.worker, cause.err)
}

// runUnit drives one worker to a terminal per-worker status: success, or
// retries exhausted. Transient failures retry up to the attempt cap;
// validation failures get at most one extra attempt; permanent and cancelled
// fail immediately.
func (o *Orchestrator) runUnit(ctx context.Context, jobID string, u unit) unitResult {
	validationRetries := 0
	for attempt := 1; ; attempt++ {
		o.sink.Emit(ctx, Event{Name: EventWorkerAttempt, JobID: jobID, Worker: u.worker, Attempt: attempt})

		actx, cancel := context.WithTimeout(ctx, o.opts.WorkerTimeout)
		start := time.Now()
		payload, err := u.run(actx, attempt)
		cancel()
		dur := time.Since(start)

		if err == nil {
			if werr := o.jobs.WritePayload(ctx, jobID, u.field, payload); werr != nil {
				o.sink.Emit(ctx, Event{Name: EventWorkerResult, JobID: jobID, Worker: u.worker, Outcome: OutcomeOK, Duration: dur})
				return unitResult{worker: u.worker, field: u.field, kind: domain.KindInternal,
					err: fmt.Errorf("op=orchestrator.unit: write %s: %w", u.field, werr)}
			}
			o.sink.Emit(ctx, Event{Name: EventWorkerResult, JobID: jobID, Worker: u.worker, Outcome: OutcomeOK, Duration: dur})
			return unitResult{worker: u.worker, field: u.field, payload: payload}
		}

		kind := domain.KindOf(err)
		if ctx.Err() != nil {
			// The job-level deadline or consumer shutdown cut this attempt
			// short; the worker outcome is cancellation, not its own failure.
			kind = domain.KindCancelled
		}
		o.sink.Emit(ctx, Event{Name: EventWorkerResult, JobID: jobID, Worker: u.worker, Outcome: string(kind), Duration: dur})
		slog.Warn("worker attempt failed",
			slog.String("job_id", jobID),
			slog.String("worker", u.worker),
			slog.Int("attempt", attempt),
			slog.String("kind", string(kind)),
			slog.Any("error", err))

		switch kind {
		case domain.KindValidation:
			// Usually prompt drift rather than infrastructure noise: one
			// extra attempt only.
			if validationRetries >= 1 || attempt >= o.opts.WorkerMaxAttempts {
				return unitResult{worker: u.worker, field: u.field, kind: kind, err: err}
			}
			validationRetries++
		case domain.KindTransient:
			if attempt >= o.opts.WorkerMaxAttempts {
				return unitResult{worker: u.worker, field: u.field, kind: kind, err: err}
			}
		default:
			return unitResult{worker: u.worker, field: u.field, kind: kind, err: err}
		}

		if serr := o.policy.Sleep(ctx, attempt); serr != nil {
			return unitResult{worker: u.worker, field: u.field, kind: domain.KindCancelled,
				err: domain.NewWorkerError(domain.KindCancelled, serr)}
		}
	}
}

// narrate invokes the Narrator and applies the quality gate: a first-attempt
// score below the threshold is a validation failure triggering one
// regeneration, whose output is accepted regardless of score.
func (o *Orchestrator) narrate(ctx context.Context, snap domain.PortfolioSnapshot, req domain.AnalysisRequest, attempt int) (any, error) {
	n, err := o.narrator.Narrate(ctx, snap, req)
	if err != nil {
		return nil, err
	}
	if o.judge == nil {
		return n, nil
	}
	v, jerr := o.judge.Judge(ctx, n.Text)
	if jerr != nil {
		if attempt > 1 {
			// The regeneration stands on its own; a judge outage must not
			// sink an otherwise valid narrative.
			slog.Warn("quality judge unavailable, accepting regeneration", slog.Any("error", jerr))
			return n, nil
		}
		return nil, jerr
	}
	n.QualityScore = v.Score
	if attempt == 1 && v.Score < o.opts.JudgeThreshold {
		return nil, domain.Validationf("quality score %.0f below threshold %.0f", v.Score, o.opts.JudgeThreshold)
	}
	return n, nil
}
