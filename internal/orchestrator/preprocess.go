package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/finsight-ai/finsight/internal/domain"
)

// preprocess runs the sequential pre-processing pass: price refresh, then
// classification gap fill. Both steps are best-effort; the job proceeds with
// whatever prices and classifications exist.
func (o *Orchestrator) preprocess(ctx context.Context, jobID string, pf *domain.Portfolio) {
	o.refreshPrices(ctx, jobID, pf)
	o.fillClassificationGaps(ctx, jobID, pf)
}

// refreshPrices consults the Market Oracle for the union of referenced
// symbols, under a per-batch cap and a total time budget. An oracle failure
// for a batch leaves existing prices untouched (degraded mode).
func (o *Orchestrator) refreshPrices(ctx context.Context, jobID string, pf *domain.Portfolio) {
	start := time.Now()
	symbols := pf.Symbols()
	if len(symbols) == 0 {
		o.sink.Emit(ctx, Event{Name: EventPricesDone, JobID: jobID, Count: 0, Duration: time.Since(start)})
		return
	}

	pctx, cancel := context.WithTimeout(ctx, o.opts.PriceBudget)
	defer cancel()

	batchSize := o.opts.PriceBatchSize
	if batchSize <= 0 {
		batchSize = len(symbols)
	}

	updated := 0
	var changed []domain.Instrument
	for i := 0; i < len(symbols); i += batchSize {
		end := i + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[i:end]
		prices, err := o.oracle.LastPrices(pctx, batch)
		if err != nil {
			slog.Warn("price refresh batch failed, keeping stale prices",
				slog.String("job_id", jobID),
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err))
			continue
		}
		for sym, price := range prices {
			inst := pf.Instruments[sym]
			if inst.Symbol == "" {
				inst.Symbol = sym
			}
			p := price
			inst.Price = &p
			pf.Instruments[sym] = inst
			changed = append(changed, inst)
			updated++
		}
	}

	if len(changed) > 0 {
		if err := o.instruments.UpsertInstruments(ctx, changed); err != nil {
			slog.Warn("persisting refreshed prices failed",
				slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
	o.sink.Emit(ctx, Event{Name: EventPricesDone, JobID: jobID, Count: updated, Duration: time.Since(start)})
}

// fillClassificationGaps invokes the Classifier for instruments whose
// allocation maps are empty. Invalid classifications are skipped with a
// warning; a total failure of the pass does not fail the job.
func (o *Orchestrator) fillClassificationGaps(ctx context.Context, jobID string, pf *domain.Portfolio) {
	start := time.Now()

	var reqs []domain.ClassificationRequest
	for _, sym := range pf.Symbols() {
		inst := pf.Instruments[sym]
		if inst.Symbol == "" || inst.NeedsClassification() {
			reqs = append(reqs, domain.ClassificationRequest{
				Symbol:   sym,
				Name:     inst.Name,
				KindHint: inst.Kind,
			})
		}
	}
	if len(reqs) == 0 {
		o.sink.Emit(ctx, Event{Name: EventClassifierDone, JobID: jobID, Count: 0, Duration: time.Since(start)})
		return
	}

	accepted := 0
	for attempt := 1; attempt <= o.opts.WorkerMaxAttempts; attempt++ {
		o.sink.Emit(ctx, Event{Name: EventWorkerAttempt, JobID: jobID, Worker: WorkerClassifier, Attempt: attempt})

		actx, cancel := context.WithTimeout(ctx, o.opts.WorkerTimeout)
		attemptStart := time.Now()
		cls, err := o.classifier.Classify(actx, reqs)
		cancel()
		dur := time.Since(attemptStart)

		if err != nil {
			kind := domain.KindOf(err)
			if ctx.Err() != nil {
				kind = domain.KindCancelled
			}
			o.sink.Emit(ctx, Event{Name: EventWorkerResult, JobID: jobID, Worker: WorkerClassifier, Outcome: string(kind), Duration: dur})
			slog.Warn("classifier pass attempt failed",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.String("kind", string(kind)),
				slog.Any("error", err))
			if !kind.Retryable() || attempt == o.opts.WorkerMaxAttempts {
				break
			}
			if serr := o.policy.Sleep(ctx, attempt); serr != nil {
				break
			}
			continue
		}

		o.sink.Emit(ctx, Event{Name: EventWorkerResult, JobID: jobID, Worker: WorkerClassifier, Outcome: OutcomeOK, Duration: dur})
		accepted = o.applyClassifications(ctx, jobID, pf, cls)
		break
	}

	o.sink.Emit(ctx, Event{Name: EventClassifierDone, JobID: jobID, Count: accepted, Duration: time.Since(start)})
}

// applyClassifications validates, applies, and persists accepted
// classifications, skipping invalid ones with a logged warning.
func (o *Orchestrator) applyClassifications(ctx context.Context, jobID string, pf *domain.Portfolio, cls []domain.Classification) int {
	var changed []domain.Instrument
	for _, c := range cls {
		if !c.Valid() {
			slog.Warn("skipping invalid classification",
				slog.String("job_id", jobID),
				slog.String("symbol", c.Symbol),
				slog.Float64("asset_class_sum", c.AssetClass.Sum()),
				slog.Float64("region_sum", c.Region.Sum()),
				slog.Float64("sector_sum", c.Sector.Sum()))
			continue
		}
		inst := pf.Instruments[c.Symbol]
		if inst.Symbol == "" {
			inst.Symbol = c.Symbol
		}
		inst.AssetClass = c.AssetClass
		inst.Region = c.Region
		inst.Sector = c.Sector
		pf.Instruments[c.Symbol] = inst
		changed = append(changed, inst)
	}
	if len(changed) > 0 {
		if err := o.instruments.UpsertInstruments(ctx, changed); err != nil {
			slog.Warn("persisting classifications failed",
				slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
	return len(changed)
}
