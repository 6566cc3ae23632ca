package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finsight-ai/finsight/internal/adapter/observability"
	"github.com/finsight-ai/finsight/internal/domain"
)

// Event names emitted over the job lifecycle.
const (
	EventJobStarted     = "job.started"
	EventPricesDone     = "job.preprocess.prices_done"
	EventClassifierDone = "job.preprocess.classifier_done"
	EventWorkerAttempt  = "worker.attempt"
	EventWorkerResult   = "worker.result"
	EventJobTerminal    = "job.terminal"
)

// Worker names used in attempt/result events.
const (
	WorkerClassifier = "classifier"
	WorkerNarrator   = "narrator"
	WorkerVisualizer = "visualizer"
	WorkerProjector  = "projector"
)

// Outcome labels for worker.result events.
const (
	OutcomeOK = "ok"
)

// Event is one lifecycle observability event. Fields are populated per event
// name; zero values mean not applicable.
type Event struct {
	Name      string
	JobID     string
	UserID    string
	Worker    string
	Attempt   int
	Outcome   string
	Status    domain.JobStatus
	ErrorKind domain.ErrorKind
	Count     int
	Duration  time.Duration
}

// EventSink receives lifecycle events. The default sink writes structured
// logs; tests inject a Recorder to assert event sequences.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// SlogSink writes events as structured log lines and bumps Prometheus
// counters.
type SlogSink struct {
	Logger *slog.Logger
}

// Emit implements EventSink.
func (s SlogSink) Emit(_ context.Context, e Event) {
	lg := s.Logger
	if lg == nil {
		lg = slog.Default()
	}
	attrs := []any{slog.String("event", e.Name), slog.String("job_id", e.JobID)}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.Worker != "" {
		attrs = append(attrs, slog.String("worker", e.Worker))
	}
	if e.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", e.Attempt))
	}
	if e.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", e.Outcome))
	}
	if e.Status != "" {
		attrs = append(attrs, slog.String("status", string(e.Status)))
	}
	if e.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", string(e.ErrorKind)))
	}
	if e.Count > 0 {
		attrs = append(attrs, slog.Int("count", e.Count))
	}
	if e.Duration > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", e.Duration.Milliseconds()))
	}
	lg.Info("lifecycle event", attrs...)

	switch e.Name {
	case EventWorkerResult:
		observability.ObserveWorkerResult(e.Worker, e.Outcome, e.Duration)
	case EventJobTerminal:
		observability.ObserveJobTerminal(string(e.Status), string(e.ErrorKind))
	}
}

// Recorder is an EventSink that stores every event for test assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventSink.
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// ForWorker returns the recorded events with the given name and worker.
func (r *Recorder) ForWorker(name, worker string) []Event {
	var out []Event
	for _, e := range r.Named(name) {
		if e.Worker == worker {
			out = append(out, e)
		}
	}
	return out
}
