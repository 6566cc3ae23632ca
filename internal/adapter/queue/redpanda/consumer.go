package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/finsight-ai/finsight/internal/domain"
)

// Handler processes one dequeued analysis task. The orchestrator is the
// only production implementation.
type Handler interface {
	Handle(ctx context.Context, jobID string, attempt int) error
}

// Consumer pulls analysis tasks and fans them out to a fixed worker pool.
// A task whose handler fails with an internal error is re-enqueued with an
// incremented attempt counter; the poison threshold in the orchestrator
// bounds that loop.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	requeue domain.Queue

	groupID     string
	topic       string
	maxInFlight int

	records chan *kgo.Record
}

// NewConsumer constructs a Consumer. maxInFlight bounds concurrent jobs per
// process.
func NewConsumer(brokers []string, groupID string, handler Handler, requeue domain.Queue, maxInFlight int) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: missing group ID")
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicAnalyze),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w", err)
	}
	return &Consumer{
		client:      client,
		handler:     handler,
		requeue:     requeue,
		groupID:     groupID,
		topic:       TopicAnalyze,
		maxInFlight: maxInFlight,
		records:     make(chan *kgo.Record, maxInFlight),
	}, nil
}

// Start runs the fetch loop and worker pool until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting analysis consumer",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("max_in_flight", c.maxInFlight))

	var wg sync.WaitGroup
	for i := 0; i < c.maxInFlight; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, id)
		}(i)
	}

	for ctx.Err() == nil {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			break
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			select {
			case c.records <- rec:
			case <-ctx.Done():
			}
		})
	}

	close(c.records)
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) worker(ctx context.Context, id int) {
	for rec := range c.records {
		c.processRecord(ctx, rec)
	}
	slog.Debug("consumer worker stopped", slog.Int("worker", id))
}

// processRecord decodes and handles one task. Undecodable records are
// logged and marked consumed; there is nothing to retry.
func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) {
	var payload domain.AnalysisTaskPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		slog.Error("dropping undecodable task record",
			slog.String("topic", rec.Topic),
			slog.Any("error", err))
		c.client.MarkCommitRecords(rec)
		return
	}
	attempt := payload.Attempt
	if attempt < 1 {
		attempt = 1
	}

	err := c.handler.Handle(ctx, payload.JobID, attempt)
	c.client.MarkCommitRecords(rec)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutdown race: the record is committed, the job stays running and
		// the stuck-job sweeper reaps it.
		slog.Warn("handler interrupted by shutdown", slog.String("job_id", payload.JobID))
		return
	}

	// Internal failure (storage trouble, not worker outcomes): re-enqueue
	// with the attempt counter bumped so the poison gate can cut the loop.
	slog.Error("task handling failed, re-enqueueing",
		slog.String("job_id", payload.JobID),
		slog.Int("attempt", attempt),
		slog.Any("error", err))
	payload.Attempt = attempt + 1
	if _, qerr := c.requeue.EnqueueAnalysis(ctx, payload); qerr != nil {
		slog.Error("re-enqueue failed, task lost until swept",
			slog.String("job_id", payload.JobID),
			slog.Any("error", qerr))
	}
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
