// Package redpanda implements the analysis queue on Redpanda/Kafka with
// transactional produce and read-committed consume.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/finsight-ai/finsight/internal/adapter/observability"
	"github.com/finsight-ai/finsight/internal/domain"
)

// TopicAnalyze carries analysis task payloads, keyed by job id so retries
// of one job stay ordered.
const TopicAnalyze = "analyze-jobs"

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// Transactions on one client must not interleave.
	txnCh chan struct{}
}

// NewProducer constructs a transactional Producer and ensures the topic
// exists.
func NewProducer(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, TopicAnalyze, 8, 1); err != nil {
		slog.Warn("topic creation failed, it may already exist",
			slog.String("topic", TopicAnalyze), slog.Any("error", err))
	}
	return &Producer{client: client, topic: TopicAnalyze, txnCh: make(chan struct{}, 1)}, nil
}

// EnqueueAnalysis publishes one analysis task inside a transaction and
// returns the job id as the task id.
func (p *Producer) EnqueueAnalysis(ctx context.Context, payload domain.AnalysisTaskPayload) (string, error) {
	select {
	case p.txnCh <- struct{}{}:
		defer func() { <-p.txnCh }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=redpanda.EnqueueAnalysis: marshal: %w", err)
	}
	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("op=redpanda.EnqueueAnalysis: begin: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(payload.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "job_id", Value: []byte(payload.JobID)},
			{Key: "attempt", Value: []byte(strconv.Itoa(payload.Attempt))},
		},
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("transaction abort failed", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("op=redpanda.EnqueueAnalysis: produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("op=redpanda.EnqueueAnalysis: commit: %w", err)
	}

	observability.EnqueueJob(string(domain.JobKindPortfolioAnalysis))
	slog.Info("analysis task enqueued",
		slog.String("job_id", payload.JobID),
		slog.Int("attempt", payload.Attempt),
		slog.String("topic", p.topic))
	return payload.JobID, nil
}

// Ping verifies broker connectivity for readiness probes.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

var _ domain.Queue = (*Producer)(nil)
