// Command worker consumes analysis tasks from the queue and drives them to
// a terminal state.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/finsight-ai/finsight/internal/adapter/ai"
	"github.com/finsight-ai/finsight/internal/adapter/ai/stub"
	"github.com/finsight-ai/finsight/internal/adapter/market"
	"github.com/finsight-ai/finsight/internal/adapter/observability"
	"github.com/finsight-ai/finsight/internal/adapter/queue/redpanda"
	"github.com/finsight-ai/finsight/internal/adapter/repo/postgres"
	"github.com/finsight-ai/finsight/internal/app"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain"
	"github.com/finsight-ai/finsight/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	portfolioRepo := postgres.NewPortfolioRepo(pool)
	instrumentRepo := postgres.NewInstrumentRepo(pool)

	// Price oracle, with a Redis read-through cache when configured.
	var oracle domain.MarketOracle = market.NewOracle(cfg)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		oracle = market.NewCachedOracle(oracle, rdb, cfg.PriceCacheTTL)
		slog.Info("price cache enabled", slog.String("redis_addr", cfg.RedisAddr))
	}

	// AI chat client shared by all workers; the stub keeps local development
	// free of provider keys.
	var chat ai.ChatClient
	if cfg.UseStubAI {
		chat = stub.New()
		slog.Info("using stub AI client")
	} else {
		chat = ai.NewClient(cfg)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Jobs:        jobRepo,
		Portfolio:   portfolioRepo,
		Instruments: instrumentRepo,
		Oracle:      oracle,
		Classifier:  ai.NewClassifier(chat),
		Narrator:    ai.NewNarrator(chat, cfg.RequiredHeadings, cfg.AIPromptTokenBudget),
		Visualizer:  ai.NewVisualizer(chat, cfg.ChartCountMin, cfg.ChartCountMax, cfg.AIPromptTokenBudget),
		Projector:   ai.NewProjector(chat, cfg.AIPromptTokenBudget),
		Judge:       ai.NewJudge(chat),
	}, orchestrator.OptionsFromConfig(cfg), orchestrator.PolicyFromConfig(cfg), nil)

	// Producer for re-enqueueing internally failed tasks. Distinct
	// transactional ID from the server's producer.
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, "finsight-worker-producer")
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, "finsight-workers", orch, producer, cfg.MaxInFlight)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	if sweeper := app.NewStuckJobSweeper(jobRepo, cfg.StuckJobMaxAge, cfg.StuckJobSweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	slog.Info("starting redpanda consumer", slog.Int("max_in_flight", cfg.MaxInFlight))
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
