// Command server starts the portfolio analysis HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finsight-ai/finsight/internal/adapter/httpserver"
	"github.com/finsight-ai/finsight/internal/adapter/observability"
	"github.com/finsight-ai/finsight/internal/adapter/queue/redpanda"
	"github.com/finsight-ai/finsight/internal/adapter/repo/postgres"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	portfolioRepo := postgres.NewPortfolioRepo(pool)

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, "finsight-server-producer")
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	analyzeSvc := usecase.NewAnalyzeService(jobRepo, portfolioRepo, producer)
	resultSvc := usecase.NewResultService(jobRepo)

	dbCheck := func(ctx context.Context) error { return pool.Ping(ctx) }
	queueCheck := producer.Ping

	srv := httpserver.NewServer(cfg, analyzeSvc, resultSvc, dbCheck, queueCheck)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
