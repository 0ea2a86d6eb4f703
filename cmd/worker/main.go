package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/photofinder/internal/app"
	"github.com/your-org/photofinder/internal/config"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.VectorIndex.Backend == config.VectorIndexHNSW {
		logger.Error("the hnsw vector index is in-process; the API runs removals itself with this backend")
		os.Exit(1)
	}

	logger.Info("starting photofinder worker",
		"removal_workers", cfg.Ingest.RemovalWorkers,
		"sweep_schedule", cfg.Ingest.SweepSchedule,
		"stale_after", cfg.Ingest.StaleAfter,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, 2*time.Minute)
	stack, err := app.Open(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		return err
	}
	defer stack.Close()

	consumer, err := queue.NewConsumer(cfg.NATS.URL, logger)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer consumer.Close()

	handler := queue.RemovalHandler(stack.Ingest, stack.Store, logger)
	if err := consumer.ConsumeRemovals(ctx, "removal-workers", handler, cfg.Ingest.RemovalWorkers); err != nil {
		return fmt.Errorf("consume removals: %w", err)
	}

	scheduler, err := stack.NewScheduler(cfg.Ingest)
	if err != nil {
		return err
	}
	scheduler.Start()

	// Metrics and health endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for _, hc := range stack.Readiness() {
			if err := hc.Check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, `{"status":"not ready","failed":%q}`, hc.Name)
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("worker metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down worker...")

	// Let the running sweep finish; removal workers stop with ctx.
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}
