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

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/your-org/photofinder/internal/api"
	"github.com/your-org/photofinder/internal/api/ws"
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
	logger.Info("starting photofinder API", "port", cfg.Server.Port, "vector_backend", cfg.VectorIndex.Backend)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("API server stopped")
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

	uploadPool, err := ants.NewPool(cfg.Ingest.UploadConcurrency)
	if err != nil {
		return fmt.Errorf("create upload pool: %w", err)
	}
	defer uploadPool.Release()

	// WebSocket hub fed from the photo notification stream
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL, logger)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer consumer.Close()

	if err := consumer.ConsumeNotifications(ctx, "api-notifications-"+uuid.NewString()[:8], hub.HandleNotification); err != nil {
		return fmt.Errorf("consume notifications: %w", err)
	}

	// An in-process index is only visible here, so removals and the stale
	// sweep must run in this process too.
	if stack.InProcessIndex() {
		handler := queue.RemovalHandler(stack.Ingest, stack.Store, logger)
		if err := consumer.ConsumeRemovals(ctx, "removal-workers", handler, cfg.Ingest.RemovalWorkers); err != nil {
			return fmt.Errorf("consume removals: %w", err)
		}
		scheduler, err := stack.NewScheduler(cfg.Ingest)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.Info("removal worker and stale sweeper running in-process")
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		Logger:         logger,
		Store:          stack.Store,
		Images:         stack.Blobs,
		Photos:         stack.Ingest,
		Search:         stack.Search,
		Removals:       stack.Producer,
		Hub:            hub,
		Readiness:      stack.Readiness(),
		UploadPool:     uploadPool,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	return nil
}
