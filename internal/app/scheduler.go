package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/your-org/photofinder/internal/config"
	"github.com/your-org/photofinder/internal/observability"
)

const (
	sweepTimeout       = 2 * time.Minute
	queueDepthSchedule = "@every 15s"
)

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// NewScheduler returns a stopped scheduler that fails stale PROCESSING photos
// on cfg.SweepSchedule and refreshes the removal queue depth gauge.
// Overlapping runs of a job are skipped.
func (s *Stack) NewScheduler(cfg config.IngestConfig) (*cron.Cron, error) {
	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		n, err := s.Ingest.FailStale(ctx, cfg.StaleAfter)
		if err != nil {
			s.logger.Error("stale photo sweep", "error", err, "failed_so_far", n)
			return
		}
		if n > 0 {
			s.logger.Info("stale photo sweep", "failed", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule stale sweep %q: %w", cfg.SweepSchedule, err)
	}

	if _, err := c.AddFunc(queueDepthSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		depth, err := s.Producer.QueueDepth(ctx)
		if err != nil {
			s.logger.Warn("read removal queue depth", "error", err)
			return
		}
		observability.QueueDepth.Set(float64(depth))
	}); err != nil {
		return nil, fmt.Errorf("schedule queue depth: %w", err)
	}

	return c, nil
}
