// Command ingestor bulk-imports a directory of photos into an event.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/your-org/photofinder/internal/app"
	"github.com/your-org/photofinder/internal/config"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/pipeline"
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	dir := flag.String("dir", "", "directory to import, walked recursively")
	event := flag.String("event", "", "event id the photos belong to")
	concurrency := flag.Int("concurrency", 0, "parallel ingests (default ingest.upload_concurrency)")
	flag.Parse()

	eventID, err := uuid.Parse(*event)
	if *dir == "" || err != nil {
		fmt.Fprintln(os.Stderr, "usage: ingestor -dir <path> -event <uuid> [-config path] [-concurrency n]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *concurrency <= 0 {
		*concurrency = cfg.Ingest.UploadConcurrency
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, logger, *dir, eventID, *concurrency); err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}
}

// collect lists the image files under root in walk order.
func collect(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func run(cfg *config.Config, logger *slog.Logger, dir string, eventID uuid.UUID, concurrency int) error {
	files, err := collect(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		logger.Warn("no images found", "dir", dir)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()
	if stack.InProcessIndex() {
		logger.Warn("hnsw index is written on exit; do not run the import while the API is serving the same index file")
	}

	ev, err := stack.Store.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("get event %s: %w", eventID, err)
	}
	logger.Info("importing photos", "event", ev.Name, "event_id", eventID, "files", len(files), "concurrency", concurrency)

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	defer pool.Release()

	var (
		wg                sync.WaitGroup
		succeeded, failed atomic.Int64
		facesIndexed      atomic.Int64
		start             = time.Now()
	)
	for _, path := range files {
		path := path
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			log := logger.With("file", path)

			data, err := os.ReadFile(path)
			if err != nil {
				failed.Add(1)
				log.Error("read file", "error", err)
				return
			}
			mimeType := imageExtensions[strings.ToLower(filepath.Ext(path))]
			res, err := stack.Ingest.Ingest(observability.ContextWithLogger(ctx, log), data, mimeType, eventID)
			if err != nil {
				failed.Add(1)
				log.Error("ingest", "kind", pipeline.KindOf(err), "error", err)
				return
			}
			succeeded.Add(1)
			facesIndexed.Add(int64(res.FacesDetected))
			log.Debug("ingested", "photo_id", res.PhotoID, "faces", res.FacesDetected)
		})
		if err != nil {
			wg.Done()
			failed.Add(1)
			logger.Error("submit ingest", "file", path, "error", err)
		}
	}
	wg.Wait()

	logger.Info("import finished",
		"succeeded", succeeded.Load(),
		"failed", failed.Load(),
		"skipped", int64(len(files))-succeeded.Load()-failed.Load(),
		"faces", facesIndexed.Load(),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	if failed.Load() > 0 {
		return fmt.Errorf("%d of %d photos failed", failed.Load(), len(files))
	}
	return nil
}
