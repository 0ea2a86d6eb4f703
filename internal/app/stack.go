// Package app assembles the stores, extractor and pipelines shared by the
// api, worker and ingestor binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/photofinder/internal/api/handlers"
	"github.com/your-org/photofinder/internal/config"
	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/internal/queue"
	"github.com/your-org/photofinder/internal/storage"
	"github.com/your-org/photofinder/internal/vision"
)

// Stack is one process's connections plus the pipelines built on them.
type Stack struct {
	Store     *storage.PostgresStore
	Blobs     *storage.MinIOStore
	Vectors   pipeline.VectorIndex
	Extractor *vision.Extractor
	Producer  *queue.Producer
	Ingest    *pipeline.IngestionPipeline
	Search    *pipeline.SearchPipeline

	hnsw    *storage.HNSWIndex
	locks   *storage.AdvisoryLocks
	ortInit bool
	logger  *slog.Logger
}

// Open connects to Postgres, MinIO and NATS, prepares the vector index and
// loads the face models. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Stack, err error) {
	s := &Stack{logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.Store, err = storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := s.Store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.Blobs, err = storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}
	if err := s.Blobs.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	switch cfg.VectorIndex.Backend {
	case config.VectorIndexHNSW:
		s.hnsw = storage.NewHNSWIndex(cfg.VectorIndex.Dimension, cfg.VectorIndex.MaxDistance, cfg.VectorIndex.HNSWPath)
		if err := s.hnsw.Load(); err != nil {
			return nil, fmt.Errorf("load hnsw index: %w", err)
		}
		logger.Info("hnsw index loaded", "vectors", s.hnsw.Len(), "path", cfg.VectorIndex.HNSWPath)
		s.Vectors = s.hnsw
	default:
		idx := storage.NewPGVectorIndex(s.Store.Pool(), cfg.VectorIndex.Dimension, cfg.VectorIndex.MaxDistance)
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure pgvector schema: %w", err)
		}
		s.Vectors = idx

		// api, worker and ingestor all write the same photos.
		s.locks, err = storage.NewAdvisoryLocks(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open photo locks: %w", err)
		}
	}

	s.Producer, err = queue.NewProducer(cfg.NATS.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if err := s.Producer.EnsureStreams(ctx); err != nil {
		return nil, fmt.Errorf("ensure streams: %w", err)
	}

	libPath := cfg.Vision.ORTLibPath
	if libPath == "" {
		libPath = defaultORTLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	s.ortInit = true

	s.Extractor, err = vision.NewExtractor(cfg.Vision, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("load face models: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithNotifier(s.Producer),
		pipeline.WithFaceConcurrency(cfg.Ingest.FaceConcurrency),
		pipeline.WithQueryK(cfg.VectorIndex.QueryK),
	}
	if s.locks != nil {
		opts = append(opts, pipeline.WithPhotoLocker(s.locks))
	}
	s.Ingest, err = pipeline.NewIngestionPipeline(s.Blobs, s.Extractor, s.Vectors, s.Store, opts...)
	if err != nil {
		return nil, fmt.Errorf("build ingestion pipeline: %w", err)
	}
	s.Search, err = pipeline.NewSearchPipeline(s.Extractor, s.Vectors, s.Store, opts...)
	if err != nil {
		return nil, fmt.Errorf("build search pipeline: %w", err)
	}

	return s, nil
}

// InProcessIndex reports whether the vector index lives in this process
// only. Deletions must then run in the process that serves searches.
func (s *Stack) InProcessIndex() bool {
	return s.hnsw != nil
}

// Readiness returns health checks for every external dependency.
func (s *Stack) Readiness() []handlers.HealthCheck {
	return []handlers.HealthCheck{
		{Name: "postgres", Check: s.Store.Ping},
		{Name: "minio", Check: s.Blobs.Ping},
		{Name: "nats", Check: func(context.Context) error { return s.Producer.Ping() }},
	}
}

// Close releases everything Open acquired. The hnsw index is persisted first.
func (s *Stack) Close() {
	if s.Ingest != nil {
		s.Ingest.Release()
	}
	if s.Extractor != nil {
		s.Extractor.Close()
	}
	if s.ortInit {
		if err := ort.DestroyEnvironment(); err != nil {
			s.logger.Warn("destroy onnx runtime", "error", err)
		}
	}
	if s.hnsw != nil {
		if err := s.hnsw.Save(); err != nil {
			s.logger.Error("save hnsw index", "error", err)
		}
	}
	if s.Producer != nil {
		s.Producer.Close()
	}
	if s.locks != nil {
		s.locks.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

func defaultORTLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
