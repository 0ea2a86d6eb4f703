package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pf",
		Name:      "photos_ingested_total",
		Help:      "Total number of ingestion attempts by final photo status",
	}, []string{"status"})

	FacesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pf",
		Name:      "faces_indexed_total",
		Help:      "Total number of faces written to the vector index and metadata store",
	})

	PhotosDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pf",
		Name:      "photos_deleted_total",
		Help:      "Total number of photos removed by the deletion workflow",
	})

	CleanupWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pf",
		Name:      "cleanup_warnings_total",
		Help:      "Best-effort cleanup steps that failed and were skipped",
	}, []string{"store"})

	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pf",
		Name:      "searches_total",
		Help:      "Face searches by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pf",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pf",
		Name:      "inference_duration_seconds",
		Help:      "Duration of face decode, detection and embedding steps",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pf",
		Name:      "photo_lock_wait_seconds",
		Help:      "Time spent waiting for a per-photo lock",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	})

	StalePhotosFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pf",
		Name:      "stale_photos_failed_total",
		Help:      "Photos moved from PROCESSING to FAILED by the stale sweeper",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pf",
		Name:      "removal_queue_depth",
		Help:      "Number of pending removal tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pf",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pf",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
