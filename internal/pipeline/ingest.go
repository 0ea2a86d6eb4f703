package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/storage"
)

const StatusSuccess = "success"

// IngestResult describes a photo that reached COMPLETED.
type IngestResult struct {
	PhotoID       uuid.UUID `json:"photo_id"`
	StorageRef    string    `json:"storage_ref"`
	FacesDetected int       `json:"faces_detected"`
	Status        string    `json:"status"`
}

// IngestionPipeline moves photos from upload to indexed, and undoes that on deletion.
//
//	upload blob → create photo (PROCESSING) → detect faces →
//	per face: vector insert → face row → photo COMPLETED
//
// Any failure after the photo row exists leaves the photo FAILED.
type IngestionPipeline struct {
	blobs     BlobStore
	extractor EmbeddingExtractor
	vectors   VectorIndex
	metadata  MetadataStore
	locks     PhotoLocker
	facePool  *ants.Pool
	cfg       *settings
}

// NewIngestionPipeline wires the four collaborators into a pipeline.
func NewIngestionPipeline(
	blobs BlobStore,
	extractor EmbeddingExtractor,
	vectors VectorIndex,
	metadata MetadataStore,
	opts ...Option,
) (*IngestionPipeline, error) {
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	if metadata == nil {
		return nil, ErrMetadataStoreRequired
	}

	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	p := &IngestionPipeline{
		blobs:     blobs,
		extractor: extractor,
		vectors:   vectors,
		metadata:  metadata,
		locks:     cfg.locker,
		cfg:       cfg,
	}

	if cfg.faceConcurrency > 1 {
		pool, err := ants.NewPool(cfg.faceConcurrency)
		if err != nil {
			return nil, fmt.Errorf("create face pool: %w", err)
		}
		p.facePool = pool
	}

	return p, nil
}

// Release releases the face worker pool. The pipeline should not be used afterwards.
func (p *IngestionPipeline) Release() {
	if p.facePool != nil {
		p.facePool.Release()
	}
}

// Ingest stores image under eventID, indexes every detected face and returns
// the COMPLETED photo. Failures from face detection onward leave the photo
// FAILED; faces already written are kept and are removed by Delete.
func (p *IngestionPipeline) Ingest(ctx context.Context, image []byte, mimeType string, eventID uuid.UUID) (*IngestResult, error) {
	const op = "ingest"

	if len(image) == 0 {
		return nil, newError(KindInvalidInput, op, errors.New("image is empty"))
	}
	if eventID == uuid.Nil {
		return nil, newError(KindInvalidInput, op, errors.New("event id is required"))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, newError(KindInvalidInput, op, fmt.Errorf("unsupported content type %q", mimeType))
	}

	photoID := uuid.New()
	log := observability.LoggerFromContext(ctx, p.cfg.logger).With(
		"photo_id", photoID,
		"event_id", eventID,
	)

	// 1. Blob first: nothing else references it yet.
	key := BlobKey(eventID, photoID, mimeType)
	start := time.Now()
	if err := p.blobs.PutObject(ctx, key, image, mimeType); err != nil {
		return nil, newError(KindStorageUnavailable, op, err)
	}
	observability.StageDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())

	unlock, err := p.lockPhoto(ctx, op, photoID)
	if err != nil {
		log.Warn("blob orphaned, photo lock not acquired", "storage_ref", key, "error", err)
		return nil, err
	}
	defer unlock()

	// 2. Photo row.
	photo := &models.Photo{
		ID:         photoID,
		EventID:    eventID,
		StorageRef: key,
		MimeType:   mimeType,
		Status:     models.PhotoStatusProcessing,
	}
	if err := p.metadata.CreatePhoto(ctx, photo); err != nil {
		log.Warn("blob orphaned, photo row not created", "storage_ref", key, "error", err)
		observability.PhotosIngested.WithLabelValues("rejected").Inc()
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, newError(KindInvalidInput, op, err)
		}
		return nil, newError(KindMetadataWriteFailed, op, err)
	}

	// 3. Detection.
	start = time.Now()
	faces, err := p.extractor.DetectFaces(ctx, image)
	if err != nil {
		return nil, p.fail(ctx, log, photo, 0, newError(KindExtractionFailed, op, err))
	}
	observability.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())

	// 4. Faces, all or nothing.
	start = time.Now()
	written, err := p.indexFaces(ctx, log, photo, faces)
	if err != nil {
		return nil, p.fail(ctx, log, photo, written, err)
	}
	observability.StageDuration.WithLabelValues("index").Observe(time.Since(start).Seconds())

	// 5. Done.
	if err := p.metadata.UpdatePhotoStatus(ctx, photoID, models.PhotoStatusCompleted); err != nil {
		return nil, p.fail(ctx, log, photo, written, newError(KindMetadataWriteFailed, op, err))
	}
	photo.Status = models.PhotoStatusCompleted

	observability.PhotosIngested.WithLabelValues(string(models.PhotoStatusCompleted)).Inc()
	log.Info("photo indexed", "faces", len(faces))

	p.notify(ctx, log, models.PhotoNotification{
		Type:          models.NotificationPhotoIndexed,
		PhotoID:       photoID,
		EventID:       eventID,
		Status:        models.PhotoStatusCompleted,
		FacesDetected: len(faces),
	})

	return &IngestResult{
		PhotoID:       photoID,
		StorageRef:    key,
		FacesDetected: len(faces),
		Status:        StatusSuccess,
	}, nil
}

// fail moves the photo to FAILED and returns cause unchanged. The status write
// is detached from ctx so a cancelled caller still leaves a terminal photo.
func (p *IngestionPipeline) fail(ctx context.Context, log *slog.Logger, photo *models.Photo, facesWritten int, cause error) error {
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.statusTimeout)
	defer cancel()

	if err := p.metadata.UpdatePhotoStatus(statusCtx, photo.ID, models.PhotoStatusFailed); err != nil {
		log.Error("could not mark photo failed", "error", err, "cause", cause)
	} else {
		photo.Status = models.PhotoStatusFailed
	}

	observability.PhotosIngested.WithLabelValues(string(models.PhotoStatusFailed)).Inc()
	log.Error("ingestion failed", "error", cause, "faces_written", facesWritten)

	p.notify(statusCtx, log, models.PhotoNotification{
		Type:          models.NotificationPhotoFailed,
		PhotoID:       photo.ID,
		EventID:       photo.EventID,
		Status:        models.PhotoStatusFailed,
		FacesDetected: facesWritten,
		Error:         cause.Error(),
	})
	return cause
}

// indexFaces writes every detected face and returns how many were fully
// written. Sequentially the first error in detection order is returned; in
// parallel it is the first failure to happen, which cancels the remaining
// faces so their context errors never mask it.
func (p *IngestionPipeline) indexFaces(ctx context.Context, log *slog.Logger, photo *models.Photo, faces []models.DetectedFace) (int, error) {
	if len(faces) == 0 {
		return 0, nil
	}

	if p.facePool == nil {
		for i, det := range faces {
			if _, err := p.indexFace(ctx, log, photo, i, det); err != nil {
				return i, err
			}
		}
		return len(faces), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		failOnce sync.Once
		cause    error
	)
	fail := func(err error) {
		failOnce.Do(func() {
			cause = err
			cancel()
		})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written int
	)
	for i, det := range faces {
		i, det := i, det
		wg.Add(1)
		err := p.facePool.Submit(func() {
			defer wg.Done()
			if _, err := p.indexFace(ctx, log, photo, i, det); err != nil {
				fail(err)
				return
			}
			mu.Lock()
			written++
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			fail(newError(KindVectorIndexFailed, "ingest", fmt.Errorf("submit face %d: %w", i, err)))
		}
	}
	wg.Wait()

	return written, cause
}

// indexFace writes one face: vector first, then the relational row that
// references it. A failed row write leaves an orphaned vector, never a
// dangling row.
func (p *IngestionPipeline) indexFace(ctx context.Context, log *slog.Logger, photo *models.Photo, idx int, det models.DetectedFace) (*models.Face, error) {
	const op = "ingest"

	if len(det.Embedding) == 0 {
		return nil, newError(KindExtractionFailed, op, fmt.Errorf("face %d has no embedding", idx))
	}

	vectorID, err := p.vectors.Insert(ctx, det.Embedding, models.VectorTags{
		PhotoID: photo.ID,
		EventID: photo.EventID,
	})
	if err != nil {
		return nil, newError(KindVectorIndexFailed, op, fmt.Errorf("insert face %d: %w", idx, err))
	}

	face := &models.Face{
		ID:         uuid.New(),
		PhotoID:    photo.ID,
		VectorID:   &vectorID,
		Confidence: det.Confidence,
		BBox:       models.BBoxFromCorners(det.BBox),
	}
	if err := p.metadata.CreateFace(ctx, face); err != nil {
		log.Warn("vector orphaned, face row not created", "vector_id", vectorID, "face", idx, "error", err)
		return nil, newError(KindMetadataWriteFailed, op, fmt.Errorf("create face %d: %w", idx, err))
	}

	observability.FacesIndexed.Inc()
	return face, nil
}

func (p *IngestionPipeline) notify(ctx context.Context, log *slog.Logger, n models.PhotoNotification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if err := p.cfg.notifier.NotifyPhoto(ctx, n); err != nil {
		log.Warn("publish photo notification", "type", n.Type, "error", err)
	}
}

var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
	"image/heic": ".heic",
}

// BlobKey returns the object key a photo's bytes are stored under.
func BlobKey(eventID, photoID uuid.UUID, mimeType string) string {
	return fmt.Sprintf("photos/%s/%s%s", eventID, photoID, mimeExtensions[mimeType])
}
