package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/storage"
)

// DeleteResult describes a completed deletion. Warnings lists cleanup steps
// that failed and were skipped.
type DeleteResult struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	Message      string    `json:"message"`
	FacesRemoved int       `json:"faces_removed"`
	Warnings     []string  `json:"warnings,omitempty"`
}

// Delete removes a photo from all stores: vectors, then face rows, then the
// photo row, then the blob. Only a missing photo or a failed relational delete
// is an error; vector and blob failures are logged and skipped. A relational
// failure leaves the photo in place, so Delete can be retried.
func (p *IngestionPipeline) Delete(ctx context.Context, photoID uuid.UUID) (*DeleteResult, error) {
	const op = "delete"

	log := observability.LoggerFromContext(ctx, p.cfg.logger).With("photo_id", photoID)

	unlock, err := p.lockPhoto(ctx, op, photoID)
	if err != nil {
		return nil, err
	}
	// Released after the photo row is gone; blob cleanup runs unlocked.
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()

	// 1. Fetch.
	photo, err := p.metadata.GetPhotoWithFaces(ctx, photoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotFound, op, fmt.Errorf("photo %s: %w", photoID, err))
		}
		return nil, newError(KindMetadataReadFailed, op, err)
	}

	result := &DeleteResult{PhotoID: photoID}
	start := time.Now()

	// 2. Vectors before rows.
	for _, face := range photo.Faces {
		if face.VectorID == nil {
			continue
		}
		if err := p.vectors.Delete(ctx, *face.VectorID); err != nil {
			log.Warn("vector delete failed, leaving orphan", "vector_id", *face.VectorID, "face_id", face.ID, "error", err)
			observability.CleanupWarnings.WithLabelValues("vector").Inc()
			result.Warnings = append(result.Warnings, fmt.Sprintf("vector %s: %v", *face.VectorID, err))
		}
	}

	// 3. Faces before photo.
	removed, err := p.metadata.DeleteFacesByPhoto(ctx, photoID)
	if err != nil {
		return nil, newError(KindMetadataWriteFailed, op, fmt.Errorf("delete faces: %w", err))
	}
	result.FacesRemoved = int(removed)

	// 4. Photo row.
	if err := p.metadata.DeletePhoto(ctx, photoID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindMetadataWriteFailed, op, fmt.Errorf("delete photo: %w", err))
	}
	unlock()
	locked = false
	observability.StageDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	// 5. Blob, best-effort.
	if photo.StorageRef != "" {
		if err := p.blobs.DeleteObject(ctx, photo.StorageRef); err != nil {
			log.Warn("blob delete failed, leaving orphan", "storage_ref", photo.StorageRef, "error", err)
			observability.CleanupWarnings.WithLabelValues("blob").Inc()
			result.Warnings = append(result.Warnings, fmt.Sprintf("blob %s: %v", photo.StorageRef, err))
		}
	}

	observability.PhotosDeleted.Inc()
	if len(result.Warnings) > 0 {
		result.Message = fmt.Sprintf("Photo deleted with %d cleanup warning(s)", len(result.Warnings))
	} else {
		result.Message = "Photo deleted successfully"
	}
	log.Info("photo deleted", "faces", result.FacesRemoved, "warnings", len(result.Warnings))

	p.notify(ctx, log, models.PhotoNotification{
		Type:          models.NotificationPhotoDeleted,
		PhotoID:       photoID,
		EventID:       photo.EventID,
		FacesDetected: result.FacesRemoved,
	})

	return result, nil
}
