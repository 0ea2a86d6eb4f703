package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/storage"
)

// FailStale marks photos stuck in PROCESSING for longer than olderThan as
// FAILED, e.g. after a crash or a cancelled caller. Photos locked by an
// in-flight Ingest or Delete, in this process or any other sharing the
// PhotoLocker, are skipped. It returns how many photos were moved.
func (p *IngestionPipeline) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	log := observability.LoggerFromContext(ctx, p.cfg.logger)

	stale, err := p.metadata.ListPhotosByStatus(ctx, models.PhotoStatusProcessing, time.Now().Add(-olderThan))
	if err != nil {
		return 0, newError(KindMetadataReadFailed, "fail stale", err)
	}

	failed := 0
	for _, photo := range stale {
		unlock, ok, err := p.locks.TryLock(ctx, photo.ID)
		if err != nil {
			log.Warn("stale photo lock check failed", "photo_id", photo.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		err = p.metadata.UpdatePhotoStatus(ctx, photo.ID, models.PhotoStatusFailed)
		unlock()

		switch {
		case err == nil:
			failed++
			observability.StalePhotosFailed.Inc()
			log.Warn("stale photo marked failed", "photo_id", photo.ID, "updated_at", photo.UpdatedAt)
			p.notify(ctx, log, models.PhotoNotification{
				Type:    models.NotificationPhotoFailed,
				PhotoID: photo.ID,
				EventID: photo.EventID,
				Status:  models.PhotoStatusFailed,
				Error:   "ingestion did not finish",
			})
		case errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, storage.ErrNotFound):
			// Finished or deleted since it was listed.
		default:
			return failed, newError(KindMetadataWriteFailed, "fail stale", fmt.Errorf("photo %s: %w", photo.ID, err))
		}
	}
	return failed, nil
}
