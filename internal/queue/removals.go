package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/internal/storage"
)

// PhotoDeleter runs the deletion workflow for one photo.
type PhotoDeleter interface {
	Delete(ctx context.Context, photoID uuid.UUID) (*pipeline.DeleteResult, error)
}

// RemovalStore records the outcome of a removal request.
type RemovalStore interface {
	UpdateRemovalStatus(ctx context.Context, id uuid.UUID, status models.RemovalStatus) (*models.RemovalRequest, error)
}

// RemovalHandler returns a MessageHandler that deletes the photo named by a
// removal task and marks the request COMPLETED. A photo that is already gone
// also completes the request. Malformed tasks are logged and dropped.
func RemovalHandler(deleter PhotoDeleter, store RemovalStore, logger *slog.Logger) MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, data []byte) error {
		var task models.RemovalTask
		if err := json.Unmarshal(data, &task); err != nil {
			logger.Error("drop malformed removal task", "error", err)
			return nil
		}
		if task.RequestID == uuid.Nil || task.PhotoID == uuid.Nil {
			logger.Error("drop removal task without ids", "request_id", task.RequestID, "photo_id", task.PhotoID)
			return nil
		}

		log := logger.With("request_id", task.RequestID, "photo_id", task.PhotoID)
		ctx = observability.ContextWithLogger(ctx, log)

		res, err := deleter.Delete(ctx, task.PhotoID)
		switch {
		case err == nil:
			log.Info("photo removed", "faces_removed", res.FacesRemoved, "warnings", len(res.Warnings))
		case errors.Is(err, pipeline.ErrNotFound):
			log.Info("photo already removed")
		default:
			return fmt.Errorf("delete photo %s: %w", task.PhotoID, err)
		}

		if _, err := store.UpdateRemovalStatus(ctx, task.RequestID, models.RemovalStatusCompleted); err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				log.Warn("removal request vanished before completion")
			case errors.Is(err, storage.ErrInvalidTransition):
				log.Info("removal request already settled")
			default:
				return fmt.Errorf("complete removal request %s: %w", task.RequestID, err)
			}
		}
		return nil
	}
}
