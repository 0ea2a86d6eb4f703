package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
)

// BlobStore holds raw image bytes. The object key is the storage reference.
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// EmbeddingExtractor detects faces and computes their embeddings.
// An empty slice is a valid result; an error means the image could not be processed.
type EmbeddingExtractor interface {
	DetectFaces(ctx context.Context, image []byte) ([]models.DetectedFace, error)
}

// VectorIndex stores face embeddings for nearest-neighbour search.
// Delete of an unknown id succeeds. Query returns matches ranked by ascending
// distance, already filtered by the index's relevance threshold, optionally
// restricted to one event.
type VectorIndex interface {
	Insert(ctx context.Context, vector []float32, tags models.VectorTags) (string, error)
	Delete(ctx context.Context, vectorID string) error
	Query(ctx context.Context, vector []float32, k int, eventID *uuid.UUID) ([]models.VectorMatch, error)
}

// MetadataStore is the relational record of truth for events, photos and faces.
// Getters return storage.ErrNotFound for missing rows.
type MetadataStore interface {
	CreatePhoto(ctx context.Context, p *models.Photo) error
	UpdatePhotoStatus(ctx context.Context, id uuid.UUID, status models.PhotoStatus) error
	CreateFace(ctx context.Context, f *models.Face) error
	GetPhotoWithFaces(ctx context.Context, id uuid.UUID) (*models.PhotoWithFaces, error)
	GetPhotoWithEvent(ctx context.Context, id uuid.UUID) (*models.PhotoWithEvent, error)
	DeleteFacesByPhoto(ctx context.Context, photoID uuid.UUID) (int64, error)
	DeletePhoto(ctx context.Context, id uuid.UUID) error
	ListPhotosByStatus(ctx context.Context, status models.PhotoStatus, updatedBefore time.Time) ([]models.Photo, error)
}

// Notifier receives photo lifecycle notifications. Delivery is best-effort.
type Notifier interface {
	NotifyPhoto(ctx context.Context, n models.PhotoNotification) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyPhoto(context.Context, models.PhotoNotification) error { return nil }
