package models

import (
	"time"

	"github.com/google/uuid"
)

type PhotoStatus string

const (
	PhotoStatusPending    PhotoStatus = "PENDING"
	PhotoStatusProcessing PhotoStatus = "PROCESSING"
	PhotoStatusCompleted  PhotoStatus = "COMPLETED"
	PhotoStatusFailed     PhotoStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s PhotoStatus) Terminal() bool {
	return s == PhotoStatusCompleted || s == PhotoStatusFailed
}

// CanTransitionTo enforces PENDING → PROCESSING → {COMPLETED, FAILED}.
// A terminal photo is never re-processed in place; a retry creates a new photo.
func (s PhotoStatus) CanTransitionTo(next PhotoStatus) bool {
	switch s {
	case PhotoStatusPending:
		return next == PhotoStatusProcessing || next == PhotoStatusFailed
	case PhotoStatusProcessing:
		return next == PhotoStatusCompleted || next == PhotoStatusFailed
	}
	return false
}

// Predecessors returns the statuses a photo may hold before moving to s.
func (s PhotoStatus) Predecessors() []PhotoStatus {
	var out []PhotoStatus
	for _, from := range []PhotoStatus{PhotoStatusPending, PhotoStatusProcessing, PhotoStatusCompleted, PhotoStatusFailed} {
		if from.CanTransitionTo(s) {
			out = append(out, from)
		}
	}
	return out
}

type Photo struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	EventID    uuid.UUID   `json:"event_id" db:"event_id"`
	StorageRef string      `json:"storage_ref" db:"storage_ref"` // MinIO object key
	MimeType   string      `json:"mime_type" db:"mime_type"`
	Status     PhotoStatus `json:"processing_status" db:"processing_status"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// PhotoWithFaces is a photo eagerly joined with its faces.
type PhotoWithFaces struct {
	Photo
	Faces []Face `json:"faces"`
}

// PhotoWithEvent is a photo joined with its owning event.
type PhotoWithEvent struct {
	Photo
	Event Event `json:"event"`
}

// PhotoSummary is a photo row with its face count for listings.
type PhotoSummary struct {
	Photo
	FaceCount int `json:"face_count"`
}
