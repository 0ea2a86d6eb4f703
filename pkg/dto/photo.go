package dto

import (
	"time"

	"github.com/google/uuid"
)

type BBox struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

type FaceResponse struct {
	ID         uuid.UUID `json:"id"`
	Confidence float32   `json:"confidence"`
	BBox       BBox      `json:"bbox"`
}

type PhotoResponse struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	MimeType  string    `json:"mime_type"`
	Status    string    `json:"processing_status"`
	FaceCount int       `json:"face_count"`
	ImageURL  string    `json:"image_url"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

type PhotoDetailResponse struct {
	PhotoResponse
	Faces []FaceResponse `json:"faces"`
}

type PhotoListResponse struct {
	Photos []PhotoResponse `json:"photos"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type UploadResponse struct {
	PhotoID       uuid.UUID `json:"photo_id"`
	FacesDetected int       `json:"faces_detected"`
	Status        string    `json:"status"`
	ImageURL      string    `json:"image_url"`
}

// BatchUploadItem is the outcome for one file of a batch upload. Exactly one
// of Photo and Error is set.
type BatchUploadItem struct {
	Filename string          `json:"filename"`
	Photo    *UploadResponse `json:"photo,omitempty"`
	Error    string          `json:"error,omitempty"`
	Kind     string          `json:"kind,omitempty"`
}

type BatchUploadResponse struct {
	Results   []BatchUploadItem `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

type DeletePhotoResponse struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	Message      string    `json:"message"`
	FacesRemoved int       `json:"faces_removed"`
	Warnings     []string  `json:"warnings,omitempty"`
}

type PhotoURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// WSEvent is a WebSocket message for real-time photo lifecycle delivery.
type WSEvent struct {
	Type          string    `json:"type"` // photo.indexed, photo.failed, photo.deleted
	PhotoID       uuid.UUID `json:"photo_id"`
	EventID       uuid.UUID `json:"event_id"`
	Status        string    `json:"status,omitempty"`
	FacesDetected int       `json:"faces_detected"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
