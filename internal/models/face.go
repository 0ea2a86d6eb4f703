package models

import (
	"time"

	"github.com/google/uuid"
)

// BBox is a face bounding box in source-image pixel space.
type BBox struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// BBoxFromCorners converts x1, y1, x2, y2 corners into a BBox.
func BBoxFromCorners(c [4]float32) BBox {
	return BBox{X: c[0], Y: c[1], Width: c[2] - c[0], Height: c[3] - c[1]}
}

type Face struct {
	ID         uuid.UUID `json:"id" db:"id"`
	PhotoID    uuid.UUID `json:"photo_id" db:"photo_id"`
	VectorID   *string   `json:"vector_id,omitempty" db:"vector_id"`
	Confidence float32   `json:"confidence" db:"confidence"`
	BBox       BBox      `json:"bbox" db:"bbox"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DetectedFace is one face returned by the embedding extractor.
type DetectedFace struct {
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2
	Confidence float32    `json:"confidence"`
	Embedding  []float32  `json:"embedding"`
}

// VectorTags scope a vector index entry.
type VectorTags struct {
	PhotoID uuid.UUID `json:"photo_id"`
	EventID uuid.UUID `json:"event_id"`
}

// VectorMatch is one nearest-neighbour hit, distance normalised to [0,1].
type VectorMatch struct {
	VectorID string    `json:"vector_id"`
	PhotoID  uuid.UUID `json:"photo_id"`
	EventID  uuid.UUID `json:"event_id"`
	Distance float64   `json:"distance"`
}
