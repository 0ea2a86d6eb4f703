package models

import (
	"time"

	"github.com/google/uuid"
)

type RemovalStatus string

const (
	RemovalStatusPending   RemovalStatus = "PENDING"
	RemovalStatusApproved  RemovalStatus = "APPROVED"
	RemovalStatusRejected  RemovalStatus = "REJECTED"
	RemovalStatusCompleted RemovalStatus = "COMPLETED"
)

// CanTransitionTo reports whether a removal request may move from s to next.
func (s RemovalStatus) CanTransitionTo(next RemovalStatus) bool {
	switch s {
	case RemovalStatusPending:
		return next == RemovalStatusApproved || next == RemovalStatusRejected
	case RemovalStatusApproved:
		return next == RemovalStatusCompleted
	}
	return false
}

// RemovalRequest is an attendee's request to take a photo down.
type RemovalRequest struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	PhotoID     uuid.UUID     `json:"photo_id" db:"photo_id"`
	RequestType string        `json:"request_type" db:"request_type"`
	UserName    string        `json:"user_name" db:"user_name"`
	Reason      string        `json:"reason,omitempty" db:"reason"`
	Status      RemovalStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// RemovalRequestWithPhoto joins a request with what is left of its photo.
// Photo is nil once the photo has been deleted.
type RemovalRequestWithPhoto struct {
	RemovalRequest
	Photo     *Photo `json:"photo,omitempty"`
	EventName string `json:"event_name,omitempty"`
}

// RemovalTask is the message published to NATS when a request is approved.
type RemovalTask struct {
	RequestID uuid.UUID `json:"request_id"`
	PhotoID   uuid.UUID `json:"photo_id"`
}

// PhotoNotification is published on every photo lifecycle change.
type PhotoNotification struct {
	Type          string      `json:"type"` // photo.indexed, photo.failed, photo.deleted
	PhotoID       uuid.UUID   `json:"photo_id"`
	EventID       uuid.UUID   `json:"event_id"`
	Status        PhotoStatus `json:"status,omitempty"`
	FacesDetected int         `json:"faces_detected"`
	Error         string      `json:"error,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

const (
	NotificationPhotoIndexed = "photo.indexed"
	NotificationPhotoFailed  = "photo.failed"
	NotificationPhotoDeleted = "photo.deleted"
)
