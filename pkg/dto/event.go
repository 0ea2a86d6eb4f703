package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateEventRequest struct {
	Name    string    `json:"name" binding:"required,max=200"`
	Date    time.Time `json:"date"`
	Privacy string    `json:"privacy" binding:"omitempty,oneof=public attendees restricted"`
}

type UpdateEventStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=upcoming active completed"`
}

type EventResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Date      string    `json:"date"`
	Status    string    `json:"status"`
	Privacy   string    `json:"privacy"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

// ErrorResponse is the body of every non-2xx reply. Kind carries the
// pipeline error kind when there is one.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
