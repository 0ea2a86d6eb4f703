package dto

import "github.com/google/uuid"

type SearchMatch struct {
	PhotoID    uuid.UUID `json:"photo_id"`
	EventID    uuid.UUID `json:"event_id"`
	EventName  string    `json:"event_name"`
	EventDate  string    `json:"event_date"`
	Confidence float64   `json:"confidence"`
	ImageURL   string    `json:"image_url"`
}

type SearchResponse struct {
	Message string        `json:"message"`
	Matches []SearchMatch `json:"matches"`
	Total   int           `json:"total"`
}
