package dto

import "github.com/google/uuid"

type CreateRemovalRequest struct {
	PhotoID     uuid.UUID `json:"photo_id" binding:"required"`
	RequestType string    `json:"request_type" binding:"required,max=50"`
	UserName    string    `json:"user_name" binding:"required,max=200"`
	Reason      string    `json:"reason" binding:"max=2000"`
}

// RemovalPhoto is what is left of the photo a request refers to.
type RemovalPhoto struct {
	ID        uuid.UUID `json:"id"`
	EventName string    `json:"event_name"`
	Status    string    `json:"processing_status"`
	ImageURL  string    `json:"image_url"`
}

type RemovalResponse struct {
	ID          uuid.UUID     `json:"id"`
	PhotoID     uuid.UUID     `json:"photo_id"`
	RequestType string        `json:"request_type"`
	UserName    string        `json:"user_name"`
	Reason      string        `json:"reason,omitempty"`
	Status      string        `json:"status"`
	Photo       *RemovalPhoto `json:"photo"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

type RemovalListResponse struct {
	Requests []RemovalResponse `json:"requests"`
	Total    int               `json:"total"`
}
