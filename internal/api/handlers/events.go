package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/storage"
	"github.com/your-org/photofinder/pkg/dto"
)

type EventStore interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
	ListEvents(ctx context.Context) ([]models.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	UpdateEventStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) (*models.Event, error)
}

type EventHandler struct {
	store EventStore
}

func NewEventHandler(store EventStore) *EventHandler {
	return &EventHandler{store: store}
}

func eventResponse(ev *models.Event) dto.EventResponse {
	return dto.EventResponse{
		ID:        ev.ID,
		Name:      ev.Name,
		Date:      ev.Date.Format(time.DateOnly),
		Status:    string(ev.Status),
		Privacy:   string(ev.Privacy),
		CreatedAt: ev.CreatedAt.Format(timeFormat),
		UpdatedAt: ev.UpdatedAt.Format(timeFormat),
	}
}

func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Date.IsZero() {
		badRequest(c, "date is required")
		return
	}

	ev := &models.Event{
		Name:    req.Name,
		Date:    req.Date,
		Status:  models.EventStatusUpcoming,
		Privacy: models.PrivacyLevel(req.Privacy),
	}
	if err := h.store.CreateEvent(c.Request.Context(), ev); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, eventResponse(ev))
}

func (h *EventHandler) List(c *gin.Context) {
	events, err := h.store.ListEvents(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, eventResponse(&events[i]))
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: len(resp)})
}

func (h *EventHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "event")
	if !ok {
		return
	}

	ev, err := h.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "event not found")
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventResponse(ev))
}

// UpdateStatus moves an event forward: upcoming → active → completed.
func (h *EventHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id", "event")
	if !ok {
		return
	}

	var req dto.UpdateEventStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ev, err := h.store.UpdateEventStatus(c.Request.Context(), id, models.EventStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			notFound(c, "event not found")
		case errors.Is(err, storage.ErrInvalidTransition):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "event cannot move to " + req.Status})
		default:
			respondError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, eventResponse(ev))
}
