package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/storage"
	"github.com/your-org/photofinder/pkg/dto"
)

type RemovalStore interface {
	CreateRemovalRequest(ctx context.Context, r *models.RemovalRequest) error
	ListRemovalRequests(ctx context.Context, status *models.RemovalStatus) ([]models.RemovalRequestWithPhoto, error)
	GetRemovalRequest(ctx context.Context, id uuid.UUID) (*models.RemovalRequestWithPhoto, error)
	UpdateRemovalStatus(ctx context.Context, id uuid.UUID, status models.RemovalStatus) (*models.RemovalRequest, error)
	DeleteRemovalRequest(ctx context.Context, id uuid.UUID) error
}

// RemovalPublisher hands an approved request to the deletion worker.
type RemovalPublisher interface {
	PublishRemoval(ctx context.Context, task models.RemovalTask) error
}

type RemovalHandler struct {
	store     RemovalStore
	publisher RemovalPublisher
}

func NewRemovalHandler(store RemovalStore, publisher RemovalPublisher) *RemovalHandler {
	return &RemovalHandler{store: store, publisher: publisher}
}

func removalResponse(r *models.RemovalRequestWithPhoto) dto.RemovalResponse {
	resp := dto.RemovalResponse{
		ID:          r.ID,
		PhotoID:     r.PhotoID,
		RequestType: r.RequestType,
		UserName:    r.UserName,
		Reason:      r.Reason,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Format(timeFormat),
		UpdatedAt:   r.UpdatedAt.Format(timeFormat),
	}
	if r.Photo != nil {
		resp.Photo = &dto.RemovalPhoto{
			ID:        r.Photo.ID,
			EventName: r.EventName,
			Status:    string(r.Photo.Status),
			ImageURL:  photoImageURL(r.Photo.ID),
		}
	}
	return resp
}

func (h *RemovalHandler) Create(c *gin.Context) {
	var req dto.CreateRemovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	r := &models.RemovalRequest{
		PhotoID:     req.PhotoID,
		RequestType: req.RequestType,
		UserName:    req.UserName,
		Reason:      req.Reason,
	}
	if err := h.store.CreateRemovalRequest(c.Request.Context(), r); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "photo not found")
			return
		}
		respondError(c, err)
		return
	}

	observability.LoggerFromContext(c.Request.Context(), nil).Info("removal request received",
		"request_id", r.ID, "photo_id", r.PhotoID, "request_type", r.RequestType)
	c.JSON(http.StatusCreated, removalResponse(&models.RemovalRequestWithPhoto{RemovalRequest: *r}))
}

func (h *RemovalHandler) List(c *gin.Context) {
	var status *models.RemovalStatus
	if s := c.Query("status"); s != "" {
		rs := models.RemovalStatus(s)
		switch rs {
		case models.RemovalStatusPending, models.RemovalStatusApproved, models.RemovalStatusRejected, models.RemovalStatusCompleted:
		default:
			badRequest(c, "invalid status")
			return
		}
		status = &rs
	}

	requests, err := h.store.ListRemovalRequests(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.RemovalResponse, 0, len(requests))
	for i := range requests {
		resp = append(resp, removalResponse(&requests[i]))
	}
	c.JSON(http.StatusOK, dto.RemovalListResponse{Requests: resp, Total: len(resp)})
}

func (h *RemovalHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "removal request")
	if !ok {
		return
	}

	r, err := h.store.GetRemovalRequest(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "removal request not found")
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, removalResponse(r))
}

// Approve marks the request APPROVED and queues the photo for deletion.
// Approving an already approved request queues it again.
func (h *RemovalHandler) Approve(c *gin.Context) {
	id, ok := parseID(c, "id", "removal request")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	r, err := h.store.GetRemovalRequest(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "removal request not found")
			return
		}
		respondError(c, err)
		return
	}

	if r.Status != models.RemovalStatusApproved {
		updated, err := h.store.UpdateRemovalStatus(ctx, id, models.RemovalStatusApproved)
		if err != nil {
			h.transitionError(c, err, "approved")
			return
		}
		r.RemovalRequest = *updated
	}

	if err := h.publisher.PublishRemoval(ctx, models.RemovalTask{RequestID: r.ID, PhotoID: r.PhotoID}); err != nil {
		observability.LoggerFromContext(ctx, nil).Error("queue removal task", "request_id", r.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "removal approved but could not be queued, retry approval"})
		return
	}

	c.JSON(http.StatusAccepted, removalResponse(r))
}

func (h *RemovalHandler) Reject(c *gin.Context) {
	id, ok := parseID(c, "id", "removal request")
	if !ok {
		return
	}

	updated, err := h.store.UpdateRemovalStatus(c.Request.Context(), id, models.RemovalStatusRejected)
	if err != nil {
		h.transitionError(c, err, "rejected")
		return
	}
	c.JSON(http.StatusOK, removalResponse(&models.RemovalRequestWithPhoto{RemovalRequest: *updated}))
}

func (h *RemovalHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "removal request")
	if !ok {
		return
	}

	if err := h.store.DeleteRemovalRequest(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "removal request not found")
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request deleted successfully"})
}

func (h *RemovalHandler) transitionError(c *gin.Context, err error, to string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		notFound(c, "removal request not found")
	case errors.Is(err, storage.ErrInvalidTransition):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "removal request cannot be " + to})
	default:
		respondError(c, err)
	}
}
