package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/internal/storage"
	"github.com/your-org/photofinder/pkg/dto"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// StatusForError maps a pipeline or storage error to an HTTP status.
func StatusForError(err error) int {
	switch pipeline.KindOf(err) {
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindInvalidInput:
		return http.StatusBadRequest
	case "":
	default:
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes err as an ErrorResponse. Server errors are logged with
// the request's logger.
func respondError(c *gin.Context, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(c.Request.Context(), nil).Error("request failed",
			"status", status, "kind", pipeline.KindOf(err), "error", err)
	}
	c.JSON(status, dto.ErrorResponse{Error: err.Error(), Kind: string(pipeline.KindOf(err))})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Kind: string(pipeline.KindInvalidInput)})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: msg, Kind: string(pipeline.KindNotFound)})
}

func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		badRequest(c, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

func photoImageURL(id uuid.UUID) string {
	return "/v1/photos/" + id.String() + "/image"
}
