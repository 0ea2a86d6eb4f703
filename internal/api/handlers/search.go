package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/pkg/dto"
)

type Searcher interface {
	SearchByImage(ctx context.Context, image []byte, opts pipeline.SearchOptions) (*pipeline.SearchResult, error)
}

type SearchHandler struct {
	searcher       Searcher
	maxUploadBytes int64
}

func NewSearchHandler(searcher Searcher, maxUploadBytes int64) *SearchHandler {
	return &SearchHandler{searcher: searcher, maxUploadBytes: maxUploadBytes}
}

// Search finds photos containing the face in the uploaded "image". An
// optional "event_id" form field or query parameter narrows it to one event.
// No face and no match are 200 responses with an empty match list.
func (h *SearchHandler) Search(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		badRequest(c, "image file required")
		return
	}
	defer file.Close()

	r := io.Reader(file)
	if h.maxUploadBytes > 0 {
		r = io.LimitReader(file, h.maxUploadBytes+1)
	}
	imageData, err := io.ReadAll(r)
	if err != nil {
		badRequest(c, "read image failed")
		return
	}
	if h.maxUploadBytes > 0 && int64(len(imageData)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: errTooLarge.Error(), Kind: string(pipeline.KindInvalidInput)})
		return
	}

	var opts pipeline.SearchOptions
	if eventStr := c.DefaultPostForm("event_id", c.Query("event_id")); eventStr != "" {
		id, err := uuid.Parse(eventStr)
		if err != nil {
			badRequest(c, "invalid event_id")
			return
		}
		opts.EventID = &id
	}

	res, err := h.searcher.SearchByImage(c.Request.Context(), imageData, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	matches := make([]dto.SearchMatch, 0, len(res.Matches))
	for _, m := range res.Matches {
		matches = append(matches, dto.SearchMatch{
			PhotoID:    m.PhotoID,
			EventID:    m.EventID,
			EventName:  m.EventName,
			EventDate:  m.EventDate.Format(time.DateOnly),
			Confidence: m.Confidence,
			ImageURL:   photoImageURL(m.PhotoID),
		})
	}
	c.JSON(http.StatusOK, dto.SearchResponse{Message: res.Message, Matches: matches, Total: len(matches)})
}
