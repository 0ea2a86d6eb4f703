package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/internal/storage"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found kind", err: &pipeline.Error{Kind: pipeline.KindNotFound, Op: "delete"}, want: http.StatusNotFound},
		{name: "invalid input kind", err: &pipeline.Error{Kind: pipeline.KindInvalidInput, Op: "ingest"}, want: http.StatusBadRequest},
		{name: "storage unavailable", err: &pipeline.Error{Kind: pipeline.KindStorageUnavailable, Op: "ingest"}, want: http.StatusInternalServerError},
		{name: "extraction failed", err: &pipeline.Error{Kind: pipeline.KindExtractionFailed, Op: "search"}, want: http.StatusInternalServerError},
		{
			name: "kind wins over wrapped storage error",
			err:  &pipeline.Error{Kind: pipeline.KindMetadataReadFailed, Op: "search", Err: storage.ErrNotFound},
			want: http.StatusInternalServerError,
		},
		{name: "storage not found", err: fmt.Errorf("get: %w", storage.ErrNotFound), want: http.StatusNotFound},
		{name: "invalid transition", err: storage.ErrInvalidTransition, want: http.StatusConflict},
		{name: "plain error", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusForError(tc.err))
		})
	}
}
