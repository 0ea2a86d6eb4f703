package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photofinder/internal/models"
)

func ingestFaces(t *testing.T, h *harness, eventID uuid.UUID, vecs ...[]float32) uuid.UUID {
	t.Helper()
	h.extractor.Faces = nil
	for _, v := range vecs {
		h.extractor.Faces = append(h.extractor.Faces, face(v...))
	}
	res, err := h.ingest.Ingest(context.Background(), jpegBytes, "image/jpeg", eventID)
	require.NoError(t, err)
	return res.PhotoID
}

func TestSearchNoFaceDetected(t *testing.T) {
	h := newHarness(t)

	res, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, MessageNoFace, res.Message)
	assert.NotNil(t, res.Matches)
	assert.Empty(t, res.Matches)

	_, _, queries := h.vectors.Calls()
	assert.Zero(t, queries)
	assert.Zero(t, h.metadata.Calls())
}

func TestSearchNoMatches(t *testing.T) {
	h := newHarness(t)
	h.extractor.Faces = []models.DetectedFace{face(1, 0)}

	res, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, MessageNoMatches, res.Message)
	assert.NotNil(t, res.Matches)
	assert.Empty(t, res.Matches)
}

func TestSearchFindsIngestedPhoto(t *testing.T) {
	h := newHarness(t)
	photoID := ingestFaces(t, h, h.event.ID, []float32{1, 0}, []float32{0, 1})

	h.extractor.Faces = []models.DetectedFace{face(1, 0)}
	res, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)

	require.Len(t, res.Matches, 1, "two faces of the same photo collapse into one match")
	assert.Equal(t, "Found 1 matching photo(s)", res.Message)

	m := res.Matches[0]
	assert.Equal(t, photoID, m.PhotoID)
	assert.Equal(t, h.event.ID, m.EventID)
	assert.Equal(t, "Spring Gala", m.EventName)
	assert.Equal(t, h.event.Date, m.EventDate)
	assert.InDelta(t, 1.0, m.Confidence, 1e-6)
	assert.NotEmpty(t, m.StorageRef)
}

func TestSearchKeepsIndexRanking(t *testing.T) {
	h := newHarness(t)
	near := ingestFaces(t, h, h.event.ID, []float32{1, 0.1})
	far := ingestFaces(t, h, h.event.ID, []float32{1, 1})
	exact := ingestFaces(t, h, h.event.ID, []float32{1, 0})

	h.extractor.Faces = []models.DetectedFace{face(1, 0)}
	res, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)

	require.Len(t, res.Matches, 3)
	assert.Equal(t, []uuid.UUID{exact, near, far}, []uuid.UUID{
		res.Matches[0].PhotoID, res.Matches[1].PhotoID, res.Matches[2].PhotoID,
	})
	for i := 1; i < len(res.Matches); i++ {
		assert.GreaterOrEqual(t, res.Matches[i-1].Confidence, res.Matches[i].Confidence)
	}
}

func TestSearchUsesFirstDetectedFace(t *testing.T) {
	h := newHarness(t)
	first := ingestFaces(t, h, h.event.ID, []float32{1, 0})
	ingestFaces(t, h, h.event.ID, []float32{0, 1})
	h.vectors.MaxDistance = 0.1

	h.extractor.Faces = []models.DetectedFace{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.5, Embedding: []float32{1, 0}},
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.99, Embedding: []float32{0, 1}},
	}
	res, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, first, res.Matches[0].PhotoID)
}

func TestSearchScopedToEvent(t *testing.T) {
	h := newHarness(t)
	other := h.metadata.AddEvent("Autumn Run")
	inGala := ingestFaces(t, h, h.event.ID, []float32{1, 0})
	inRun := ingestFaces(t, h, other.ID, []float32{1, 0})

	h.extractor.Faces = []models.DetectedFace{face(1, 0)}

	all, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, all.Matches, 2)

	scoped, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{EventID: &other.ID})
	require.NoError(t, err)
	require.Len(t, scoped.Matches, 1)
	assert.Equal(t, inRun, scoped.Matches[0].PhotoID)
	assert.NotEqual(t, inGala, scoped.Matches[0].PhotoID)
	assert.Equal(t, "Autumn Run", scoped.Matches[0].EventName)
}

func TestSearchDropsUnknownAndUnfinishedPhotos(t *testing.T) {
	h := newHarness(t)
	done := ingestFaces(t, h, h.event.ID, []float32{1, 0})

	processing := models.Photo{ID: uuid.New(), EventID: h.event.ID, StorageRef: "x", Status: models.PhotoStatusProcessing}
	h.metadata.SetPhoto(processing)

	h.vectors.QueryResult = []models.VectorMatch{
		{VectorID: "v-gone", PhotoID: uuid.New(), EventID: h.event.ID, Distance: 0.01},
		{VectorID: "v-proc", PhotoID: processing.ID, EventID: h.event.ID, Distance: 0.02},
		{VectorID: "v-done", PhotoID: done, EventID: h.event.ID, Distance: 0.05},
		{VectorID: "v-done-2", PhotoID: done, EventID: h.event.ID, Distance: 0.2},
	}
	h.extractor.Faces = []models.DetectedFace{face(1, 0)}

	res, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, done, res.Matches[0].PhotoID)
	assert.InDelta(t, 0.95, res.Matches[0].Confidence, 1e-9, "first occurrence wins")
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
		setup func(h *harness)
		want  Kind
	}{
		{
			name:  "empty image",
			image: nil,
			setup: func(*harness) {},
			want:  KindInvalidInput,
		},
		{
			name:  "extractor fails",
			image: jpegBytes,
			setup: func(h *harness) { h.extractor.Err = errors.New("bad pixels") },
			want:  KindExtractionFailed,
		},
		{
			name:  "index fails",
			image: jpegBytes,
			setup: func(h *harness) {
				h.extractor.Faces = []models.DetectedFace{face(1, 0)}
				h.vectors.QueryError = errors.New("timeout")
			},
			want: KindVectorIndexFailed,
		},
		{
			name:  "metadata fails",
			image: jpegBytes,
			setup: func(h *harness) {
				h.extractor.Faces = []models.DetectedFace{face(1, 0)}
				h.vectors.QueryResult = []models.VectorMatch{{VectorID: "v", PhotoID: uuid.New(), Distance: 0.1}}
				h.metadata.GetError = errors.New("connection reset")
			},
			want: KindMetadataReadFailed,
		},
		{
			name:  "face without embedding",
			image: jpegBytes,
			setup: func(h *harness) {
				h.extractor.Faces = []models.DetectedFace{{BBox: [4]float32{0, 0, 1, 1}}}
			},
			want: KindExtractionFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)

			_, err := h.search.SearchByImage(context.Background(), tc.image, SearchOptions{})
			require.Error(t, err)
			assert.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestSearchQueryK(t *testing.T) {
	h := newHarness(t, WithQueryK(2))
	for i := 0; i < 4; i++ {
		ingestFaces(t, h, h.event.ID, []float32{1, float32(i) * 0.1})
	}

	h.extractor.Faces = []models.DetectedFace{face(1, 0)}
	res, err := h.search.SearchByImage(context.Background(), jpegBytes, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 1.0, confidence(0))
	assert.Equal(t, 1.0, confidence(-0.2))
	assert.Equal(t, 0.0, confidence(1.5))
	assert.InDelta(t, 0.75, confidence(0.25), 1e-12)
}
