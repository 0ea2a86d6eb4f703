package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/storage"
)

const (
	MessageNoFace    = "No face detected"
	MessageNoMatches = "No matches found"
)

// SearchOptions narrows a search. The zero value searches every event.
type SearchOptions struct {
	EventID *uuid.UUID
}

// Match is one photo containing a face similar to the query face.
type Match struct {
	PhotoID    uuid.UUID `json:"photo_id"`
	StorageRef string    `json:"storage_ref"`
	EventID    uuid.UUID `json:"event_id"`
	EventName  string    `json:"event_name"`
	EventDate  time.Time `json:"event_date"`
	Confidence float64   `json:"confidence"`
}

// SearchResult lists matches in the vector index's ranking order.
type SearchResult struct {
	Message string  `json:"message"`
	Matches []Match `json:"matches"`
}

// SearchPipeline answers "which photos contain this face".
type SearchPipeline struct {
	extractor EmbeddingExtractor
	vectors   VectorIndex
	metadata  MetadataStore
	cfg       *settings
}

// NewSearchPipeline wires the extractor, index and metadata store into a search pipeline.
func NewSearchPipeline(extractor EmbeddingExtractor, vectors VectorIndex, metadata MetadataStore, opts ...Option) (*SearchPipeline, error) {
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	if metadata == nil {
		return nil, ErrMetadataStoreRequired
	}

	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &SearchPipeline{
		extractor: extractor,
		vectors:   vectors,
		metadata:  metadata,
		cfg:       cfg,
	}, nil
}

// SearchByImage finds photos containing the first face detected in image.
// "No face" and "no match" are results, not errors.
func (s *SearchPipeline) SearchByImage(ctx context.Context, image []byte, opts SearchOptions) (*SearchResult, error) {
	const op = "search"

	if len(image) == 0 {
		return nil, newError(KindInvalidInput, op, errors.New("image is empty"))
	}

	log := observability.LoggerFromContext(ctx, s.cfg.logger)
	if opts.EventID != nil {
		log = log.With("event_id", *opts.EventID)
	}

	start := time.Now()
	faces, err := s.extractor.DetectFaces(ctx, image)
	if err != nil {
		observability.Searches.WithLabelValues("error").Inc()
		return nil, newError(KindExtractionFailed, op, err)
	}
	observability.StageDuration.WithLabelValues("search_extract").Observe(time.Since(start).Seconds())

	if len(faces) == 0 {
		observability.Searches.WithLabelValues("no_face").Inc()
		return &SearchResult{Message: MessageNoFace, Matches: []Match{}}, nil
	}

	// First face in detection order, not the most confident one.
	query := faces[0].Embedding
	if len(query) == 0 {
		observability.Searches.WithLabelValues("error").Inc()
		return nil, newError(KindExtractionFailed, op, errors.New("query face has no embedding"))
	}

	start = time.Now()
	neighbours, err := s.vectors.Query(ctx, query, s.cfg.queryK, opts.EventID)
	if err != nil {
		observability.Searches.WithLabelValues("error").Inc()
		return nil, newError(KindVectorIndexFailed, op, err)
	}
	observability.StageDuration.WithLabelValues("search_query").Observe(time.Since(start).Seconds())

	if len(neighbours) == 0 {
		observability.Searches.WithLabelValues("no_match").Inc()
		return &SearchResult{Message: MessageNoMatches, Matches: []Match{}}, nil
	}

	matches := make([]Match, 0, len(neighbours))
	seen := make(map[uuid.UUID]bool, len(neighbours))
	for _, n := range neighbours {
		if seen[n.PhotoID] {
			continue
		}
		seen[n.PhotoID] = true

		photo, err := s.metadata.GetPhotoWithEvent(ctx, n.PhotoID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Debug("dropping match for deleted photo", "photo_id", n.PhotoID, "vector_id", n.VectorID)
				continue
			}
			observability.Searches.WithLabelValues("error").Inc()
			return nil, newError(KindMetadataReadFailed, op, fmt.Errorf("photo %s: %w", n.PhotoID, err))
		}
		if photo.Status != models.PhotoStatusCompleted {
			log.Debug("dropping match for unfinished photo", "photo_id", n.PhotoID, "status", photo.Status)
			continue
		}

		matches = append(matches, Match{
			PhotoID:    photo.ID,
			StorageRef: photo.StorageRef,
			EventID:    photo.Event.ID,
			EventName:  photo.Event.Name,
			EventDate:  photo.Event.Date,
			Confidence: confidence(n.Distance),
		})
	}

	if len(matches) == 0 {
		observability.Searches.WithLabelValues("no_match").Inc()
		return &SearchResult{Message: MessageNoMatches, Matches: matches}, nil
	}

	observability.Searches.WithLabelValues("match").Inc()
	log.Info("face search", "neighbours", len(neighbours), "matches", len(matches))
	return &SearchResult{
		Message: fmt.Sprintf("Found %d matching photo(s)", len(matches)),
		Matches: matches,
	}, nil
}

func confidence(distance float64) float64 {
	c := 1 - distance
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
