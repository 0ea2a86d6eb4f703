package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/photofinder/internal/models"
)

// PGVectorIndex keeps face embeddings in a pgvector table next to the metadata.
// Vectors carry no foreign key to photos: a failed delete may leave one behind
// and the search path drops hits whose photo is gone.
type PGVectorIndex struct {
	pool        *pgxpool.Pool
	dimension   int
	maxDistance float64
}

func NewPGVectorIndex(pool *pgxpool.Pool, dimension int, maxDistance float64) *PGVectorIndex {
	return &PGVectorIndex{pool: pool, dimension: dimension, maxDistance: maxDistance}
}

// EnsureSchema creates the vector extension, table and cosine HNSW index.
func (x *PGVectorIndex) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS face_vectors (
			id         UUID PRIMARY KEY,
			photo_id   UUID NOT NULL,
			event_id   UUID NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, x.dimension),
		`CREATE INDEX IF NOT EXISTS idx_face_vectors_embedding ON face_vectors USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_face_vectors_event ON face_vectors (event_id)`,
	}
	for _, stmt := range stmts {
		if _, err := x.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

func (x *PGVectorIndex) checkDimension(vector []float32) error {
	if len(vector) != x.dimension {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(vector), x.dimension)
	}
	return nil
}

func (x *PGVectorIndex) Insert(ctx context.Context, vector []float32, tags models.VectorTags) (string, error) {
	if err := x.checkDimension(vector); err != nil {
		return "", err
	}
	id := uuid.New()
	_, err := x.pool.Exec(ctx,
		`INSERT INTO face_vectors (id, photo_id, event_id, embedding) VALUES ($1, $2, $3, $4)`,
		id, tags.PhotoID, tags.EventID, pgvector.NewVector(vector))
	if err != nil {
		return "", fmt.Errorf("insert vector: %w", err)
	}
	return id.String(), nil
}

// Delete removes a vector. Unknown ids are not an error.
func (x *PGVectorIndex) Delete(ctx context.Context, vectorID string) error {
	id, err := uuid.Parse(vectorID)
	if err != nil {
		return nil
	}
	if _, err := x.pool.Exec(ctx, `DELETE FROM face_vectors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete vector %s: %w", vectorID, err)
	}
	return nil
}

// Query returns up to k vectors within maxDistance of vector, nearest first.
// Distances are cosine distance halved into [0,1].
func (x *PGVectorIndex) Query(ctx context.Context, vector []float32, k int, eventID *uuid.UUID) ([]models.VectorMatch, error) {
	if err := x.checkDimension(vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}

	vec := pgvector.NewVector(vector)
	// <=> is cosine distance in [0,2].
	rawMax := x.maxDistance * 2

	query := `
		SELECT id, photo_id, event_id, embedding <=> $1 AS distance
		FROM face_vectors
		WHERE embedding <=> $1 <= $2
		ORDER BY embedding <=> $1
		LIMIT $3`
	args := []interface{}{vec, rawMax, k}
	if eventID != nil {
		query = `
			SELECT id, photo_id, event_id, embedding <=> $1 AS distance
			FROM face_vectors
			WHERE event_id = $4 AND embedding <=> $1 <= $2
			ORDER BY embedding <=> $1
			LIMIT $3`
		args = append(args, *eventID)
	}

	rows, err := x.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	matches := []models.VectorMatch{}
	for rows.Next() {
		var (
			m  models.VectorMatch
			id uuid.UUID
			d  float64
		)
		if err := rows.Scan(&id, &m.PhotoID, &m.EventID, &d); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		m.VectorID = id.String()
		m.Distance = normaliseDistance(d)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (x *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

// normaliseDistance maps cosine distance [0,2] onto [0,1].
func normaliseDistance(d float64) float64 {
	d /= 2
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}
