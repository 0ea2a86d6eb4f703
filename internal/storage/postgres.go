package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/photofinder/internal/config"
	"github.com/your-org/photofinder/internal/models"
)

const pgForeignKeyViolation = "23503"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool, e.g. one shared with PGVectorIndex.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the connection pool for collaborators sharing the database.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Status == "" {
		ev.Status = models.EventStatusUpcoming
	}
	if ev.Privacy == "" {
		ev.Privacy = models.PrivacyPublic
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (id, name, date, status, privacy) VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		ev.ID, ev.Name, ev.Date, string(ev.Status), string(ev.Privacy),
	).Scan(&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, date, status, privacy, created_at, updated_at FROM events ORDER BY date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Date, &ev.Status, &ev.Privacy, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	ev := &models.Event{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, date, status, privacy, created_at, updated_at FROM events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.Name, &ev.Date, &ev.Status, &ev.Privacy, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// UpdateEventStatus moves an event forward; see models.EventStatus.CanTransitionTo.
func (s *PostgresStore) UpdateEventStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) (*models.Event, error) {
	ev := &models.Event{}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, name, date, status, privacy, created_at, updated_at FROM events WHERE id = $1 FOR UPDATE`, id,
		).Scan(&ev.ID, &ev.Name, &ev.Date, &ev.Status, &ev.Privacy, &ev.CreatedAt, &ev.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !ev.Status.CanTransitionTo(status) {
			return ErrInvalidTransition
		}
		return tx.QueryRow(ctx,
			`UPDATE events SET status = $1, updated_at = now() WHERE id = $2 RETURNING status, updated_at`,
			string(status), id,
		).Scan(&ev.Status, &ev.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("update event status: %w", err)
	}
	return ev, nil
}

// --- Photos ---

const photoColumns = `id, event_id, storage_ref, mime_type, processing_status, created_at, updated_at`

func scanPhoto(row pgx.Row, p *models.Photo) error {
	return row.Scan(&p.ID, &p.EventID, &p.StorageRef, &p.MimeType, &p.Status, &p.CreatedAt, &p.UpdatedAt)
}

// CreatePhoto inserts a photo row. A missing event yields ErrEventNotFound.
func (s *PostgresStore) CreatePhoto(ctx context.Context, p *models.Photo) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.PhotoStatusPending
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO photos (id, event_id, storage_ref, mime_type, processing_status) VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		p.ID, p.EventID, p.StorageRef, p.MimeType, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("create photo: event %s: %w", p.EventID, ErrEventNotFound)
		}
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

// UpdatePhotoStatus applies status only if the photo currently holds one of
// its allowed predecessors. ErrInvalidTransition otherwise, ErrNotFound if the
// photo is gone.
func (s *PostgresStore) UpdatePhotoStatus(ctx context.Context, id uuid.UUID, status models.PhotoStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photos SET processing_status = $1, updated_at = now()
		 WHERE id = $2 AND processing_status = ANY($3)`,
		string(status), id, statusStrings(status.Predecessors()))
	if err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM photos WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *PostgresStore) GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	p := &models.Photo{}
	if err := scanPhoto(s.pool.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id), p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPhotoWithFaces(ctx context.Context, id uuid.UUID) (*models.PhotoWithFaces, error) {
	p, err := s.GetPhoto(ctx, id)
	if err != nil {
		return nil, err
	}
	faces, err := s.ListFaces(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.PhotoWithFaces{Photo: *p, Faces: faces}, nil
}

func (s *PostgresStore) GetPhotoWithEvent(ctx context.Context, id uuid.UUID) (*models.PhotoWithEvent, error) {
	out := &models.PhotoWithEvent{}
	p, ev := &out.Photo, &out.Event
	err := s.pool.QueryRow(ctx,
		`SELECT p.id, p.event_id, p.storage_ref, p.mime_type, p.processing_status, p.created_at, p.updated_at,
		        e.id, e.name, e.date, e.status, e.privacy, e.created_at, e.updated_at
		 FROM photos p JOIN events e ON e.id = p.event_id
		 WHERE p.id = $1`, id,
	).Scan(&p.ID, &p.EventID, &p.StorageRef, &p.MimeType, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		&ev.ID, &ev.Name, &ev.Date, &ev.Status, &ev.Privacy, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get photo with event: %w", err)
	}
	return out, nil
}

// ListPhotos pages through an event's photos, newest first, with face counts.
func (s *PostgresStore) ListPhotos(ctx context.Context, eventID uuid.UUID, limit, offset int) ([]models.PhotoSummary, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM photos WHERE event_id = $1`, eventID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count photos: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.event_id, p.storage_ref, p.mime_type, p.processing_status, p.created_at, p.updated_at,
		        (SELECT COUNT(*) FROM faces f WHERE f.photo_id = p.id)
		 FROM photos p
		 WHERE p.event_id = $1
		 ORDER BY p.created_at DESC
		 LIMIT $2 OFFSET $3`,
		eventID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	photos := []models.PhotoSummary{}
	for rows.Next() {
		var ps models.PhotoSummary
		if err := rows.Scan(&ps.ID, &ps.EventID, &ps.StorageRef, &ps.MimeType, &ps.Status,
			&ps.CreatedAt, &ps.UpdatedAt, &ps.FaceCount); err != nil {
			return nil, 0, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, ps)
	}
	return photos, total, rows.Err()
}

func (s *PostgresStore) ListPhotosByStatus(ctx context.Context, status models.PhotoStatus, updatedBefore time.Time) ([]models.Photo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE processing_status = $1 AND updated_at < $2
		 ORDER BY updated_at`,
		string(status), updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("list photos by status: %w", err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		var p models.Photo
		if err := scanPhoto(rows, &p); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// DeletePhoto removes the photo row. Its faces must be deleted first.
func (s *PostgresStore) DeletePhoto(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Faces ---

func (s *PostgresStore) CreateFace(ctx context.Context, f *models.Face) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO faces (id, photo_id, vector_id, confidence, bbox_x, bbox_y, bbox_width, bbox_height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		f.ID, f.PhotoID, f.VectorID, f.Confidence, f.BBox.X, f.BBox.Y, f.BBox.Width, f.BBox.Height,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create face: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFaces(ctx context.Context, photoID uuid.UUID) ([]models.Face, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, photo_id, vector_id, confidence, bbox_x, bbox_y, bbox_width, bbox_height, created_at
		 FROM faces WHERE photo_id = $1 ORDER BY created_at`, photoID)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	faces := []models.Face{}
	for rows.Next() {
		var f models.Face
		if err := rows.Scan(&f.ID, &f.PhotoID, &f.VectorID, &f.Confidence,
			&f.BBox.X, &f.BBox.Y, &f.BBox.Width, &f.BBox.Height, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

func (s *PostgresStore) DeleteFacesByPhoto(ctx context.Context, photoID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM faces WHERE photo_id = $1`, photoID)
	if err != nil {
		return 0, fmt.Errorf("delete faces: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Removal requests ---

// CreateRemovalRequest files a PENDING request. ErrNotFound if the photo does not exist.
func (s *PostgresStore) CreateRemovalRequest(ctx context.Context, r *models.RemovalRequest) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.Status = models.RemovalStatusPending
	err := s.pool.QueryRow(ctx,
		`INSERT INTO removal_requests (id, photo_id, request_type, user_name, reason, status)
		 SELECT $1, $2, $3, $4, $5, $6
		 WHERE EXISTS (SELECT 1 FROM photos WHERE id = $2)
		 RETURNING created_at, updated_at`,
		r.ID, r.PhotoID, r.RequestType, r.UserName, r.Reason, string(r.Status),
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("create removal request: photo %s: %w", r.PhotoID, ErrNotFound)
		}
		return fmt.Errorf("create removal request: %w", err)
	}
	return nil
}

const removalSelect = `
	SELECT r.id, r.photo_id, r.request_type, r.user_name, r.reason, r.status, r.created_at, r.updated_at,
	       p.id, p.event_id, p.storage_ref, p.mime_type, p.processing_status, p.created_at, p.updated_at,
	       e.name
	FROM removal_requests r
	LEFT JOIN photos p ON p.id = r.photo_id
	LEFT JOIN events e ON e.id = p.event_id`

func scanRemoval(row pgx.Row) (*models.RemovalRequestWithPhoto, error) {
	var (
		r         models.RemovalRequestWithPhoto
		photoID   *uuid.UUID
		eventID   *uuid.UUID
		ref, mime *string
		status    *string
		created   *time.Time
		updated   *time.Time
		eventName *string
	)
	err := row.Scan(&r.ID, &r.PhotoID, &r.RequestType, &r.UserName, &r.Reason, &r.Status, &r.CreatedAt, &r.UpdatedAt,
		&photoID, &eventID, &ref, &mime, &status, &created, &updated, &eventName)
	if err != nil {
		return nil, err
	}
	if photoID != nil {
		r.Photo = &models.Photo{
			ID:         *photoID,
			EventID:    *eventID,
			StorageRef: *ref,
			MimeType:   *mime,
			Status:     models.PhotoStatus(*status),
			CreatedAt:  *created,
			UpdatedAt:  *updated,
		}
	}
	if eventName != nil {
		r.EventName = *eventName
	}
	return &r, nil
}

// ListRemovalRequests returns requests newest first, optionally only those in status.
func (s *PostgresStore) ListRemovalRequests(ctx context.Context, status *models.RemovalStatus) ([]models.RemovalRequestWithPhoto, error) {
	query := removalSelect + ` ORDER BY r.created_at DESC`
	var args []interface{}
	if status != nil {
		query = removalSelect + ` WHERE r.status = $1 ORDER BY r.created_at DESC`
		args = append(args, string(*status))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list removal requests: %w", err)
	}
	defer rows.Close()

	requests := []models.RemovalRequestWithPhoto{}
	for rows.Next() {
		r, err := scanRemoval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan removal request: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func (s *PostgresStore) GetRemovalRequest(ctx context.Context, id uuid.UUID) (*models.RemovalRequestWithPhoto, error) {
	r, err := scanRemoval(s.pool.QueryRow(ctx, removalSelect+` WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get removal request: %w", err)
	}
	return r, nil
}

// UpdateRemovalStatus applies status if the request's current status allows it.
func (s *PostgresStore) UpdateRemovalStatus(ctx context.Context, id uuid.UUID, status models.RemovalStatus) (*models.RemovalRequest, error) {
	r := &models.RemovalRequest{}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, photo_id, request_type, user_name, reason, status, created_at, updated_at
			 FROM removal_requests WHERE id = $1 FOR UPDATE`, id,
		).Scan(&r.ID, &r.PhotoID, &r.RequestType, &r.UserName, &r.Reason, &r.Status, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !r.Status.CanTransitionTo(status) {
			return ErrInvalidTransition
		}
		return tx.QueryRow(ctx,
			`UPDATE removal_requests SET status = $1, updated_at = now() WHERE id = $2 RETURNING status, updated_at`,
			string(status), id,
		).Scan(&r.Status, &r.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("update removal status: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) DeleteRemovalRequest(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM removal_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete removal request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
