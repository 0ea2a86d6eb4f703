package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations returns the metadata schema in apply order.
func Migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_events_photos_faces",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id         UUID PRIMARY KEY,
					name       TEXT NOT NULL,
					date       TIMESTAMPTZ NOT NULL,
					status     TEXT NOT NULL DEFAULT 'upcoming',
					privacy    TEXT NOT NULL DEFAULT 'public',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE TABLE IF NOT EXISTS photos (
					id                UUID PRIMARY KEY,
					event_id          UUID NOT NULL REFERENCES events (id),
					storage_ref       TEXT NOT NULL UNIQUE,
					mime_type         TEXT NOT NULL,
					processing_status TEXT NOT NULL DEFAULT 'PENDING',
					created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE INDEX IF NOT EXISTS idx_photos_event_id ON photos (event_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_photos_status_updated ON photos (processing_status, updated_at);

				CREATE TABLE IF NOT EXISTS faces (
					id          UUID PRIMARY KEY,
					photo_id    UUID NOT NULL REFERENCES photos (id),
					vector_id   TEXT,
					confidence  REAL NOT NULL,
					bbox_x      REAL NOT NULL,
					bbox_y      REAL NOT NULL,
					bbox_width  REAL NOT NULL,
					bbox_height REAL NOT NULL,
					created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE INDEX IF NOT EXISTS idx_faces_photo_id ON faces (photo_id);
			`,
		},
		{
			Version: 2,
			Name:    "create_removal_requests",
			SQL: `
				-- No foreign key: a completed request outlives its photo.
				CREATE TABLE IF NOT EXISTS removal_requests (
					id           UUID PRIMARY KEY,
					photo_id     UUID NOT NULL,
					request_type TEXT NOT NULL,
					user_name    TEXT NOT NULL,
					reason       TEXT NOT NULL DEFAULT '',
					status       TEXT NOT NULL DEFAULT 'PENDING',
					created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE INDEX IF NOT EXISTS idx_removal_requests_status ON removal_requests (status, created_at DESC);
			`,
		},
	}
}

// Migrate applies every migration newer than the recorded schema version.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range Migrations() {
		if m.Version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %d %s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}
