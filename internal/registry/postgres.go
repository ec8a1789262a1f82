package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/wardlea/diarist/pkg/types"
)

// Compile-time assertion that PostgresStore satisfies the Store interface.
var _ Store = (*PostgresStore)(nil)

// ddlEnrolledSpeakers creates the enrollment table. enrolled_at provides the
// stable enrollment order that [PostgresStore.Snapshot] relies on; the
// centroid column width must match the upstream embedding model.
const ddlEnrolledSpeakers = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS enrolled_speakers (
    id          TEXT         PRIMARY KEY,
    name        TEXT         NOT NULL,
    centroid    vector(%d)   NOT NULL,
    color_index INT          NOT NULL DEFAULT 0,
    enrolled_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);`

// PostgresStore is the PostgreSQL-backed implementation of [Store], using a
// pgvector column for reference centroids so the nearest enrolled voice to a
// probe embedding can be found server-side. All operations are safe for
// concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, registers pgvector types
// on every connection, and ensures the enrollment table exists.
//
// embeddingDimensions must match the output dimension of the upstream
// embedding model (e.g., 192 or 512). Changing it after the first migration
// requires a manual schema change.
func NewPostgresStore(ctx context.Context, dsn string, embeddingDimensions int) (*PostgresStore, error) {
	if embeddingDimensions <= 0 {
		return nil, fmt.Errorf("registry: embedding dimensions must be positive, got %d", embeddingDimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("registry: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("registry: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf(ddlEnrolledSpeakers, embeddingDimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Ping probes the database, for readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Add implements [Store.Add].
func (s *PostgresStore) Add(ctx context.Context, sp types.EnrolledSpeaker) (types.EnrolledSpeaker, error) {
	if sp.ID == "" {
		id, err := generateID()
		if err != nil {
			return types.EnrolledSpeaker{}, fmt.Errorf("registry: generate id: %w", err)
		}
		sp.ID = id
	}

	const q = `
		INSERT INTO enrolled_speakers (id, name, centroid, color_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, sp.ID, sp.Name, pgvector.NewVector(sp.Centroid), sp.ColorIndex)
	if err != nil {
		return types.EnrolledSpeaker{}, fmt.Errorf("registry: add %q: %w", sp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.EnrolledSpeaker{}, ErrDuplicateID
	}
	return sp, nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (types.EnrolledSpeaker, error) {
	const q = `
		SELECT id, name, centroid, color_index
		FROM   enrolled_speakers
		WHERE  id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	sp, err := scanEnrolled(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.EnrolledSpeaker{}, ErrNotFound
	}
	if err != nil {
		return types.EnrolledSpeaker{}, fmt.Errorf("registry: get %q: %w", id, err)
	}
	return sp, nil
}

// Snapshot implements [Store.Snapshot]. Records come back in enrollment
// order (enrolled_at, then id for same-instant ties).
func (s *PostgresStore) Snapshot(ctx context.Context) ([]types.EnrolledSpeaker, error) {
	const q = `
		SELECT id, name, centroid, color_index
		FROM   enrolled_speakers
		ORDER  BY enrolled_at, id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("registry: snapshot: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.EnrolledSpeaker, error) {
		return scanEnrolled(row)
	})
	if err != nil {
		return nil, fmt.Errorf("registry: snapshot scan: %w", err)
	}
	return out, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, sp types.EnrolledSpeaker) error {
	const q = `
		UPDATE enrolled_speakers
		SET    name = $2, centroid = $3, color_index = $4
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, sp.ID, sp.Name, pgvector.NewVector(sp.Centroid), sp.ColorIndex)
	if err != nil {
		return fmt.Errorf("registry: update %q: %w", sp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove implements [Store.Remove].
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM enrolled_speakers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("registry: remove %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Nearest returns the enrolled voice closest to the probe embedding by
// cosine distance, with its similarity. Useful for enrollment tooling
// ("which known voice does this sample resemble?"); the live decision path
// never queries the database.
func (s *PostgresStore) Nearest(ctx context.Context, probe []float32) (types.EnrolledSpeaker, float64, error) {
	const q = `
		SELECT id, name, centroid, color_index,
		       1 - (centroid <=> $1) AS similarity
		FROM   enrolled_speakers
		ORDER  BY centroid <=> $1
		LIMIT  1`

	row := s.pool.QueryRow(ctx, q, pgvector.NewVector(probe))
	var sp types.EnrolledSpeaker
	var vec pgvector.Vector
	var sim float64
	if err := row.Scan(&sp.ID, &sp.Name, &vec, &sp.ColorIndex, &sim); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.EnrolledSpeaker{}, 0, ErrNotFound
		}
		return types.EnrolledSpeaker{}, 0, fmt.Errorf("registry: nearest: %w", err)
	}
	sp.Centroid = vec.Slice()
	return sp, sim, nil
}

// scanEnrolled scans one enrolled_speakers row in column order
// (id, name, centroid, color_index).
func scanEnrolled(row pgx.Row) (types.EnrolledSpeaker, error) {
	var sp types.EnrolledSpeaker
	var vec pgvector.Vector
	if err := row.Scan(&sp.ID, &sp.Name, &vec, &sp.ColorIndex); err != nil {
		return types.EnrolledSpeaker{}, err
	}
	sp.Centroid = vec.Slice()
	return sp, nil
}
