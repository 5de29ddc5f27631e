// Package pgstore provides a PostgreSQL implementation of savecell.Storage.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/downtime/internal/savecell"
)

var tracer = otel.Tracer("github.com/linnemanlabs/downtime/internal/savecell/pgstore")

//go:embed schema.sql
var schema string

// Store keeps saved-state documents in the saved_documents table, one row
// per key.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Load returns the document body for key, or savecell.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("downtime.state.key", key),
	))
	defer span.End()

	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM saved_documents WHERE key = $1`, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", savecell.ErrNotFound, key)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return body, nil
}

// Store upserts the whole document for key and bumps its revision.
func (s *Store) Store(ctx context.Context, key string, data []byte) error {
	ctx, span := tracer.Start(ctx, "pgstore.Store", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("downtime.state.key", key),
		attribute.Int("downtime.state.bytes", len(data)),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO saved_documents (key, body, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			body       = EXCLUDED.body,
			revision   = saved_documents.revision + 1,
			updated_at = EXCLUDED.updated_at`,
		key, data, time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}
