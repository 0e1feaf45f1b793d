// Package postgres provides a PostgreSQL-backed [archive.Store].
//
// Records live in a single session_archive table. [Migrate] applies the
// embedded goose migrations that create it.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Save(ctx, rec)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/livevoice/pkg/archive"
)

// defaultListLimit caps List when no limit is given.
const defaultListLimit = 100

var _ archive.Store = (*Store)(nil)

// Store is an [archive.Store] backed by a [pgxpool.Pool].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if _, err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [archive.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive store: ping: %w", err)
	}
	return nil
}

// Save implements [archive.Store].
func (s *Store) Save(ctx context.Context, rec archive.Record) error {
	const q = `
		INSERT INTO session_archive
		    (id, voice, status, error, transcript, user_transcript,
		     started_at, ended_at, chunks_played, chunks_dropped, interruptions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    voice           = EXCLUDED.voice,
		    status          = EXCLUDED.status,
		    error           = EXCLUDED.error,
		    transcript      = EXCLUDED.transcript,
		    user_transcript = EXCLUDED.user_transcript,
		    started_at      = EXCLUDED.started_at,
		    ended_at        = EXCLUDED.ended_at,
		    chunks_played   = EXCLUDED.chunks_played,
		    chunks_dropped  = EXCLUDED.chunks_dropped,
		    interruptions   = EXCLUDED.interruptions`

	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.Voice,
		rec.Status,
		rec.Error,
		rec.Transcript,
		rec.UserTranscript,
		rec.StartedAt,
		rec.EndedAt,
		rec.ChunksPlayed,
		rec.ChunksDropped,
		rec.Interruptions,
	)
	if err != nil {
		return fmt.Errorf("archive store: save %q: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, voice, status, error, transcript, user_transcript,
	       started_at, ended_at, chunks_played, chunks_dropped, interruptions
	FROM   session_archive`

// Get implements [archive.Store].
func (s *Store) Get(ctx context.Context, id string) (archive.Record, error) {
	rows, err := s.pool.Query(ctx, selectColumns+"\n\tWHERE id = $1", id)
	if err != nil {
		return archive.Record{}, fmt.Errorf("archive store: get %q: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Record{}, archive.ErrNotFound
	}
	if err != nil {
		return archive.Record{}, fmt.Errorf("archive store: get %q: %w", id, err)
	}
	return rec, nil
}

// List implements [archive.Store].
func (s *Store) List(ctx context.Context, limit int) ([]archive.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, selectColumns+"\n\tORDER BY ended_at DESC\n\tLIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("archive store: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []archive.Record{}
	}
	return recs, nil
}

func scanRecord(row pgx.CollectableRow) (archive.Record, error) {
	var r archive.Record
	err := row.Scan(
		&r.ID,
		&r.Voice,
		&r.Status,
		&r.Error,
		&r.Transcript,
		&r.UserTranscript,
		&r.StartedAt,
		&r.EndedAt,
		&r.ChunksPlayed,
		&r.ChunksDropped,
		&r.Interruptions,
	)
	return r, err
}
