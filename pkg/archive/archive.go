// Package archive defines where finished voice sessions are kept.
//
// A [Record] is written once when a session has released its resources. It
// carries the final transcript, the voice that was used, how the session
// ended and a few playback counters. Two implementations ship with the
// module: [Memory], a bounded in-process store, and archive/postgres, which
// persists records in PostgreSQL.
//
// Every implementation must be safe for concurrent use.
package archive

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Get] for an unknown session ID.
var ErrNotFound = errors.New("archive: record not found")

// Record is the archived summary of one voice session.
type Record struct {
	// ID is the session identifier.
	ID string `json:"id"`

	// Voice is the prebuilt voice the session used.
	Voice string `json:"voice"`

	// Status is the final session status, "closed" or "error".
	Status string `json:"status"`

	// Error describes the fault for sessions that ended in error.
	Error string `json:"error,omitempty"`

	// Transcript is the concatenated model transcript.
	Transcript string `json:"transcript"`

	// UserTranscript is the concatenated recognised user speech.
	UserTranscript string `json:"user_transcript,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// ChunksPlayed counts inbound chunks scheduled for playback.
	ChunksPlayed int64 `json:"chunks_played"`

	// ChunksDropped counts malformed inbound chunks that were skipped.
	ChunksDropped int64 `json:"chunks_dropped"`

	// Interruptions counts barge-in events.
	Interruptions int64 `json:"interruptions"`
}

// Duration returns how long the session lasted.
func (r Record) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists session records.
type Store interface {
	// Save inserts rec, replacing an existing record with the same ID.
	Save(ctx context.Context, rec Record) error

	// Get returns the record with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// List returns up to limit records, most recently ended first.
	// A limit of 0 or less means the implementation default.
	List(ctx context.Context, limit int) ([]Record, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
