// Package storage provides the sqlite event journal.
// The journal is an audit trail only: nothing in it is loaded back into
// the world on startup.
package storage

import (
	"context"
	"time"
)

// Run describes one server process lifetime.
type Run struct {
	RunID      string    `json:"run_id" db:"run_id"`
	Address    string    `json:"address" db:"address"`
	MaxClients int       `json:"max_clients" db:"max_clients"`
	TickMillis int       `json:"tick_ms" db:"tick_ms"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
}

// JournalEntry mirrors events.Record for persistence.
// The events package does NOT import this; the persister adapts.
type JournalEntry struct {
	ID         int64     `json:"id" db:"id"`
	RunID      string    `json:"run_id" db:"run_id"`
	Tick       int       `json:"tick" db:"tick"`
	Direction  string    `json:"direction" db:"direction"`
	Kind       string    `json:"kind" db:"kind"`
	Args       []int     `json:"args" db:"args"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// JournalRepository defines the interface for journal persistence.
type JournalRepository interface {
	// StartRun registers a server run before any entry references it.
	StartRun(ctx context.Context, run Run) error

	// Append writes entries in one transaction, preserving order.
	Append(ctx context.Context, entries []JournalEntry) error

	// GetByRun retrieves every entry of a run in insertion order.
	GetByRun(ctx context.Context, runID string) ([]JournalEntry, error)

	// GetByKind retrieves the entries of one event kind within a run.
	GetByKind(ctx context.Context, runID, kind string) ([]JournalEntry, error)

	// Runs lists known runs, newest first.
	Runs(ctx context.Context) ([]Run, error)
}
