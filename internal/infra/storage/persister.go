package storage

import (
	"context"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
)

// JournalPersister translates journal records into storage entries for one run.
type JournalPersister struct {
	repo  JournalRepository
	runID string
}

// NewJournalPersister binds repo to runID.
func NewJournalPersister(repo JournalRepository, runID string) *JournalPersister {
	return &JournalPersister{repo: repo, runID: runID}
}

// Append implements events.EventPersister.
func (p *JournalPersister) Append(ctx context.Context, records []events.Record) error {
	entries := make([]JournalEntry, len(records))
	for i, rec := range records {
		entries[i] = JournalEntry{
			RunID:      p.runID,
			Tick:       rec.Tick,
			Direction:  string(rec.Direction),
			Kind:       rec.Event.Kind().String(),
			Args:       rec.Event.Args(),
			RecordedAt: rec.RecordedAt,
		}
	}
	return p.repo.Append(ctx, entries)
}
