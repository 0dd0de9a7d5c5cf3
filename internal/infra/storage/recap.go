package storage

import (
	"context"
	"fmt"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
)

// Session is one occupancy of a slot, from Born to Died.
type Session struct {
	Slot     int `json:"slot"`
	BornTick int `json:"born_tick"`
	// DiedTick is zero while the session is still open.
	DiedTick int  `json:"died_tick,omitempty"`
	Open     bool `json:"open"`
}

// Recap summarizes a run's journal.
type Recap struct {
	RunID      string         `json:"run_id"`
	Entries    int            `json:"entries"`
	ByKind     map[string]int `json:"by_kind"`
	LastTick   int            `json:"last_tick"`
	Sessions   []Session      `json:"sessions"`
	Explosions int            `json:"explosions"`
}

// Reconstructor rebuilds slot sessions from the journal.
// Used for auditing and debugging only.
type Reconstructor struct {
	repo JournalRepository
}

// NewReconstructor creates a new journal reconstructor.
func NewReconstructor(repo JournalRepository) *Reconstructor {
	return &Reconstructor{repo: repo}
}

// Recap loads a run and folds it into a summary.
func (r *Reconstructor) Recap(ctx context.Context, runID string) (*Recap, error) {
	entries, err := r.repo.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal for run %s: %w", runID, err)
	}
	return BuildRecap(runID, entries), nil
}

// BuildRecap folds entries, in journal order, into a Recap. Only inbound
// Born and Died entries open and close sessions.
func BuildRecap(runID string, entries []JournalEntry) *Recap {
	recap := &Recap{
		RunID:   runID,
		Entries: len(entries),
		ByKind:  make(map[string]int),
	}

	open := make(map[int]int) // slot -> index into recap.Sessions
	for _, e := range entries {
		recap.ByKind[e.Kind]++
		if e.Tick > recap.LastTick {
			recap.LastTick = e.Tick
		}
		if len(e.Args) == 0 {
			continue
		}

		switch {
		case e.Kind == events.KindBorn.String() && e.Direction == string(events.DirectionIn):
			slot := e.Args[0]
			open[slot] = len(recap.Sessions)
			recap.Sessions = append(recap.Sessions, Session{Slot: slot, BornTick: e.Tick, Open: true})
		case e.Kind == events.KindDied.String() && e.Direction == string(events.DirectionIn):
			slot := e.Args[0]
			if idx, ok := open[slot]; ok {
				recap.Sessions[idx].DiedTick = e.Tick
				recap.Sessions[idx].Open = false
				delete(open, slot)
			}
		case e.Kind == events.KindExploded.String() && e.Direction == string(events.DirectionOut):
			recap.Explosions++
		}
	}

	return recap
}
