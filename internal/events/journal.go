package events

import (
	"context"
	"time"
)

// Direction says which queue an event travelled through.
type Direction string

const (
	DirectionIn  Direction = "in"  // transport -> world
	DirectionOut Direction = "out" // world -> transport
)

// Record is one journaled event.
type Record struct {
	Tick       int
	Direction  Direction
	Event      Event
	RecordedAt time.Time
}

// EventPersister defines how journaled events are durably stored.
type EventPersister interface {
	Append(ctx context.Context, records []Record) error
}

// Journal is the append-only audit trail of events that crossed the
// transport boundary. It buffers a tick's records and writes them through
// to the persister on Flush. It is never read back into world state.
type Journal struct {
	pending   []Record
	persister EventPersister
	now       func() time.Time
}

// NewJournal creates a journal writing to persister. A nil persister
// keeps records only until the next Flush.
func NewJournal(persister EventPersister) *Journal {
	return &Journal{
		persister: persister,
		now:       time.Now,
	}
}

// Record appends evs for tick in the order given.
func (j *Journal) Record(tick int, dir Direction, evs []Event) {
	at := j.now()
	for _, ev := range evs {
		j.pending = append(j.pending, Record{
			Tick:       tick,
			Direction:  dir,
			Event:      ev,
			RecordedAt: at,
		})
	}
}

// Pending returns the number of records not yet flushed.
func (j *Journal) Pending() int {
	return len(j.pending)
}

// Flush writes pending records and clears the buffer. Records are dropped
// on error as well.
func (j *Journal) Flush(ctx context.Context) (int, error) {
	if len(j.pending) == 0 {
		return 0, nil
	}
	batch := j.pending
	j.pending = nil

	if j.persister == nil {
		return len(batch), nil
	}
	if err := j.persister.Append(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}
