package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchLastRegistrationWins(t *testing.T) {
	h := NewHandler()
	var first, second int
	h.Register(KindBorn, func(args []int) { first++ })
	h.Register(KindBorn, func(args []int) { second++ })

	h.Dispatch(Born(0))

	if first != 0 || second != 1 {
		t.Errorf("Expected only the latest callback to run, got first=%d second=%d", first, second)
	}
}

func TestDispatchUnregisteredIsNoop(t *testing.T) {
	h := NewHandler()
	if h.Dispatch(Exploded(5)) {
		t.Errorf("Dispatch reported handling an unregistered kind")
	}
	h.Register(Kind(9), func([]int) { t.Fatal("invalid kind must never register") })
	h.Dispatch(New(Kind(9)))
}

func TestDispatchAllPreservesOrder(t *testing.T) {
	h := NewHandler()
	var seen []string
	h.Register(KindBorn, func(args []int) { seen = append(seen, Born(args[0]).String()) })
	h.Register(KindDied, func(args []int) { seen = append(seen, Died(args[0]).String()) })

	n := h.DispatchAll([]Event{Born(0), Died(0), Exploded(5), Born(0)})

	if n != 3 {
		t.Errorf("Expected 3 handled events, got %d", n)
	}
	want := []string{"BORN(0)", "DIED(0)", "BORN(0)"}
	if len(seen) != len(want) {
		t.Fatalf("Got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Position %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestQueueDrainTwice(t *testing.T) {
	var q Queue
	q.Push(Born(0), Born(1))

	first := q.Drain()
	second := q.Drain()

	if len(first) != 2 {
		t.Errorf("Expected first drain to return 2 events, got %d", len(first))
	}
	if len(second) != 0 {
		t.Errorf("Expected second drain to be empty, got %v", second)
	}

	q.Push(Died(1))
	if len(first) != 2 || q.Len() != 1 {
		t.Errorf("Pushing after drain must not touch the drained slice")
	}
}

type memoryPersister struct {
	batches [][]Record
	err     error
}

func (m *memoryPersister) Append(ctx context.Context, records []Record) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, records)
	return nil
}

func TestJournalFlush(t *testing.T) {
	p := &memoryPersister{}
	j := NewJournal(p)

	j.Record(5, DirectionOut, []Event{Exploded(5)})
	j.Record(5, DirectionIn, []Event{Born(0), Died(0)})

	n, err := j.Flush(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Flush = %d, %v; want 3, nil", n, err)
	}
	if j.Pending() != 0 {
		t.Errorf("Flush left %d pending records", j.Pending())
	}
	batch := p.batches[0]
	if batch[0].Direction != DirectionOut || batch[2].Event.Kind() != KindDied {
		t.Errorf("Journal reordered records: %+v", batch)
	}
}

func TestJournalDropsOnError(t *testing.T) {
	p := &memoryPersister{err: errors.New("locked")}
	j := NewJournal(p)
	j.Record(1, DirectionIn, []Event{Born(0)})

	if _, err := j.Flush(context.Background()); err == nil {
		t.Fatal("Expected persister error")
	}
	if j.Pending() != 0 {
		t.Errorf("Failed batch should be dropped, %d pending", j.Pending())
	}
}
