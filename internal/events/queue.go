package events

// Queue is a per-tick event buffer owned by a single goroutine.
// The zero value is ready to use.
type Queue struct {
	items []Event
}

// Push appends events in order.
func (q *Queue) Push(evs ...Event) {
	q.items = append(q.items, evs...)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.items)
}

// Drain hands the queued events to the caller and empties the queue.
// The returned slice is never touched by the queue again.
func (q *Queue) Drain() []Event {
	out := q.items
	q.items = nil
	return out
}
