package network

import "time"

// conn is an open client stream in the table.
type conn struct {
	fd         int
	peer       string
	admittedAt time.Time
}

// connTable is a fixed-capacity arena of client connections. The slot index
// is the client's identity in events; freed slots are reused.
type connTable struct {
	slots []*conn
	used  int
}

func newConnTable(capacity int) *connTable {
	return &connTable{slots: make([]*conn, capacity)}
}

// FreeSlot returns the lowest empty index, or -1 when the table is full.
func (t *connTable) FreeSlot() int {
	if t.used == len(t.slots) {
		return -1
	}
	for i, c := range t.slots {
		if c == nil {
			return i
		}
	}
	return -1
}

// Put stores c at slot i, which must be empty.
func (t *connTable) Put(i int, c *conn) {
	if t.slots[i] == nil {
		t.used++
	}
	t.slots[i] = c
}

// Get returns the connection at slot i, or nil.
func (t *connTable) Get(i int) *conn {
	if i < 0 || i >= len(t.slots) {
		return nil
	}
	return t.slots[i]
}

// Release empties slot i and returns what was there.
func (t *connTable) Release(i int) *conn {
	c := t.slots[i]
	if c != nil {
		t.slots[i] = nil
		t.used--
	}
	return c
}

// Each calls fn for every open slot in ascending index order.
// fn may release the slot it is given.
func (t *connTable) Each(fn func(i int, c *conn)) {
	for i, c := range t.slots {
		if c != nil {
			fn(i, c)
		}
	}
}

// Len returns the number of open slots.
func (t *connTable) Len() int { return t.used }
