// Package events defines the typed events exchanged between the transport
// and the simulation, the dispatch table that applies them, and the
// per-tick queues that carry them.
package events

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the closed set of event tags.
type Kind int

const (
	KindBorn Kind = iota + 1
	KindDied
	KindExploded
)

// kindCount sizes arrays indexed by Kind.
const kindCount = int(KindExploded) + 1

var kindText = [kindCount]string{
	KindBorn:     "BORN",
	KindDied:     "DIED",
	KindExploded: "EXPLODED",
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindBorn && k <= KindExploded
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if !k.Valid() {
		return "KIND(" + strconv.Itoa(int(k)) + ")"
	}
	return kindText[k]
}

// ParseKind maps a wire name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindBorn; k <= KindExploded; k++ {
		if kindText[k] == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Separator terminates each serialized event in a broadcast.
const Separator = ';'

// Event is an immutable kind plus ordered integer arguments.
type Event struct {
	kind Kind
	args []int
}

// New builds an event. The argument slice is copied.
func New(kind Kind, args ...int) Event {
	var copied []int
	if len(args) > 0 {
		copied = append([]int(nil), args...)
	}
	return Event{kind: kind, args: copied}
}

// Born announces a client occupying slot.
func Born(slot int) Event { return New(KindBorn, slot) }

// Died announces a client leaving slot.
func Died(slot int) Event { return New(KindDied, slot) }

// Exploded is the world's placeholder event, stamped with the tick counter.
func Exploded(tick int) Event { return New(KindExploded, tick) }

// Kind returns the event's tag.
func (e Event) Kind() Kind { return e.kind }

// Args returns a copy of the arguments.
func (e Event) Args() []int {
	if len(e.args) == 0 {
		return nil
	}
	return append([]int(nil), e.args...)
}

// Arg returns the i-th argument.
func (e Event) Arg(i int) (int, bool) {
	if i < 0 || i >= len(e.args) {
		return 0, false
	}
	return e.args[i], true
}

// Equal reports whether two events carry the same kind and arguments.
func (e Event) Equal(o Event) bool {
	if e.kind != o.kind || len(e.args) != len(o.args) {
		return false
	}
	for i := range e.args {
		if e.args[i] != o.args[i] {
			return false
		}
	}
	return true
}

// Serialize returns the wire form "KIND,a1,a2;".
func (e Event) Serialize() string {
	return string(e.appendTo(nil))
}

func (e Event) appendTo(dst []byte) []byte {
	dst = append(dst, e.kind.String()...)
	dst = append(dst, ',')
	for i, a := range e.args {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendInt(dst, int64(a), 10)
	}
	return append(dst, Separator)
}

// String renders the event for logs, e.g. BORN(0).
func (e Event) String() string {
	parts := make([]string, len(e.args))
	for i, a := range e.args {
		parts[i] = strconv.Itoa(a)
	}
	return e.kind.String() + "(" + strings.Join(parts, ",") + ")"
}

// Encode concatenates the serialized form of every event, in order.
func Encode(evs []Event) []byte {
	var buf []byte
	for _, e := range evs {
		buf = e.appendTo(buf)
	}
	return buf
}

// ErrMalformed is returned by Decode for text that is not a broadcast.
var ErrMalformed = errors.New("malformed event text")

// Decode parses a broadcast payload back into events. Trailing text
// without a separator is rejected.
func Decode(text string) ([]Event, error) {
	if text == "" {
		return nil, nil
	}
	if text[len(text)-1] != Separator {
		return nil, fmt.Errorf("%w: missing trailing %q", ErrMalformed, Separator)
	}

	var out []Event
	for _, chunk := range strings.Split(text[:len(text)-1], string(Separator)) {
		fields := strings.Split(chunk, ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, chunk)
		}
		kind, err := ParseKind(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		var args []int
		if !(len(fields) == 2 && fields[1] == "") {
			args = make([]int, 0, len(fields)-1)
			for _, f := range fields[1:] {
				n, err := strconv.Atoi(f)
				if err != nil {
					return nil, fmt.Errorf("%w: argument %q", ErrMalformed, f)
				}
				args = append(args, n)
			}
		}
		out = append(out, New(kind, args...))
	}
	return out, nil
}
