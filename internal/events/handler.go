package events

// Callback receives the arguments of a dispatched event.
type Callback func(args []int)

// Handler maps each event kind to at most one callback.
type Handler struct {
	callbacks [kindCount]Callback
}

// NewHandler creates an empty dispatch table.
func NewHandler() *Handler {
	return &Handler{}
}

// Register installs fn for kind, replacing any earlier registration.
// Unknown kinds are ignored; a nil fn clears the slot.
func (h *Handler) Register(kind Kind, fn Callback) {
	if !kind.Valid() {
		return
	}
	h.callbacks[kind] = fn
}

// Registered reports whether kind has a callback.
func (h *Handler) Registered(kind Kind) bool {
	return kind.Valid() && h.callbacks[kind] != nil
}

// Dispatch runs the callback for ev's kind. Events with no callback are
// dropped silently; the return value says whether anything ran.
func (h *Handler) Dispatch(ev Event) bool {
	if !h.Registered(ev.kind) {
		return false
	}
	h.callbacks[ev.kind](ev.Args())
	return true
}

// DispatchAll dispatches evs in order and returns how many were handled.
func (h *Handler) DispatchAll(evs []Event) int {
	handled := 0
	for _, ev := range evs {
		if h.Dispatch(ev) {
			handled++
		}
	}
	return handled
}
