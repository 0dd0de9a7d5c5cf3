package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/logger"
)

// DefaultExplodeEvery is how many ticks pass between Exploded events.
const DefaultExplodeEvery = 5

// Player is a connected client as the simulation sees it.
type Player struct {
	Slot      int
	SpawnTick int
}

// World is the simulation. It advances a tick counter, keeps a roster of
// players keyed by connection slot, and reacts to lifecycle events through
// the Handler it owns.
type World struct {
	logger       *logger.Logger
	handler      *events.Handler
	counter      int
	explodeEvery int
	players      map[int]*Player
	explosions   []int
}

// NewWorld creates a world with its Born, Died and Exploded callbacks
// registered. A non-positive explodeEvery falls back to the default.
func NewWorld(log *logger.Logger, explodeEvery int) *World {
	if explodeEvery <= 0 {
		explodeEvery = DefaultExplodeEvery
	}
	w := &World{
		logger:       log,
		handler:      events.NewHandler(),
		explodeEvery: explodeEvery,
		players:      make(map[int]*Player),
	}

	w.handler.Register(events.KindBorn, w.onBorn)
	w.handler.Register(events.KindDied, w.onDied)
	w.handler.Register(events.KindExploded, w.onExploded)

	return w
}

// Handler exposes the dispatch table so callers can override a callback.
func (w *World) Handler() *events.Handler {
	return w.handler
}

// Tick advances the simulation by one step.
func (w *World) Tick() {
	w.counter++
	w.logger.Log("World ticked, counter is "+strconv.Itoa(w.counter), logger.LevelWorld)
}

// Counter returns the number of ticks so far.
func (w *World) Counter() int {
	return w.counter
}

// Events returns the outbound events for the current state. It does not
// mutate the world; calling it twice on the same tick gives the same result.
func (w *World) Events() []events.Event {
	if w.counter > 0 && w.counter%w.explodeEvery == 0 {
		return []events.Event{events.Exploded(w.counter)}
	}
	return nil
}

// HandleEvents applies inbound events in order.
func (w *World) HandleEvents(evs []events.Event) {
	w.handler.DispatchAll(evs)
}

// Players returns the roster sorted by slot.
func (w *World) Players() []Player {
	out := make([]Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Explosions returns the ticks at which Exploded was handled.
func (w *World) Explosions() []int {
	return append([]int(nil), w.explosions...)
}

func (w *World) onBorn(args []int) {
	w.logHandled(events.KindBorn, args)
	if len(args) == 0 {
		return
	}
	slot := args[0]
	if _, exists := w.players[slot]; exists {
		w.logger.Warn(fmt.Sprintf("Slot %d born twice without dying, respawning", slot))
	}
	w.players[slot] = &Player{Slot: slot, SpawnTick: w.counter}
}

func (w *World) onDied(args []int) {
	w.logHandled(events.KindDied, args)
	if len(args) == 0 {
		return
	}
	delete(w.players, args[0])
}

func (w *World) onExploded(args []int) {
	w.logHandled(events.KindExploded, args)
	if len(args) == 0 {
		return
	}
	w.explosions = append(w.explosions, args[0])
}

func (w *World) logHandled(kind events.Kind, args []int) {
	if !w.logger.Enabled(logger.LevelEvents) {
		return
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = strconv.Itoa(a)
	}
	w.logger.Event(kind.String(), "WORLD", "Handle event "+kind.String()+"("+strings.Join(parts, ",")+")")
}
