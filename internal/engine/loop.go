package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
	"github.com/MRamiBalles/NightlandServer/server/internal/network"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/logger"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/metrics"
)

// ErrTransportDead is returned once the transport can no longer be driven.
var ErrTransportDead = network.ErrTransportDead

// Transport moves events between the simulation and connected clients.
// Implementations are driven from the loop goroutine only.
type Transport interface {
	IsAlive() bool
	Enqueue(evs ...events.Event)
	Service() error
	Drain() []events.Event
}

// Simulation is the world the loop advances.
type Simulation interface {
	Tick()
	Counter() int
	Events() []events.Event
	HandleEvents(evs []events.Event)
}

// Loop runs one simulation step and one transport service pass per tick.
type Loop struct {
	timer     *Timer
	world     Simulation
	transport Transport
	logger    *logger.Logger

	journal      *events.Journal
	metrics      *metrics.Collector
	summaryEvery int
}

// NewLoop wires a world and a transport under a timer.
func NewLoop(timer *Timer, world Simulation, transport Transport, log *logger.Logger) *Loop {
	return &Loop{
		timer:     timer,
		world:     world,
		transport: transport,
		logger:    log,
	}
}

// SetJournal records every event crossing the transport boundary.
func (l *Loop) SetJournal(j *events.Journal) {
	l.journal = j
}

// SetMetrics enables tick metrics. When summaryEvery is positive a one-line
// summary is logged every summaryEvery ticks.
func (l *Loop) SetMetrics(m *metrics.Collector, summaryEvery int) {
	l.metrics = m
	l.summaryEvery = summaryEvery
}

// Step runs a single tick without pacing.
//
// Outbound events from this tick's simulation step are broadcast during
// this tick's Service. Inbound events gathered by Service are handled at
// the end of the step, after the world has ticked, so their effect shows
// up in the next tick's output.
func (l *Loop) Step(ctx context.Context) error {
	start := l.timer.clock.Now()
	l.logger.Log("Time is "+strconv.FormatInt(start.UnixMicro(), 10), logger.LevelLoop)

	if !l.transport.IsAlive() {
		return ErrTransportDead
	}

	l.world.Tick()
	tick := l.world.Counter()

	out := l.world.Events()
	l.transport.Enqueue(out...)

	if err := l.transport.Service(); err != nil {
		return fmt.Errorf("tick %d: %w", tick, err)
	}

	in := l.transport.Drain()
	l.world.HandleEvents(in)

	if l.journal != nil {
		l.journal.Record(tick, events.DirectionOut, out)
		l.journal.Record(tick, events.DirectionIn, in)
		n, err := l.journal.Flush(ctx)
		if err != nil {
			l.logger.Warn("Journal write failed: " + err.Error())
		}
		if l.metrics != nil {
			l.metrics.RecordJournalWrite(n, err)
		}
	}

	if l.metrics != nil {
		l.metrics.RecordEvents(len(in), len(out))
		l.metrics.RecordTick(l.timer.clock.Now().Sub(start))
		if l.summaryEvery > 0 && tick%l.summaryEvery == 0 {
			l.logger.Info(l.metrics.Summary())
		}
	}
	return nil
}

// Run steps and paces the loop until ctx is cancelled or the transport
// dies. A cancelled context is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.transport.IsAlive() {
		return ErrTransportDead
	}

	l.logger.Info("Tick loop started, period " + l.timer.Period().String())
	for {
		if ctx.Err() != nil {
			l.logger.Info("Tick loop stopped by context.")
			return nil
		}

		if err := l.Step(ctx); err != nil {
			l.logger.Error("Tick loop stopped: " + err.Error())
			return err
		}

		if l.metrics != nil && l.timer.Remaining() <= 0 {
			l.metrics.RecordOverrun()
		}

		if _, err := l.timer.WaitUntilNextTickContext(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				l.logger.Info("Tick loop stopped by context.")
				return nil
			}
			return err
		}
	}
}
