// Package engine contains the tick loop and the simulation it drives.
//
// Everything here runs on one goroutine. The Timer paces it, the World is
// the simulation, and Loop wires both to the transport once per tick.
package engine

import (
	"context"
	"time"
)

// Clock abstracts wall time so pacing can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}

// Timer holds the loop to a fixed period.
// The deadline is always recomputed as now+period after waking, so an
// overrun tick shifts the schedule instead of causing a burst of catch-up
// ticks.
type Timer struct {
	period   time.Duration
	deadline time.Time
	clock    Clock
}

// NewTimer creates a timer whose first deadline is one period from now.
func NewTimer(period time.Duration) *Timer {
	return NewTimerWithClock(period, SystemClock)
}

// NewTimerWithClock is NewTimer with an explicit clock.
func NewTimerWithClock(period time.Duration, clock Clock) *Timer {
	return &Timer{
		period:   period,
		deadline: clock.Now().Add(period),
		clock:    clock,
	}
}

// Period returns the tick period.
func (t *Timer) Period() time.Duration { return t.period }

// Deadline returns the wall time of the next tick.
func (t *Timer) Deadline() time.Time { return t.deadline }

// Remaining returns how long until the deadline. It is negative after an
// overrun.
func (t *Timer) Remaining() time.Duration {
	return t.deadline.Sub(t.clock.Now())
}

// WaitUntilNextTick blocks until the deadline and returns how long it slept.
func (t *Timer) WaitUntilNextTick() time.Duration {
	slept, _ := t.WaitUntilNextTickContext(context.Background())
	return slept
}

// WaitUntilNextTickContext is WaitUntilNextTick but returns early with the
// context error when ctx is cancelled. The deadline is reset either way.
func (t *Timer) WaitUntilNextTickContext(ctx context.Context) (time.Duration, error) {
	var slept time.Duration
	var err error

	if remaining := t.Remaining(); remaining > 0 {
		start := t.clock.Now()
		err = t.clock.Sleep(ctx, remaining)
		slept = t.clock.Now().Sub(start)
	}

	t.deadline = t.clock.Now().Add(t.period)
	return slept, err
}
