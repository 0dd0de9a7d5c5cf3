// Package metrics provides observability for the tick server.
// Counters are written by the tick goroutine and read by the HTTP handlers.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Collector gathers performance metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	TickOverruns   int64
	LastTickTime   time.Time

	// Connection metrics
	ConnectionsActive   int64
	ConnectionsAccepted int64
	ConnectionsClosed   int64
	BytesIn             int64
	BytesOut            int64

	// Event metrics
	EventsIn  int64
	EventsOut int64

	// Spectator metrics
	SpectatorsActive int64
	SpectatorDrops   int64

	// Journal metrics
	JournalWrites int64
	JournalErrors int64

	StartTime time.Time
	mu        sync.RWMutex
}

var collector = NewCollector()

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// NewCollector returns an empty collector. Tests use their own instance.
func NewCollector() *Collector {
	return &Collector{StartTime: time.Now()}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))

	// Only the tick goroutine writes this, so load-compare-store is enough.
	if int64(latency) > atomic.LoadInt64(&c.TickLatencyMax) {
		atomic.StoreInt64(&c.TickLatencyMax, int64(latency))
	}

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordOverrun records a tick whose body outlasted the period.
func (c *Collector) RecordOverrun() {
	atomic.AddInt64(&c.TickOverruns, 1)
}

// RecordAccept records a newly admitted client.
func (c *Collector) RecordAccept() {
	atomic.AddInt64(&c.ConnectionsAccepted, 1)
	atomic.AddInt64(&c.ConnectionsActive, 1)
}

// RecordClose records a released slot.
func (c *Collector) RecordClose() {
	atomic.AddInt64(&c.ConnectionsClosed, 1)
	atomic.AddInt64(&c.ConnectionsActive, -1)
}

// RecordRead records bytes received from a client.
func (c *Collector) RecordRead(n int) {
	atomic.AddInt64(&c.BytesIn, int64(n))
}

// RecordWrite records bytes sent to a client.
func (c *Collector) RecordWrite(n int) {
	atomic.AddInt64(&c.BytesOut, int64(n))
}

// RecordEvents records the size of the queues exchanged in one tick.
func (c *Collector) RecordEvents(in, out int) {
	atomic.AddInt64(&c.EventsIn, int64(in))
	atomic.AddInt64(&c.EventsOut, int64(out))
}

// RecordSpectator records websocket spectator changes.
func (c *Collector) RecordSpectator(delta int64) {
	atomic.AddInt64(&c.SpectatorsActive, delta)
}

// RecordSpectatorDrop records a broadcast the spectator hub could not take.
func (c *Collector) RecordSpectatorDrop() {
	atomic.AddInt64(&c.SpectatorDrops, 1)
}

// RecordJournalWrite records a journal flush.
func (c *Collector) RecordJournalWrite(records int, err error) {
	if err != nil {
		atomic.AddInt64(&c.JournalErrors, 1)
		return
	}
	atomic.AddInt64(&c.JournalWrites, int64(records))
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)

	var tickAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"overruns":       atomic.LoadInt64(&c.TickOverruns),
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      c.LastTickTime.Format(time.RFC3339),
		},

		"connections": map[string]interface{}{
			"active":    atomic.LoadInt64(&c.ConnectionsActive),
			"accepted":  atomic.LoadInt64(&c.ConnectionsAccepted),
			"closed":    atomic.LoadInt64(&c.ConnectionsClosed),
			"bytes_in":  atomic.LoadInt64(&c.BytesIn),
			"bytes_out": atomic.LoadInt64(&c.BytesOut),
		},

		"events": map[string]interface{}{
			"in":  atomic.LoadInt64(&c.EventsIn),
			"out": atomic.LoadInt64(&c.EventsOut),
		},

		"spectators": map[string]interface{}{
			"active": atomic.LoadInt64(&c.SpectatorsActive),
			"drops":  atomic.LoadInt64(&c.SpectatorDrops),
		},

		"journal": map[string]interface{}{
			"written": atomic.LoadInt64(&c.JournalWrites),
			"errors":  atomic.LoadInt64(&c.JournalErrors),
		},
	}
}

// Summary renders a one-line human readable digest for the log.
func (c *Collector) Summary() string {
	ticks := atomic.LoadInt64(&c.TickCount)
	var avg time.Duration
	if ticks > 0 {
		avg = time.Duration(atomic.LoadInt64(&c.TickLatencySum) / ticks)
	}
	return fmt.Sprintf("ticks=%s overruns=%s avg_tick=%s clients=%d in=%s out=%s up=%s",
		humanize.Comma(ticks),
		humanize.Comma(atomic.LoadInt64(&c.TickOverruns)),
		avg,
		atomic.LoadInt64(&c.ConnectionsActive),
		humanize.Bytes(uint64(atomic.LoadInt64(&c.BytesIn))),
		humanize.Bytes(uint64(atomic.LoadInt64(&c.BytesOut))),
		humanize.RelTime(c.StartTime, time.Now(), "", ""),
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// PrometheusHandler returns metrics in Prometheus format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		fmt.Fprintf(w, "# HELP nightland_tick_count Total tick cycles\n")
		fmt.Fprintf(w, "# TYPE nightland_tick_count counter\n")
		fmt.Fprintf(w, "nightland_tick_count %d\n\n", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP nightland_tick_overruns Ticks that outlasted the period\n")
		fmt.Fprintf(w, "# TYPE nightland_tick_overruns counter\n")
		fmt.Fprintf(w, "nightland_tick_overruns %d\n\n", atomic.LoadInt64(&c.TickOverruns))

		fmt.Fprintf(w, "# HELP nightland_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE nightland_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "nightland_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		fmt.Fprintf(w, "# HELP nightland_connections Open client slots\n")
		fmt.Fprintf(w, "# TYPE nightland_connections gauge\n")
		fmt.Fprintf(w, "nightland_connections %d\n\n", atomic.LoadInt64(&c.ConnectionsActive))

		fmt.Fprintf(w, "# HELP nightland_bytes_total Bytes moved over client sockets\n")
		fmt.Fprintf(w, "# TYPE nightland_bytes_total counter\n")
		fmt.Fprintf(w, "nightland_bytes_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.BytesIn))
		fmt.Fprintf(w, "nightland_bytes_total{direction=\"out\"} %d\n\n", atomic.LoadInt64(&c.BytesOut))

		fmt.Fprintf(w, "# HELP nightland_events_total Events exchanged between world and transport\n")
		fmt.Fprintf(w, "# TYPE nightland_events_total counter\n")
		fmt.Fprintf(w, "nightland_events_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.EventsIn))
		fmt.Fprintf(w, "nightland_events_total{direction=\"out\"} %d\n\n", atomic.LoadInt64(&c.EventsOut))

		fmt.Fprintf(w, "# HELP nightland_spectators Active websocket spectators\n")
		fmt.Fprintf(w, "# TYPE nightland_spectators gauge\n")
		fmt.Fprintf(w, "nightland_spectators %d\n", atomic.LoadInt64(&c.SpectatorsActive))
	}
}
