package network

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/NightlandServer/server/internal/platform/logger"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/metrics"
)

// hubBacklog is how many broadcasts Publish can queue before dropping.
const hubBacklog = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub maintains the set of websocket spectators and mirrors every TCP
// broadcast to them. It runs on its own goroutine; the tick loop only ever
// calls Publish, which never blocks.
type Hub struct {
	spectators map[*Spectator]bool
	broadcast  chan []byte
	register   chan *Spectator
	unregister chan *Spectator
	done       chan struct{}
	mu         sync.Mutex
	logger     *logger.Logger
	metrics    *metrics.Collector
}

// NewHub initializes a spectator hub.
func NewHub(log *logger.Logger, m *metrics.Collector) *Hub {
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Hub{
		spectators: make(map[*Spectator]bool),
		broadcast:  make(chan []byte, hubBacklog),
		register:   make(chan *Spectator),
		unregister: make(chan *Spectator),
		done:       make(chan struct{}),
		logger:     log,
		metrics:    m,
	}
}

// Run handles registrations and fans broadcasts out until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.spectators {
				delete(h.spectators, s)
				close(s.send)
				h.metrics.RecordSpectator(-1)
			}
			h.mu.Unlock()
			h.logger.Info("Spectator hub shutting down.")
			return
		case s := <-h.register:
			h.mu.Lock()
			h.spectators[s] = true
			h.mu.Unlock()
			h.metrics.RecordSpectator(1)
			h.logger.Log("Spectator connected from "+s.conn.RemoteAddr().String(), logger.LevelTransport)
		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.spectators[s]; ok {
				delete(h.spectators, s)
				close(s.send)
				h.metrics.RecordSpectator(-1)
				h.logger.Log("Spectator disconnected", logger.LevelTransport)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for s := range h.spectators {
				select {
				case s.send <- message:
				default:
					// Too slow to keep up; drop the spectator, not the tick.
					close(s.send)
					delete(h.spectators, s)
					h.metrics.RecordSpectator(-1)
					h.metrics.RecordSpectatorDrop()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues a broadcast payload for all spectators. When the hub is
// saturated the payload is dropped and counted.
func (h *Hub) Publish(blob []byte) {
	select {
	case h.broadcast <- blob:
	default:
		h.metrics.RecordSpectatorDrop()
	}
}

// Count returns the number of registered spectators.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spectators)
}

// ServeWS upgrades the request and attaches a read-only spectator.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket connection: " + err.Error())
		return
	}

	s := newSpectator(h, conn)
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go s.WritePump()
	go s.ReadPump()
}
