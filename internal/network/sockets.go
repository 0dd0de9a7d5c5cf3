// Package network owns every client connection of the tick server.
//
// Sockets is the TCP transport driven by the tick loop: a non-blocking
// listener, a fixed slot table and two event queues, serviced once per tick
// with a zero-timeout poll. Hub mirrors each broadcast to websocket
// spectators on its own goroutine.
package network

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/logger"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/metrics"
)

// ErrTransportDead reports that the listener could not be set up or that
// polling failed. A dead transport never comes back.
var ErrTransportDead = errors.New("transport is dead")

var (
	errWouldBlock = errors.New("operation would block")
	errShortWrite = errors.New("short write")
)

const (
	DefaultGreeting    = "Bravo.\n"
	DefaultEchoPrefix  = "OK ... "
	DefaultPeerHistory = 256
)

// Options configures the transport.
type Options struct {
	Address        string
	Port           int // 0 picks a free port
	MaxClients     int
	AcceptBatch    int // connections admitted per tick at most
	ReadBufferSize int
	Backlog        int
	Greeting       string
	EchoPrefix     string
	PeerHistory    int // remote hosts remembered for admission counts
}

// DefaultOptions returns the stock server settings.
func DefaultOptions() Options {
	return Options{
		Address:        "127.0.0.1",
		Port:           4096,
		MaxClients:     10,
		AcceptBatch:    1,
		ReadBufferSize: 1024,
		Backlog:        10,
		Greeting:       DefaultGreeting,
		EchoPrefix:     DefaultEchoPrefix,
		PeerHistory:    DefaultPeerHistory,
	}
}

func (o Options) validate() error {
	switch {
	case o.MaxClients <= 0:
		return fmt.Errorf("max clients must be positive, got %d", o.MaxClients)
	case o.AcceptBatch <= 0:
		return fmt.Errorf("accept batch must be positive, got %d", o.AcceptBatch)
	case o.ReadBufferSize <= 0:
		return fmt.Errorf("read buffer must be positive, got %d", o.ReadBufferSize)
	case o.Backlog <= 0:
		return fmt.Errorf("backlog must be positive, got %d", o.Backlog)
	case o.Port < 0 || o.Port > 65535:
		return fmt.Errorf("port out of range: %d", o.Port)
	}
	return nil
}

// Mirror receives a copy of every broadcast payload.
type Mirror interface {
	Publish(blob []byte)
}

// SlotInfo describes one open connection.
type SlotInfo struct {
	Slot       int
	Peer       string
	AdmittedAt time.Time
}

// Sockets is the non-blocking TCP transport. It is not safe for concurrent
// use; the tick goroutine owns it.
type Sockets struct {
	opts    Options
	logger  *logger.Logger
	metrics *metrics.Collector
	mirror  Mirror

	listener int
	port     int
	alive    bool

	table *connTable
	in    events.Queue
	out   events.Queue
	peers *lru.Cache[string, int]

	buf       []byte
	reply     []byte
	poller    poller
	readable  func(fds []int, ready []bool) error
	pollFDs   []int
	pollSlots []int
	ready     []bool
}

// New creates the listening socket. On failure it returns a dead Sockets
// together with the error; the caller must not enter the tick loop.
func New(opts Options, log *logger.Logger) (*Sockets, error) {
	s := &Sockets{
		opts:     opts,
		logger:   log,
		metrics:  metrics.NewCollector(),
		listener: -1,
	}
	s.readable = s.poller.readable

	log.Log(fmt.Sprintf("Constructing Sockets, address = %s, port = %d, max_clients = %d, non_block = 1",
		opts.Address, opts.Port, opts.MaxClients), logger.LevelTransport)

	if err := opts.validate(); err != nil {
		return s, fmt.Errorf("invalid transport options: %w", err)
	}

	fd, err := newStreamSocket()
	if err != nil {
		log.Error("Couldn't create socket: " + err.Error())
		return s, fmt.Errorf("could not create socket: %w", err)
	}
	log.Log("Socket created, fd "+strconv.Itoa(fd), logger.LevelTransport)

	if err := bindInet4(fd, opts.Address, opts.Port); err != nil {
		closeFD(fd)
		log.Error("Could not bind socket: " + err.Error())
		return s, fmt.Errorf("could not bind %s:%d: %w", opts.Address, opts.Port, err)
	}
	log.Log("Socket bind OK", logger.LevelTransport)

	if err := listenSocket(fd, opts.Backlog); err != nil {
		closeFD(fd)
		log.Error("Could not listen on socket: " + err.Error())
		return s, fmt.Errorf("could not listen: %w", err)
	}
	log.Log("Socket listen OK", logger.LevelTransport)

	if err := setNonblock(fd); err != nil {
		closeFD(fd)
		log.Error("Could not set to nonblock: " + err.Error())
		return s, fmt.Errorf("could not set non-blocking: %w", err)
	}
	log.Log("Set non-blocking flag on fd "+strconv.Itoa(fd), logger.LevelTransport)

	port, err := localPort(fd)
	if err != nil {
		closeFD(fd)
		return s, fmt.Errorf("could not read bound port: %w", err)
	}

	history := opts.PeerHistory
	if history <= 0 {
		history = DefaultPeerHistory
	}
	peers, err := lru.New[string, int](history)
	if err != nil {
		closeFD(fd)
		return s, fmt.Errorf("peer history: %w", err)
	}

	s.listener = fd
	s.port = port
	s.peers = peers
	s.table = newConnTable(opts.MaxClients)
	s.buf = make([]byte, opts.ReadBufferSize)
	s.alive = true
	return s, nil
}

// IsAlive reports whether the transport can still be serviced.
func (s *Sockets) IsAlive() bool {
	return s.alive
}

// Port returns the bound port, which differs from Options.Port when that
// was 0.
func (s *Sockets) Port() int {
	return s.port
}

// Addr returns the listening address as host:port.
func (s *Sockets) Addr() string {
	return s.opts.Address + ":" + strconv.Itoa(s.port)
}

// SetMetrics replaces the collector connection stats are written to.
func (s *Sockets) SetMetrics(m *metrics.Collector) {
	if m != nil {
		s.metrics = m
	}
}

// SetMirror installs a receiver for broadcast payloads.
func (s *Sockets) SetMirror(m Mirror) {
	s.mirror = m
}

// Enqueue queues events for the next broadcast.
func (s *Sockets) Enqueue(evs ...events.Event) {
	if !s.alive {
		return
	}
	s.out.Push(evs...)
}

// Drain returns the lifecycle events gathered since the last call and
// clears them.
func (s *Sockets) Drain() []events.Event {
	return s.in.Drain()
}

// Service runs one tick of I/O: poll, accept, read every ready slot, then
// broadcast the outbound queue to every open slot. Connections accepted in
// this pass are not read until the next one.
func (s *Sockets) Service() error {
	if !s.alive {
		return ErrTransportDead
	}

	s.pollFDs = append(s.pollFDs[:0], s.listener)
	s.pollSlots = s.pollSlots[:0]
	s.table.Each(func(i int, c *conn) {
		s.pollFDs = append(s.pollFDs, c.fd)
		s.pollSlots = append(s.pollSlots, i)
	})
	if cap(s.ready) < len(s.pollFDs) {
		s.ready = make([]bool, len(s.pollFDs))
	}
	ready := s.ready[:len(s.pollFDs)]

	if s.logger.Enabled(logger.LevelPoll) {
		fds := make([]string, len(s.pollFDs))
		for i, fd := range s.pollFDs {
			fds[i] = strconv.Itoa(fd)
		}
		s.logger.Log("Waiting for incoming connections... poll( "+strings.Join(fds, ",")+" )", logger.LevelPoll)
	}

	if err := s.readable(s.pollFDs, ready); err != nil {
		s.logger.Error("Could not poll sockets: " + err.Error())
		s.alive = false
		return fmt.Errorf("poll: %w: %w", ErrTransportDead, err)
	}

	if ready[0] {
		s.acceptPending()
	}

	for k, slot := range s.pollSlots {
		if !ready[k+1] {
			continue
		}
		if c := s.table.Get(slot); c != nil && c.fd == s.pollFDs[k+1] {
			s.readSlot(slot, c)
		}
	}

	s.broadcast()
	return nil
}

func (s *Sockets) acceptPending() {
	for n := 0; n < s.opts.AcceptBatch; n++ {
		slot := s.table.FreeSlot()
		if slot < 0 {
			// Table full: the kernel backlog keeps the connection.
			return
		}

		fd, peer, err := acceptConn(s.listener)
		if err != nil {
			if !errors.Is(err, errWouldBlock) {
				s.logger.Warn("Accept failed: " + err.Error())
			}
			return
		}

		c := &conn{fd: fd, peer: peer, admittedAt: time.Now()}
		s.table.Put(slot, c)
		s.in.Push(events.Born(slot))
		s.metrics.RecordAccept()
		admissions := s.recordAdmission(peer)

		s.logger.WithField("slot", slot).Log(fmt.Sprintf("Client %s is now connected to us, fd [%d], admission #%d from this host.",
			peer, fd, admissions), logger.LevelTransport)

		if err := s.send(c, []byte(s.opts.Greeting)); err != nil {
			s.logger.Warn(fmt.Sprintf("Greeting to slot %d failed: %v", slot, err))
			s.closeSlot(slot)
		}
	}
}

func (s *Sockets) readSlot(slot int, c *conn) {
	n, err := readConn(c.fd, s.buf)
	switch {
	case errors.Is(err, errWouldBlock):
		return
	case err != nil:
		s.logger.Log(fmt.Sprintf("Read on slot %d failed: %v", slot, err), logger.LevelTransport)
		s.closeSlot(slot)
		return
	case n == 0:
		s.closeSlot(slot)
		return
	}

	s.metrics.RecordRead(n)
	s.logger.Log("Sending output to client", logger.LevelTransport)

	s.reply = append(append(s.reply[:0], s.opts.EchoPrefix...), s.buf[:n]...)
	if err := s.send(c, s.reply); err != nil {
		s.closeSlot(slot)
	}
}

func (s *Sockets) broadcast() {
	if s.out.Len() == 0 {
		return
	}
	blob := events.Encode(s.out.Drain())
	s.logger.Log("Output message is: "+string(blob)+".", logger.LevelTransport)

	s.table.Each(func(i int, c *conn) {
		if err := s.send(c, blob); err != nil {
			s.closeSlot(i)
		}
	})

	if s.mirror != nil {
		s.mirror.Publish(blob)
	}
}

// send writes p in a single call. Anything less than a full write counts as
// a failure, including a full socket buffer.
func (s *Sockets) send(c *conn, p []byte) error {
	n, err := writeConn(c.fd, p)
	s.metrics.RecordWrite(n)
	if err != nil {
		return err
	}
	if n < len(p) {
		return errShortWrite
	}
	return nil
}

func (s *Sockets) closeSlot(slot int) {
	c := s.table.Release(slot)
	if c == nil {
		return
	}
	s.logger.Log(fmt.Sprintf("Closing socket [%d] on slot %d.", c.fd, slot), logger.LevelTransport)
	if err := closeFD(c.fd); err != nil {
		s.logger.Warn("Close failed: " + err.Error())
	}
	s.in.Push(events.Died(slot))
	s.metrics.RecordClose()
}

func (s *Sockets) recordAdmission(peer string) int {
	host := peer
	if ap, err := netip.ParseAddrPort(peer); err == nil {
		host = ap.Addr().String()
	}
	count, _ := s.peers.Get(host)
	count++
	s.peers.Add(host, count)
	return count
}

// Admissions returns how many times host has been admitted, as long as it
// is still in the peer history.
func (s *Sockets) Admissions(host string) int {
	if s.peers == nil {
		return 0
	}
	count, _ := s.peers.Peek(host)
	return count
}

// Slots lists the open connections in slot order.
func (s *Sockets) Slots() []SlotInfo {
	if s.table == nil {
		return nil
	}
	out := make([]SlotInfo, 0, s.table.Len())
	s.table.Each(func(i int, c *conn) {
		out = append(out, SlotInfo{Slot: i, Peer: c.peer, AdmittedAt: c.admittedAt})
	})
	return out
}

// Close releases every connection and the listener. The transport is dead
// afterwards. No Died events are queued for the released slots.
func (s *Sockets) Close() error {
	if s.table != nil {
		s.table.Each(func(i int, c *conn) {
			s.table.Release(i)
			if err := closeFD(c.fd); err != nil {
				s.logger.Warn(fmt.Sprintf("Close of slot %d failed: %v", i, err))
			}
			s.metrics.RecordClose()
		})
	}
	s.alive = false

	if s.listener < 0 {
		return nil
	}
	err := closeFD(s.listener)
	s.listener = -1
	s.logger.Log("Listener closed", logger.LevelTransport)
	return err
}
