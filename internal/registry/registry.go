// Package registry owns the live data connections, keyed by remote
// endpoint identifier. It is the only component that holds transport
// connections directly; everyone else refers to them by identifier.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

// DefaultHeartbeatInterval paces the liveness probe sent on every open
// connection.
const DefaultHeartbeatInterval = 2 * time.Second

// Event is a registry-originated event for the application loop.
type Event interface{ registryEvent() }

// Established fires once a connection's handshake completes.
type Established struct{ RemoteID string }

// Lost fires when a connection closes or errors. The registry does not
// reconnect on its own; reconnection is an explicit user action.
type Lost struct{ RemoteID string }

// Data carries one non-heartbeat inbound payload.
type Data struct {
	RemoteID string
	Payload  []byte
}

func (Established) registryEvent() {}
func (Lost) registryEvent()        {}
func (Data) registryEvent()        {}

type entry struct {
	conn     transport.Conn
	open     bool
	lastSeen time.Time
}

type Options struct {
	Transport         transport.Transport
	Logger            *logrus.Logger
	HeartbeatInterval time.Duration
}

type Registry struct {
	transport  transport.Transport
	logger     *logrus.Logger
	hbInterval time.Duration

	mu    sync.Mutex
	conns map[string]*entry

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Registry {
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Registry{
		transport:  opts.Transport,
		logger:     opts.Logger,
		hbInterval: interval,
		conns:      make(map[string]*entry),
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
	}
}

// Start launches the accept and heartbeat loops.
func (r *Registry) Start() {
	go r.acceptLoop()
	go r.heartbeatLoop()
}

// Events yields registry events in per-connection delivery order.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Connect requests an outbound connection to remoteID. It is a no-op when
// an open connection already exists; success or failure otherwise arrives
// later as an Established or Lost event.
func (r *Registry) Connect(ctx context.Context, remoteID string) error {
	r.mu.Lock()
	if e, exists := r.conns[remoteID]; exists && e.open {
		r.mu.Unlock()
		r.logger.Debugf("Already connected to %s", remoteID)
		return nil
	}
	r.mu.Unlock()

	conn, err := r.transport.Connect(ctx, remoteID)
	if err != nil {
		return err
	}
	r.register(conn, false)
	return nil
}

// Send hands a payload to the connection for remoteID. It reports false,
// without error, when no open connection exists or the channel refuses
// the payload; there is no acknowledgement and no retry.
func (r *Registry) Send(remoteID string, payload []byte) bool {
	r.mu.Lock()
	e, exists := r.conns[remoteID]
	if !exists || !e.open {
		r.mu.Unlock()
		return false
	}
	conn := e.conn
	r.mu.Unlock()

	if err := conn.Send(payload); err != nil {
		r.logger.Warnf("Send to %s failed: %v", remoteID, err)
		return false
	}
	r.touch(remoteID)
	return true
}

// Open reports whether an open connection to remoteID exists.
func (r *Registry) Open(remoteID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.conns[remoteID]
	return exists && e.open
}

// register stores conn as the sole connection for its remote identifier.
// A previous entry is closed first, so the identifier never maps to two
// live connections.
func (r *Registry) register(conn transport.Conn, open bool) {
	remoteID := conn.RemoteID()

	r.mu.Lock()
	old := r.conns[remoteID]
	r.conns[remoteID] = &entry{conn: conn, open: open, lastSeen: time.Now()}
	r.mu.Unlock()

	if old != nil {
		r.logger.Debugf("Replacing stale connection to %s", remoteID)
		old.conn.Close()
	}

	go r.pump(conn)
}

// pump forwards one connection's lifecycle into the event stream. Being
// the only reader of the connection, it preserves delivery order.
func (r *Registry) pump(conn transport.Conn) {
	remoteID := conn.RemoteID()

	// A payload can beat the ready signal when the remote sends the
	// moment its side opens; either one proves the link is live. It must
	// not be dropped, and it must still trail the Established event.
	var early []byte
	haveEarly := false

	select {
	case <-conn.Ready():
	case payload, ok := <-conn.Recv():
		if !ok {
			// The link failed before its handshake completed.
			if r.deregister(conn) {
				r.emit(Lost{RemoteID: remoteID})
			}
			return
		}
		early = payload
		haveEarly = true
	case <-r.done:
		return
	}

	if !r.markOpen(conn) {
		return
	}
	r.emit(Established{RemoteID: remoteID})

	if haveEarly {
		r.deliver(remoteID, early)
	}
	for payload := range conn.Recv() {
		r.deliver(remoteID, payload)
	}

	if r.deregister(conn) {
		r.emit(Lost{RemoteID: remoteID})
	}
}

// deliver filters heartbeats and forwards one inbound payload.
func (r *Registry) deliver(remoteID string, payload []byte) {
	r.touch(remoteID)
	if protocol.IsHeartbeat(payload) {
		return
	}
	r.emit(Data{RemoteID: remoteID, Payload: payload})
}

// markOpen flips the entry open, provided conn is still the registered
// connection for its identifier.
func (r *Registry) markOpen(conn transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.conns[conn.RemoteID()]
	if !exists || e.conn != conn {
		return false
	}
	e.open = true
	e.lastSeen = time.Now()
	return true
}

func (r *Registry) touch(remoteID string) {
	r.mu.Lock()
	if e, exists := r.conns[remoteID]; exists {
		e.lastSeen = time.Now()
	}
	r.mu.Unlock()
}

// deregister removes conn if it is still the registered connection for
// its identifier; a replacement registered in the meantime stays. It
// reports whether an entry was actually removed.
func (r *Registry) deregister(conn transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.conns[conn.RemoteID()]
	if !exists || e.conn != conn {
		return false
	}
	delete(r.conns, conn.RemoteID())
	return true
}

func (r *Registry) acceptLoop() {
	for {
		select {
		case <-r.done:
			return
		case conn, ok := <-r.transport.Accept():
			if !ok {
				return
			}
			r.logger.Infof("Inbound connection from %s", conn.RemoteID())
			r.register(conn, false)
		}
	}
}

func (r *Registry) emit(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Close tears down every connection and stops the heartbeat timer.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		conns := r.conns
		r.conns = make(map[string]*entry)
		r.mu.Unlock()

		for _, e := range conns {
			e.conn.Close()
		}
	})
	return nil
}
