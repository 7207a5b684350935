// Package call owns the single active call session: its state machine,
// the media handles attached to it, and teardown.
package call

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

// Phase is the call session state. At most one session is ever non-Idle.
type Phase int

const (
	Idle Phase = iota
	Dialing
	Ringing
	Active
)

func (p Phase) String() string {
	switch p {
	case Dialing:
		return "dialing"
	case Ringing:
		return "ringing"
	case Active:
		return "active"
	default:
		return "idle"
	}
}

var (
	// ErrBusy rejects a new call while a session is in progress.
	ErrBusy = errors.New("another call is in progress")

	// ErrNotRinging rejects Answer outside the Ringing phase.
	ErrNotRinging = errors.New("no incoming call to answer")
)

// Event is a call session notification for the application loop.
type Event interface{ callEvent() }

// StateChanged reports a phase transition.
type StateChanged struct {
	Phase    Phase
	RemoteID string
}

// Failure reports a recovered call error worth showing to the user. It
// is always followed by the session returning to Idle.
type Failure struct {
	RemoteID string
	Reason   string
}

func (StateChanged) callEvent() {}
func (Failure) callEvent()      {}

type Options struct {
	Transport transport.Transport
	Media     transport.MediaSource
	Logger    *logrus.Logger
}

// Manager drives the call state machine. Media acquisition and call
// placement run in their own goroutines; a generation counter keeps
// results that resolve after the session ended from resurrecting it.
type Manager struct {
	transport transport.Transport
	media     transport.MediaSource
	logger    *logrus.Logger

	mu       sync.Mutex
	phase    Phase
	gen      uint64
	remoteID string
	call     transport.Call
	local    transport.MediaStream
	remote   transport.MediaStream
	// answered marks that local media is attached to the call: at
	// placement for outgoing sessions, after Answer for inbound ones.
	// The remote stream only activates an answered session.
	answered bool

	events chan Event
}

func NewManager(opts Options) *Manager {
	return &Manager{
		transport: opts.Transport,
		media:     opts.Media,
		logger:    opts.Logger,
		events:    make(chan Event, 16),
	}
}

// Events yields session notifications. The channel is buffered; if the
// consumer stalls, events are dropped with a debug log rather than
// blocking the session.
func (m *Manager) Events() <-chan Event { return m.events }

// Phase reports the current session phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// RemoteID reports the peer of the current session, empty when Idle.
func (m *Manager) RemoteID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteID
}

// RemoteMedia returns the remote stream once the session is Active.
func (m *Manager) RemoteMedia() transport.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

// Start places an outgoing call to remoteID. The session enters Dialing
// immediately; media acquisition and call placement complete in the
// background, and any failure returns the session to Idle with a
// Failure event.
func (m *Manager) Start(ctx context.Context, remoteID string, video bool) error {
	m.mu.Lock()
	if m.phase != Idle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.phase = Dialing
	m.remoteID = remoteID
	gen := m.gen
	m.mu.Unlock()

	m.emit(StateChanged{Phase: Dialing, RemoteID: remoteID})
	go m.dial(ctx, remoteID, video, gen)
	return nil
}

func (m *Manager) dial(ctx context.Context, remoteID string, video bool, gen uint64) {
	stream, err := m.media.Acquire(ctx, video)
	if err != nil {
		m.logger.Warnf("Media acquisition failed for call to %s: %v", remoteID, err)
		m.failSession(gen, remoteID, "could not access camera/microphone: "+err.Error())
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		// The user gave up while we were waiting on media.
		stream.StopTracks()
		return
	}
	m.local = stream
	m.mu.Unlock()

	c, err := m.transport.Call(ctx, remoteID, stream)
	if err != nil {
		m.logger.Warnf("Placing call to %s failed: %v", remoteID, err)
		m.failSession(gen, remoteID, "call could not be placed: "+err.Error())
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		c.Close()
		return
	}
	m.call = c
	m.answered = true
	m.mu.Unlock()

	m.watch(c, gen, remoteID)
}

// HandleIncoming reacts to an inbound call offer. If a session is
// already in progress the offer is closed immediately; otherwise the
// session enters Ringing and waits for Answer or End.
func (m *Manager) HandleIncoming(c transport.Call) {
	m.mu.Lock()
	if m.phase != Idle {
		m.mu.Unlock()
		m.logger.Infof("Rejecting call from %s, session busy", c.RemoteID())
		c.Close()
		return
	}
	m.phase = Ringing
	m.remoteID = c.RemoteID()
	m.call = c
	gen := m.gen
	m.mu.Unlock()

	m.emit(StateChanged{Phase: Ringing, RemoteID: c.RemoteID()})
	m.watch(c, gen, c.RemoteID())
}

// Answer accepts the currently ringing call. Media acquisition runs in
// the background; the session stays Ringing until the remote stream
// arrives.
func (m *Manager) Answer(ctx context.Context, video bool) error {
	m.mu.Lock()
	if m.phase != Ringing {
		m.mu.Unlock()
		return ErrNotRinging
	}
	gen := m.gen
	remoteID := m.remoteID
	c := m.call
	m.mu.Unlock()

	go m.accept(ctx, c, remoteID, video, gen)
	return nil
}

func (m *Manager) accept(ctx context.Context, c transport.Call, remoteID string, video bool, gen uint64) {
	stream, err := m.media.Acquire(ctx, video)
	if err != nil {
		m.logger.Warnf("Media acquisition failed answering %s: %v", remoteID, err)
		m.failSession(gen, remoteID, "could not access camera/microphone: "+err.Error())
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		stream.StopTracks()
		return
	}
	m.local = stream
	m.mu.Unlock()

	if err := c.Answer(stream); err != nil {
		m.logger.Warnf("Answering call from %s failed: %v", remoteID, err)
		m.failSession(gen, remoteID, "call could not be answered: "+err.Error())
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.answered = true
	// The remote stream may have arrived while the call was still
	// ringing; it activates the session now.
	activate := m.remote != nil && m.phase == Ringing
	if activate {
		m.phase = Active
	}
	m.mu.Unlock()

	if activate {
		m.emit(StateChanged{Phase: Active, RemoteID: remoteID})
	}
}

// End terminates the current session in any phase: cancel while
// Dialing, reject while Ringing, hang up while Active. Calling it with
// no session is a no-op, so simultaneous local end and remote close
// release resources exactly once.
func (m *Manager) End() {
	m.mu.Lock()
	if m.phase == Idle {
		m.mu.Unlock()
		return
	}
	remoteID := m.remoteID
	m.teardownLocked()
	m.mu.Unlock()

	m.emit(StateChanged{Phase: Idle, RemoteID: remoteID})
}

// watch follows one call handle until the remote stream arrives and the
// call ends. Both observations are discarded if the session moved on.
func (m *Manager) watch(c transport.Call, gen uint64, remoteID string) {
	go func() {
		select {
		case stream := <-c.RemoteStream():
			m.remoteArrived(c, gen, remoteID, stream)
			<-c.Done()
		case <-c.Done():
		}
		m.remoteClosed(c, gen, remoteID)
	}()
}

func (m *Manager) remoteArrived(c transport.Call, gen uint64, remoteID string, stream transport.MediaStream) {
	m.mu.Lock()
	if m.gen != gen || m.call != c {
		m.mu.Unlock()
		// Stream event for a session that no longer exists.
		if stream != nil {
			stream.StopTracks()
		}
		return
	}
	m.remote = stream
	if !m.answered {
		// Stream before the user answered: hold it, the session stays
		// Ringing until Answer attaches local media.
		m.mu.Unlock()
		return
	}
	m.phase = Active
	m.mu.Unlock()

	m.emit(StateChanged{Phase: Active, RemoteID: remoteID})
}

func (m *Manager) remoteClosed(c transport.Call, gen uint64, remoteID string) {
	m.mu.Lock()
	if m.gen != gen || m.call != c {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.mu.Unlock()

	m.emit(StateChanged{Phase: Idle, RemoteID: remoteID})
}

// failSession resets an in-progress session to Idle and surfaces the
// reason once. Stale generations are dropped silently.
func (m *Manager) failSession(gen uint64, remoteID, reason string) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.mu.Unlock()

	m.emit(Failure{RemoteID: remoteID, Reason: reason})
	m.emit(StateChanged{Phase: Idle, RemoteID: remoteID})
}

// teardownLocked releases everything the session holds. Bumping the
// generation invalidates every in-flight acquisition and watcher.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.call != nil {
		m.call.Close()
		m.call = nil
	}
	if m.local != nil {
		m.local.StopTracks()
		m.local = nil
	}
	m.remote = nil
	m.remoteID = ""
	m.answered = false
	m.phase = Idle
}

func (m *Manager) emit(e Event) {
	select {
	case m.events <- e:
	default:
		m.logger.Debugf("Dropping call event %T, consumer not keeping up", e)
	}
}
