package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/call"
	"github.com/anshalkumar644/Eind-private-chat/internal/chat"
	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

type fakeConn struct {
	remoteID string
	ready    chan struct{}
	recv     chan []byte

	mu   sync.Mutex
	once sync.Once
	sent [][]byte
}

func newFakeConn(remoteID string) *fakeConn {
	return &fakeConn{
		remoteID: remoteID,
		ready:    make(chan struct{}),
		recv:     make(chan []byte, 16),
	}
}

func (c *fakeConn) RemoteID() string { return c.remoteID }

func (c *fakeConn) Ready() <-chan struct{} { return c.ready }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Recv() <-chan []byte { return c.recv }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.recv) })
	return nil
}

func (c *fakeConn) open() { close(c.ready) }

func (c *fakeConn) deliver(data []byte) { c.recv <- data }

func (c *fakeConn) drop() { c.once.Do(func() { close(c.recv) }) }

type fakeStream struct{}

func (fakeStream) StopTracks() {}

type fakeSource struct{}

func (fakeSource) Acquire(ctx context.Context, video bool) (transport.MediaStream, error) {
	return fakeStream{}, nil
}

type fakeCall struct {
	remoteID string
	remote   chan transport.MediaStream
	done     chan struct{}
	once     sync.Once
}

func newFakeCall(remoteID string) *fakeCall {
	return &fakeCall{
		remoteID: remoteID,
		remote:   make(chan transport.MediaStream, 1),
		done:     make(chan struct{}),
	}
}

func (c *fakeCall) RemoteID() string { return c.remoteID }

func (c *fakeCall) Answer(local transport.MediaStream) error { return nil }

func (c *fakeCall) RemoteStream() <-chan transport.MediaStream { return c.remote }

func (c *fakeCall) Done() <-chan struct{} { return c.done }

func (c *fakeCall) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type fakeTransport struct {
	accept   chan transport.Conn
	incoming chan transport.Call

	mu    sync.Mutex
	conns map[string]*fakeConn
	calls []*fakeCall
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		accept:   make(chan transport.Conn, 4),
		incoming: make(chan transport.Call, 4),
		conns:    make(map[string]*fakeConn),
	}
}

func (t *fakeTransport) Connect(ctx context.Context, remoteID string) (transport.Conn, error) {
	c := newFakeConn(remoteID)
	t.mu.Lock()
	t.conns[remoteID] = c
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Accept() <-chan transport.Conn { return t.accept }

func (t *fakeTransport) Call(ctx context.Context, remoteID string, local transport.MediaStream) (transport.Call, error) {
	c := newFakeCall(remoteID)
	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Incoming() <-chan transport.Call { return t.incoming }

func (t *fakeTransport) Close() error { return nil }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func startApp(t *testing.T) (*App, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	a := New(Options{
		Transport:         tr,
		Media:             fakeSource{},
		Logger:            testLogger(),
		HeartbeatInterval: time.Hour, // keep heartbeats out of these tests
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, tr
}

// waitEvent drains the app event stream until pred matches.
func waitEvent(t *testing.T, a *App, pred func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-a.Events():
			if pred(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for app event")
			return nil
		}
	}
}

func waitConversation(t *testing.T, a *App, id string) chat.Conversation {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, conv := range a.Conversations() {
			if conv.ID == id {
				return conv
			}
		}
		select {
		case <-deadline:
			t.Fatalf("conversation %s never appeared", id)
		case <-time.After(time.Millisecond):
		}
	}
}

func establishInbound(t *testing.T, a *App, tr *fakeTransport, remoteID string) *fakeConn {
	t.Helper()
	conn := newFakeConn(remoteID)
	tr.accept <- conn
	conn.open()
	waitEvent(t, a, func(e Event) bool {
		pc, ok := e.(PeerConnected)
		return ok && pc.RemoteID == remoteID
	})
	return conn
}

func TestInboundMessageScenario(t *testing.T) {
	a, tr := startApp(t)

	conn := establishInbound(t, a, tr, "e2abcdef")

	payload, _ := protocol.Encode(protocol.Envelope{Type: protocol.KindText, Text: "hi"})
	conn.deliver(payload)

	deadline := time.After(2 * time.Second)
	for {
		conv := waitConversation(t, a, "e2abcdef")
		if len(conv.Messages) == 1 {
			if conv.Name != "Peer-e2abcd" {
				t.Errorf("expected name Peer-e2abcd, got %q", conv.Name)
			}
			if conv.LastPreview != "hi" {
				t.Errorf("expected preview %q, got %q", "hi", conv.LastPreview)
			}
			if conv.Unread != 1 {
				t.Errorf("expected unread 1, got %d", conv.Unread)
			}
			if conv.Messages[0].Sender != chat.SenderRemote || conv.Messages[0].Text != "hi" {
				t.Errorf("unexpected message: %+v", conv.Messages[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("message never reached the conversation")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSendMessageReachesPeer(t *testing.T) {
	a, tr := startApp(t)

	conn := establishInbound(t, a, tr, "e2abcdef")
	waitConversation(t, a, "e2abcdef")

	err := a.SendMessage("e2abcdef", protocol.KindText, "yo", "", "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	conn.mu.Lock()
	sent := len(conn.sent)
	conn.mu.Unlock()
	if sent != 1 {
		t.Fatalf("expected 1 payload on the wire, got %d", sent)
	}
}

func TestDeliveryFailureSurfacesNotice(t *testing.T) {
	a, tr := startApp(t)

	conn := establishInbound(t, a, tr, "e2abcdef")
	waitConversation(t, a, "e2abcdef")

	conn.drop()
	waitEvent(t, a, func(e Event) bool {
		_, ok := e.(PeerDisconnected)
		return ok
	})

	err := a.SendMessage("e2abcdef", protocol.KindText, "lost", "", "")
	if !errors.Is(err, chat.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	waitEvent(t, a, func(e Event) bool {
		_, ok := e.(Notice)
		return ok
	})

	conv := waitConversation(t, a, "e2abcdef")
	if len(conv.Messages) != 0 {
		t.Errorf("failed delivery must not append, got %d messages", len(conv.Messages))
	}
}

func TestIncomingCallRingsAndAnswers(t *testing.T) {
	a, tr := startApp(t)

	c := newFakeCall("e2abcdef")
	tr.incoming <- c

	waitEvent(t, a, func(e Event) bool {
		cs, ok := e.(CallState)
		return ok && cs.Phase == call.Ringing && cs.RemoteID == "e2abcdef"
	})

	if err := a.AnswerCall(context.Background(), false); err != nil {
		t.Fatalf("AnswerCall failed: %v", err)
	}

	c.remote <- fakeStream{}
	waitEvent(t, a, func(e Event) bool {
		cs, ok := e.(CallState)
		return ok && cs.Phase == call.Active
	})

	a.EndCall()
	waitEvent(t, a, func(e Event) bool {
		cs, ok := e.(CallState)
		return ok && cs.Phase == call.Idle
	})
}

func TestStartCallRequiresOpenConnection(t *testing.T) {
	a, _ := startApp(t)

	if err := a.StartCall(context.Background(), "nobody", false); err == nil {
		t.Fatal("expected StartCall to fail without a connection")
	}
	waitEvent(t, a, func(e Event) bool {
		_, ok := e.(Notice)
		return ok
	})
	if got := a.CallPhase(); got != call.Idle {
		t.Errorf("expected Idle, got %v", got)
	}
}

func TestClosedIncomingChannelKeepsLoopAlive(t *testing.T) {
	a, tr := startApp(t)

	close(tr.incoming)

	// The loop must keep serving the other event sources.
	conn := establishInbound(t, a, tr, "e2abcdef")
	payload, _ := protocol.Encode(protocol.Envelope{Type: protocol.KindText, Text: "hi"})
	conn.deliver(payload)

	deadline := time.After(2 * time.Second)
	for {
		conv := waitConversation(t, a, "e2abcdef")
		if len(conv.Messages) == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("event loop stopped serving after Incoming closed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestConnectToSelfRejected(t *testing.T) {
	a, _ := startApp(t)

	if err := a.ConnectTo(context.Background(), a.LocalID()); err == nil {
		t.Error("expected connecting to self to fail")
	}
	if err := a.ConnectTo(context.Background(), ""); err == nil {
		t.Error("expected connecting to empty id to fail")
	}
}
