package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

type fakeStream struct {
	stops int32
}

func (s *fakeStream) StopTracks() { atomic.AddInt32(&s.stops, 1) }

func (s *fakeStream) stopCount() int32 { return atomic.LoadInt32(&s.stops) }

type fakeSource struct {
	err    error
	stream *fakeStream
	gate   chan struct{} // when set, Acquire blocks until closed
}

func (s *fakeSource) Acquire(ctx context.Context, video bool) (transport.MediaStream, error) {
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type fakeCall struct {
	remoteID string
	remote   chan transport.MediaStream
	done     chan struct{}

	mu       sync.Mutex
	once     sync.Once
	answered transport.MediaStream
}

func newFakeCall(remoteID string) *fakeCall {
	return &fakeCall{
		remoteID: remoteID,
		remote:   make(chan transport.MediaStream, 1),
		done:     make(chan struct{}),
	}
}

func (c *fakeCall) RemoteID() string { return c.remoteID }

func (c *fakeCall) Answer(local transport.MediaStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered = local
	return nil
}

func (c *fakeCall) answeredWith() transport.MediaStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

func (c *fakeCall) RemoteStream() <-chan transport.MediaStream { return c.remote }

func (c *fakeCall) Done() <-chan struct{} { return c.done }

func (c *fakeCall) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeCall) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []*fakeCall
}

func (t *fakeTransport) Connect(ctx context.Context, remoteID string) (transport.Conn, error) {
	return nil, errors.New("not supported")
}

func (t *fakeTransport) Accept() <-chan transport.Conn { return nil }

func (t *fakeTransport) Call(ctx context.Context, remoteID string, local transport.MediaStream) (transport.Call, error) {
	c := newFakeCall(remoteID)
	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Incoming() <-chan transport.Call { return nil }

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) placedCalls() []*fakeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeCall(nil), t.calls...)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestManager(src transport.MediaSource) (*Manager, *fakeTransport) {
	tr := &fakeTransport{}
	m := NewManager(Options{Transport: tr, Media: src, Logger: testLogger()})
	return m, tr
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case e := <-m.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call event")
		return nil
	}
}

func expectPhase(t *testing.T, m *Manager, want Phase) {
	t.Helper()
	for {
		e := nextEvent(t, m)
		sc, ok := e.(StateChanged)
		if !ok {
			continue
		}
		if sc.Phase != want {
			t.Fatalf("expected phase %v, got %v", want, sc.Phase)
		}
		return
	}
}

func waitPlacedCall(t *testing.T, tr *fakeTransport) *fakeCall {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if calls := tr.placedCalls(); len(calls) > 0 {
			return calls[0]
		}
		select {
		case <-deadline:
			t.Fatal("call was never placed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMediaDeniedStaysIdle(t *testing.T) {
	m, tr := newTestManager(&fakeSource{err: errors.New("permission denied")})

	if err := m.Start(context.Background(), "e2", false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	expectPhase(t, m, Dialing)

	e := nextEvent(t, m)
	fail, ok := e.(Failure)
	if !ok {
		t.Fatalf("expected Failure, got %T", e)
	}
	if fail.RemoteID != "e2" {
		t.Errorf("expected failure for e2, got %q", fail.RemoteID)
	}

	expectPhase(t, m, Idle)
	if got := m.Phase(); got != Idle {
		t.Errorf("expected Idle, got %v", got)
	}
	if calls := tr.placedCalls(); len(calls) != 0 {
		t.Errorf("no call must be placed after media denial, got %d", len(calls))
	}
}

func TestOutgoingBecomesActive(t *testing.T) {
	local := &fakeStream{}
	m, tr := newTestManager(&fakeSource{stream: local})

	if err := m.Start(context.Background(), "e2", true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	expectPhase(t, m, Dialing)

	c := waitPlacedCall(t, tr)
	remote := &fakeStream{}
	c.remote <- remote

	expectPhase(t, m, Active)
	if m.RemoteMedia() != remote {
		t.Error("remote stream not attached to the session")
	}
	if m.RemoteID() != "e2" {
		t.Errorf("expected remote e2, got %q", m.RemoteID())
	}
}

func TestTeardownIdempotent(t *testing.T) {
	local := &fakeStream{}
	m, tr := newTestManager(&fakeSource{stream: local})

	if err := m.Start(context.Background(), "e2", false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	expectPhase(t, m, Dialing)
	c := waitPlacedCall(t, tr)
	c.remote <- &fakeStream{}
	expectPhase(t, m, Active)

	m.End()
	m.End()

	expectPhase(t, m, Idle)
	if got := local.stopCount(); got != 1 {
		t.Errorf("expected exactly one track release, got %d", got)
	}
	if !c.closed() {
		t.Error("call handle must be closed on teardown")
	}
	if got := m.Phase(); got != Idle {
		t.Errorf("expected Idle, got %v", got)
	}
}

func TestIncomingRingAnswerActive(t *testing.T) {
	local := &fakeStream{}
	m, _ := newTestManager(&fakeSource{stream: local})

	c := newFakeCall("e2")
	m.HandleIncoming(c)
	expectPhase(t, m, Ringing)

	if err := m.Answer(context.Background(), false); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for c.answeredWith() == nil {
		select {
		case <-deadline:
			t.Fatal("call was never answered")
		case <-time.After(time.Millisecond):
		}
	}
	if c.answeredWith() != local {
		t.Error("answered with the wrong media stream")
	}

	c.remote <- &fakeStream{}
	expectPhase(t, m, Active)
}

func TestStreamBeforeAnswerStaysRinging(t *testing.T) {
	local := &fakeStream{}
	m, _ := newTestManager(&fakeSource{stream: local})

	c := newFakeCall("e2")
	m.HandleIncoming(c)
	expectPhase(t, m, Ringing)

	// A stream arriving before the user answers must not activate the
	// session on its own.
	c.remote <- &fakeStream{}
	time.Sleep(20 * time.Millisecond)
	if got := m.Phase(); got != Ringing {
		t.Fatalf("unanswered session activated, phase %v", got)
	}

	if err := m.Answer(context.Background(), false); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	expectPhase(t, m, Active)
	if c.answeredWith() != local {
		t.Error("answered with the wrong media stream")
	}
}

func TestBusyIncomingRejected(t *testing.T) {
	m, _ := newTestManager(&fakeSource{stream: &fakeStream{}})

	first := newFakeCall("e2")
	m.HandleIncoming(first)
	expectPhase(t, m, Ringing)

	second := newFakeCall("e3")
	m.HandleIncoming(second)
	if !second.closed() {
		t.Error("busy session must close a second incoming call")
	}
	if m.RemoteID() != "e2" {
		t.Errorf("expected session to stay with e2, got %q", m.RemoteID())
	}
}

func TestAnswerOutsideRinging(t *testing.T) {
	m, _ := newTestManager(&fakeSource{stream: &fakeStream{}})

	if err := m.Answer(context.Background(), false); !errors.Is(err, ErrNotRinging) {
		t.Errorf("expected ErrNotRinging, got %v", err)
	}
}

func TestAbandonedMediaReleased(t *testing.T) {
	local := &fakeStream{}
	gate := make(chan struct{})
	m, tr := newTestManager(&fakeSource{stream: local, gate: gate})

	if err := m.Start(context.Background(), "e2", false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	expectPhase(t, m, Dialing)

	// Hang up before media acquisition resolves.
	m.End()
	expectPhase(t, m, Idle)

	close(gate)

	deadline := time.After(2 * time.Second)
	for local.stopCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("late media stream was never released")
		case <-time.After(time.Millisecond):
		}
	}
	if calls := tr.placedCalls(); len(calls) != 0 {
		t.Errorf("no call must be placed for an abandoned session, got %d", len(calls))
	}
	if got := m.Phase(); got != Idle {
		t.Errorf("dead session resurrected to %v", got)
	}
}

func TestRemoteHangupReturnsIdle(t *testing.T) {
	local := &fakeStream{}
	m, tr := newTestManager(&fakeSource{stream: local})

	if err := m.Start(context.Background(), "e2", false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	expectPhase(t, m, Dialing)
	c := waitPlacedCall(t, tr)
	c.remote <- &fakeStream{}
	expectPhase(t, m, Active)

	c.Close()

	expectPhase(t, m, Idle)
	if got := local.stopCount(); got != 1 {
		t.Errorf("expected one track release, got %d", got)
	}
}
