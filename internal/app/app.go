// Package app wires identity, signaling, transport, registry, chat and
// call state into one event loop and exposes the user-intent surface the
// presentation layer drives.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/call"
	"github.com/anshalkumar644/Eind-private-chat/internal/chat"
	"github.com/anshalkumar644/Eind-private-chat/internal/identity"
	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
	"github.com/anshalkumar644/Eind-private-chat/internal/registry"
	"github.com/anshalkumar644/Eind-private-chat/internal/signaling"
	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
	"github.com/anshalkumar644/Eind-private-chat/internal/transport/webrtc"
)

type Options struct {
	SignalURL   string
	STUNServers []string
	Logger      *logrus.Logger

	HeartbeatInterval time.Duration

	// Transport and Media override the WebRTC stack; tests inject fakes
	// here and skip the signaling dial entirely.
	Transport transport.Transport
	Media     transport.MediaSource
}

// App is one running endpoint.
type App struct {
	opts    Options
	localID string
	logger  *logrus.Logger

	signal    *signaling.Client
	transport transport.Transport
	registry  *registry.Registry
	store     *chat.Store
	router    *chat.Router
	calls     *call.Manager

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *App {
	return &App{
		opts:    opts,
		localID: identity.NewEndpointID(),
		logger:  opts.Logger,
		store:   chat.NewStore(),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
}

// Start connects to the signaling server (unless a transport was
// injected), assembles the component stack and launches the event loop.
func (a *App) Start(ctx context.Context) error {
	tr := a.opts.Transport
	if tr == nil {
		if a.opts.SignalURL == "" {
			return fmt.Errorf("no signaling server URL configured")
		}
		sig := signaling.NewClient(a.opts.SignalURL, a.localID, a.logger)
		if err := sig.Start(ctx); err != nil {
			return err
		}
		a.signal = sig
		tr = webrtc.New(webrtc.Options{
			LocalID:     a.localID,
			Signaler:    sig,
			STUNServers: a.opts.STUNServers,
			Logger:      a.logger,
		})
	}
	a.transport = tr

	media := a.opts.Media
	if media == nil {
		media = webrtc.NewStaticSource(a.logger)
	}

	a.registry = registry.New(registry.Options{
		Transport:         tr,
		Logger:            a.logger,
		HeartbeatInterval: a.opts.HeartbeatInterval,
	})
	a.router = chat.NewRouter(chat.RouterOptions{
		Store:  a.store,
		Send:   a.registry.Send,
		Logger: a.logger,
	})
	a.calls = call.NewManager(call.Options{
		Transport: tr,
		Media:     media,
		Logger:    a.logger,
	})

	a.store.OnChange(func() { a.emit(ConversationsUpdated{}) })

	a.registry.Start()
	go a.run()
	return nil
}

// LocalID is this endpoint's session identifier, shared out of band so
// peers can connect.
func (a *App) LocalID() string { return a.localID }

// Events yields application events for the presentation layer.
func (a *App) Events() <-chan Event { return a.events }

func (a *App) run() {
	incoming := a.transport.Incoming()
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-a.registry.Events():
			if !ok {
				return
			}
			a.handleRegistryEvent(ev)
		case ev := <-a.calls.Events():
			a.handleCallEvent(ev)
		case c, ok := <-incoming:
			if !ok {
				// A nil channel blocks forever, keeping the loop on the
				// remaining sources.
				incoming = nil
				continue
			}
			a.calls.HandleIncoming(c)
		}
	}
}

func (a *App) handleRegistryEvent(ev registry.Event) {
	switch e := ev.(type) {
	case registry.Established:
		a.logger.Infof("Connected to %s", e.RemoteID)
		// A conversation opens with the link so the user can start
		// typing before the first inbound message.
		a.store.Ensure(e.RemoteID)
		a.emit(PeerConnected{RemoteID: e.RemoteID})
	case registry.Lost:
		a.logger.Infof("Lost connection to %s", e.RemoteID)
		a.emit(PeerDisconnected{RemoteID: e.RemoteID})
		a.emit(Notice{Text: "Connection to " + chat.DisplayName(e.RemoteID) + " lost"})
	case registry.Data:
		a.router.HandleInbound(e.RemoteID, e.Payload)
	}
}

func (a *App) handleCallEvent(ev call.Event) {
	switch e := ev.(type) {
	case call.StateChanged:
		a.emit(CallState{Phase: e.Phase, RemoteID: e.RemoteID})
	case call.Failure:
		a.emit(Notice{Text: e.Reason})
	}
}

// ConnectTo requests a data link to remoteID. Success or failure arrives
// later as a PeerConnected or PeerDisconnected event.
func (a *App) ConnectTo(ctx context.Context, remoteID string) error {
	if remoteID == "" || remoteID == a.localID {
		return fmt.Errorf("invalid peer identifier")
	}
	if err := a.registry.Connect(ctx, remoteID); err != nil {
		a.logger.Warnf("Connect to %s failed: %v", remoteID, err)
		a.emit(Notice{Text: "Could not reach " + chat.DisplayName(remoteID)})
		return err
	}
	return nil
}

// SendMessage delivers a local message to the given conversation.
func (a *App) SendMessage(convID string, kind protocol.Kind, text, content, fileName string) error {
	err := a.router.SendLocal(convID, protocol.Envelope{
		Type:     kind,
		Text:     text,
		Content:  content,
		FileName: fileName,
	})
	if err == chat.ErrDeliveryFailed {
		a.emit(Notice{Text: "Message not delivered, peer is unreachable"})
	}
	return err
}

// SelectConversation marks a conversation active, clearing its unread
// count. An empty id means no conversation is open.
func (a *App) SelectConversation(convID string) {
	a.store.SetActive(convID)
}

// Conversations returns the current conversation list, most recently
// active first.
func (a *App) Conversations() []chat.Conversation {
	return a.store.List()
}

// StartCall places an outgoing call. The peer must have an open data
// link first.
func (a *App) StartCall(ctx context.Context, remoteID string, video bool) error {
	if !a.registry.Open(remoteID) {
		a.emit(Notice{Text: chat.DisplayName(remoteID) + " is not connected"})
		return fmt.Errorf("no open connection to %s", remoteID)
	}
	return a.calls.Start(ctx, remoteID, video)
}

// AnswerCall accepts the currently ringing call.
func (a *App) AnswerCall(ctx context.Context, video bool) error {
	return a.calls.Answer(ctx, video)
}

// EndCall terminates the current call session in any phase: it cancels
// while dialing, rejects while ringing and hangs up while active.
func (a *App) EndCall() {
	a.calls.End()
}

// CallPhase reports the current call session phase.
func (a *App) CallPhase() call.Phase {
	return a.calls.Phase()
}

func (a *App) emit(e Event) {
	select {
	case a.events <- e:
	default:
		a.logger.Debugf("Dropping app event %T, consumer not keeping up", e)
	}
}

func (a *App) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		if a.calls != nil {
			a.calls.End()
		}
		if a.registry != nil {
			a.registry.Close()
		}
		if a.transport != nil {
			a.transport.Close()
		}
		if a.signal != nil {
			a.signal.Close()
		}
	})
	return nil
}
