package chat

import (
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
)

var (
	// ErrUnknownConversation rejects sends to a conversation that was
	// never created.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrDeliveryFailed reports a send with no open connection to the
	// target. The message is not recorded; nothing pretends it was sent.
	ErrDeliveryFailed = errors.New("peer is not reachable")
)

// SendFunc hands a payload to the connection registry; it reports whether
// the payload was accepted by the channel.
type SendFunc func(remoteID string, payload []byte) bool

// Router classifies inbound payloads into the store and drives the
// outbound send path. It is the only writer of conversation state besides
// the store's own SetActive.
type Router struct {
	store  *Store
	send   SendFunc
	logger *logrus.Logger

	now        func() time.Time
	replyDelay time.Duration
	randFn     func(n int) int
}

type RouterOptions struct {
	Store  *Store
	Send   SendFunc
	Logger *logrus.Logger

	// ReplyDelay and RandFn tune the assistant; tests inject both.
	ReplyDelay time.Duration
	RandFn     func(n int) int
	Now        func() time.Time
}

func NewRouter(opts RouterOptions) *Router {
	delay := opts.ReplyDelay
	if delay <= 0 {
		delay = AssistantReplyDelay
	}
	randFn := opts.RandFn
	if randFn == nil {
		randFn = rand.Intn
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		store:      opts.Store,
		send:       opts.Send,
		logger:     opts.Logger,
		now:        now,
		replyDelay: delay,
		randFn:     randFn,
	}
}

// HandleInbound folds one payload from remoteID into the store. The
// timestamp is the local receive time; there is no clock sync with the
// sender. Unrecognized or malformed payloads are dropped.
func (r *Router) HandleInbound(remoteID string, payload []byte) {
	env, err := protocol.Decode(payload)
	if err != nil {
		r.logger.Debugf("Dropping payload from %s: %v", remoteID, err)
		return
	}
	if env.Type == protocol.KindHeartbeat {
		// The registry filters these; one arriving here is a protocol
		// violation and is ignored.
		r.logger.Debugf("Ignoring stray heartbeat from %s", remoteID)
		return
	}
	r.store.AppendInbound(remoteID, env, r.now())
}

// SendLocal delivers a local message for the given conversation. For a
// network-backed conversation the payload must be accepted by the
// registry first; on delivery failure nothing is appended.
func (r *Router) SendLocal(convID string, env protocol.Envelope) error {
	if !r.store.Exists(convID) {
		return ErrUnknownConversation
	}

	if r.store.IsP2P(convID) {
		payload, err := protocol.Encode(env)
		if err != nil {
			return err
		}
		if !r.send(convID, payload) {
			return ErrDeliveryFailed
		}
	}

	r.store.AppendLocal(convID, env, r.now())

	if convID == AssistantID {
		r.scheduleAssistantReply()
	}
	return nil
}
