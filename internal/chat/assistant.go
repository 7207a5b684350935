package chat

import (
	"time"

	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
)

// AssistantReplyDelay is the pause before the assistant answers a local
// message.
const AssistantReplyDelay = 900 * time.Millisecond

// AssistantReplies is the fixed pool the assistant draws from.
var AssistantReplies = []string{
	"Hey! I'm your local assistant. No network needed to talk to me.",
	"Interesting, tell me more.",
	"Got it. Anything else on your mind?",
	"I hear you loud and clear.",
	"That sounds good to me.",
	"Hmm, let me think about that one...",
	"You can share your ID from the header to chat with real people too.",
}

// PickReply selects one reply from the pool. randFn receives the pool
// size and returns an index; injecting it makes the choice deterministic
// in tests.
func PickReply(pool []string, randFn func(n int) int) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[randFn(len(pool))]
}

// scheduleAssistantReply appends exactly one reply after the fixed delay.
func (r *Router) scheduleAssistantReply() {
	time.AfterFunc(r.replyDelay, func() {
		reply := PickReply(AssistantReplies, r.randFn)
		r.store.AppendInbound(AssistantID, protocol.Envelope{
			Type: protocol.KindText,
			Text: reply,
		}, r.now())
	})
}
