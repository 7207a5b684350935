package chat

import (
	"testing"
	"time"

	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
)

func TestPickReplyDeterministic(t *testing.T) {
	pool := []string{"a", "b", "c"}

	if got := PickReply(pool, func(n int) int { return 0 }); got != "a" {
		t.Errorf("expected a, got %q", got)
	}
	if got := PickReply(pool, func(n int) int { return 2 }); got != "c" {
		t.Errorf("expected c, got %q", got)
	}
}

func TestPickReplyEmptyPool(t *testing.T) {
	if got := PickReply(nil, func(n int) int { return 0 }); got != "" {
		t.Errorf("expected empty reply, got %q", got)
	}
}

func TestAssistantRepliesOnce(t *testing.T) {
	store := NewStore()
	router := NewRouter(RouterOptions{
		Store:      store,
		Send:       rejectAll,
		Logger:     testLogger(),
		ReplyDelay: 5 * time.Millisecond,
		RandFn:     func(n int) int { return 1 },
	})

	err := router.SendLocal(AssistantID, protocol.Envelope{Type: protocol.KindText, Text: "hello"})
	if err != nil {
		t.Fatalf("SendLocal failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		conv, _ := store.Get(AssistantID)
		if len(conv.Messages) == 2 {
			reply := conv.Messages[1]
			if reply.Sender != SenderRemote {
				t.Errorf("expected reply sender %q, got %q", SenderRemote, reply.Sender)
			}
			if reply.Text != AssistantReplies[1] {
				t.Errorf("expected pool reply %q, got %q", AssistantReplies[1], reply.Text)
			}
			// Linger to make sure exactly one reply arrives.
			time.Sleep(20 * time.Millisecond)
			conv, _ = store.Get(AssistantID)
			if len(conv.Messages) != 2 {
				t.Errorf("expected exactly one reply, got %d messages", len(conv.Messages))
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("assistant reply never arrived, have %d messages", len(conv.Messages))
		case <-time.After(time.Millisecond):
		}
	}
}
