// Package chat holds the per-endpoint conversation log and the router
// that folds inbound payloads and local sends into it.
package chat

import (
	"sync"
	"time"

	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
)

type Sender string

const (
	SenderLocal  Sender = "me"
	SenderRemote Sender = "them"
)

// AssistantID is the reserved identifier of the built-in assistant
// conversation. It is local-only: nothing sent to it touches the network.
const AssistantID = "assistant"

const (
	assistantName   = "Assistant"
	assistantAvatar = "🤖"
	defaultAvatar   = "👤"
)

// Message is one entry in a conversation. Immutable once appended.
type Message struct {
	ID       int64
	Kind     protocol.Kind
	Text     string
	Content  string
	FileName string
	Sender   Sender
	SentAt   time.Time
}

// Conversation is the ordered log of messages exchanged with one remote
// endpoint (or with the assistant), plus its list metadata.
type Conversation struct {
	ID           string
	Name         string
	Avatar       string
	Messages     []Message
	Unread       int
	LastPreview  string
	LastActivity time.Time
	// P2P marks conversations backed by a network connection, as opposed
	// to the local-only assistant.
	P2P bool
}

// Store is the canonical in-memory conversation log. Conversations are
// created lazily, kept most-recently-active first, and never deleted for
// the lifetime of the session.
type Store struct {
	mu       sync.Mutex
	byID     map[string]*Conversation
	order    []string
	nextID   int64
	activeID string

	// onChange, when set, runs after every mutation, outside the lock.
	onChange func()
}

func NewStore() *Store {
	s := &Store{
		byID: make(map[string]*Conversation),
	}
	s.byID[AssistantID] = &Conversation{
		ID:     AssistantID,
		Name:   assistantName,
		Avatar: assistantAvatar,
	}
	s.order = []string{AssistantID}
	return s
}

// OnChange registers a callback fired after every mutation. Used by the
// application loop to push fresh state to the presentation layer.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// DisplayName derives the deterministic list name for a remote
// identifier.
func DisplayName(remoteID string) string {
	short := remoteID
	if len(short) > 6 {
		short = short[:6]
	}
	return "Peer-" + short
}

// Ensure returns the conversation for remoteID, creating it if absent.
func (s *Store) Ensure(remoteID string) Conversation {
	s.mu.Lock()
	conv := s.ensureLocked(remoteID)
	snapshot := cloneConversation(conv)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return snapshot
}

func (s *Store) ensureLocked(remoteID string) *Conversation {
	if conv, exists := s.byID[remoteID]; exists {
		return conv
	}
	conv := &Conversation{
		ID:     remoteID,
		Name:   DisplayName(remoteID),
		Avatar: defaultAvatar,
		P2P:    true,
	}
	s.byID[remoteID] = conv
	s.order = append(s.order, remoteID)
	return conv
}

// AppendInbound records a message received from remoteID, creating the
// conversation if needed. The unread counter is untouched when the
// conversation is the currently viewed one.
func (s *Store) AppendInbound(remoteID string, env protocol.Envelope, at time.Time) {
	s.mu.Lock()
	conv := s.ensureLocked(remoteID)
	s.appendLocked(conv, env, SenderRemote, at)
	if s.activeID != conv.ID {
		conv.Unread++
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// AppendLocal records a message sent by this endpoint. The caller is
// responsible for having delivered it first; a failed delivery must not
// reach the log.
func (s *Store) AppendLocal(convID string, env protocol.Envelope, at time.Time) bool {
	s.mu.Lock()
	conv, exists := s.byID[convID]
	if !exists {
		s.mu.Unlock()
		return false
	}
	s.appendLocked(conv, env, SenderLocal, at)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// appendLocked appends the message and refreshes the conversation's list
// metadata, moving it to the front of the ordering.
func (s *Store) appendLocked(conv *Conversation, env protocol.Envelope, sender Sender, at time.Time) {
	s.nextID++
	conv.Messages = append(conv.Messages, Message{
		ID:       s.nextID,
		Kind:     env.Type,
		Text:     env.Text,
		Content:  env.Content,
		FileName: env.FileName,
		Sender:   sender,
		SentAt:   at,
	})
	conv.LastPreview = env.Preview()
	conv.LastActivity = at
	s.moveToFrontLocked(conv.ID)
}

func (s *Store) moveToFrontLocked(id string) {
	for i, existing := range s.order {
		if existing == id {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = id
			return
		}
	}
}

// SetActive marks a conversation as the one currently being viewed and
// clears its unread counter. An empty id means no conversation is open.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	s.activeID = id
	conv, exists := s.byID[id]
	if exists {
		conv.Unread = 0
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return exists || id == ""
}

// Exists reports whether a conversation with the given id is known.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.byID[id]
	return exists
}

// IsP2P reports whether the conversation is network-backed.
func (s *Store) IsP2P(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, exists := s.byID[id]
	return exists && conv.P2P
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, exists := s.byID[id]
	if !exists {
		return Conversation{}, false
	}
	return cloneConversation(conv), true
}

// List returns copies of all conversations, most-recently-active first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneConversation(s.byID[id]))
	}
	return out
}

func cloneConversation(conv *Conversation) Conversation {
	clone := *conv
	clone.Messages = make([]Message, len(conv.Messages))
	copy(clone.Messages, conv.Messages)
	return clone
}
