package app

import "github.com/anshalkumar644/Eind-private-chat/internal/call"

// Event is an application event for the presentation layer.
type Event interface{ appEvent() }

// ConversationsUpdated signals that the conversation list changed; the
// consumer pulls a fresh snapshot via Conversations.
type ConversationsUpdated struct{}

// PeerConnected fires when a data link to a remote endpoint opens.
type PeerConnected struct{ RemoteID string }

// PeerDisconnected fires when a data link closes or fails.
type PeerDisconnected struct{ RemoteID string }

// CallState mirrors the call session's phase transitions.
type CallState struct {
	Phase    call.Phase
	RemoteID string
}

// Notice carries one human-readable transient notification. Every
// recovered failure surfaces as exactly one Notice, never as a crash.
type Notice struct{ Text string }

func (ConversationsUpdated) appEvent() {}
func (PeerConnected) appEvent()        {}
func (PeerDisconnected) appEvent()     {}
func (CallState) appEvent()            {}
func (Notice) appEvent()               {}
