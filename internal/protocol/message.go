// Package protocol defines the JSON wire shape exchanged over a peer data
// connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindVideo     Kind = "video"
	KindHeartbeat Kind = "heartbeat"
)

// ErrUnknownKind marks an inbound payload whose declared type matches no
// recognized message kind.
var ErrUnknownKind = errors.New("unknown message kind")

// Envelope is one application message. Text carries the message body for
// text messages; Content carries inline data (a data URI) for image and
// video messages, with FileName naming the original file. A heartbeat
// envelope carries nothing beyond its type.
type Envelope struct {
	Type     Kind   `json:"type"`
	Text     string `json:"text,omitempty"`
	Content  string `json:"content,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// Heartbeat returns the liveness marker payload.
func Heartbeat() Envelope {
	return Envelope{Type: KindHeartbeat}
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses an inbound payload and validates its declared kind.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case KindText, KindImage, KindVideo, KindHeartbeat:
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

// IsHeartbeat reports whether raw data is a heartbeat marker. It only
// inspects the type field, so it never mistakes a malformed payload for a
// heartbeat.
func IsHeartbeat(data []byte) bool {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == KindHeartbeat
}

// Preview returns the short conversation-list summary for this message:
// the literal text for text messages, a fixed glyph label otherwise.
func (e Envelope) Preview() string {
	switch e.Type {
	case KindText:
		return e.Text
	case KindImage:
		return "📷 Image"
	case KindVideo:
		return "🎥 Video"
	default:
		return ""
	}
}
