// Package signaling carries SDP and ICE exchange between endpoints via
// the rendezvous server. Only negotiation metadata travels here; chat
// payloads and media go directly peer to peer.
package signaling

// Envelope kinds. Connection and call negotiation use separate kinds so
// a candidate is never applied to the wrong peer connection.
const (
	KindRegister   = "register"
	KindRegistered = "registered"
	KindConnOffer  = "conn-offer"
	KindConnAnswer = "conn-answer"
	KindConnICE    = "conn-ice"
	KindCallOffer  = "call-offer"
	KindCallAnswer = "call-answer"
	KindCallICE    = "call-ice"
	KindCallHangup = "call-hangup"
	KindError      = "error"
)

type Envelope struct {
	Kind      string `json:"kind"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
