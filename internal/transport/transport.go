// Package transport defines the boundary to the provider that performs
// connection negotiation, NAT traversal and raw data/media transport. The
// rest of the application only ever sees these interfaces.
package transport

import "context"

// Transport opens data links and call sessions to remote endpoints.
type Transport interface {
	// Connect requests an outbound data link to remoteID. The returned
	// Conn is not usable for sending until Ready is closed; failure to
	// establish surfaces as the Recv channel closing.
	Connect(ctx context.Context, remoteID string) (Conn, error)

	// Accept yields inbound data links, delivered once their handshake
	// has completed.
	Accept() <-chan Conn

	// Call places an outgoing call to remoteID carrying local media.
	Call(ctx context.Context, remoteID string, local MediaStream) (Call, error)

	// Incoming yields inbound, not-yet-answered call offers.
	Incoming() <-chan Call

	Close() error
}

// Conn is one logical data link to a remote endpoint.
type Conn interface {
	RemoteID() string

	// Ready is closed once the link handshake completes.
	Ready() <-chan struct{}

	Send(data []byte) error

	// Recv yields inbound payloads in delivery order. The channel is
	// closed when the link closes or errors.
	Recv() <-chan []byte

	Close() error
}

// Call is one call session, outgoing or inbound.
type Call interface {
	RemoteID() string

	// Answer attaches local media to an inbound call and accepts it.
	Answer(local MediaStream) error

	// RemoteStream yields the remote media stream when it arrives. At
	// most one stream is delivered per call.
	RemoteStream() <-chan MediaStream

	// Done is closed when the call ends on either side, for any reason.
	Done() <-chan struct{}

	Close() error
}

// MediaStream is an opaque handle over a set of media tracks.
type MediaStream interface {
	// StopTracks releases every track held by the stream. Calling it
	// more than once is safe.
	StopTracks()
}

// MediaSource acquires local capture media for a call. Acquisition may
// take arbitrarily long and may fail (permission denied, no device).
type MediaSource interface {
	Acquire(ctx context.Context, video bool) (MediaStream, error)
}
