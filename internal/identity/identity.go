// Package identity generates the endpoint identifier other peers use to
// reach this endpoint for the lifetime of the session.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// NewEndpointID returns a fresh opaque identifier. It is generated per
// session and never persisted; a restart gets a new one.
func NewEndpointID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
