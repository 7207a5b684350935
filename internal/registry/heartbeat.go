package registry

import (
	"time"

	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

// heartbeatLoop sends the liveness marker on every open connection at a
// fixed period. It keeps the channel warm so the transport notices silent
// failures sooner; it never declares a connection dead itself.
func (r *Registry) heartbeatLoop() {
	payload, err := protocol.Encode(protocol.Heartbeat())
	if err != nil {
		r.logger.Errorf("Failed to encode heartbeat: %v", err)
		return
	}

	ticker := time.NewTicker(r.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			for _, conn := range r.openConns() {
				if err := conn.Send(payload); err != nil {
					r.logger.Debugf("Heartbeat to %s failed: %v", conn.RemoteID(), err)
				}
			}
		}
	}
}

func (r *Registry) openConns() []transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]transport.Conn, 0, len(r.conns))
	for _, e := range r.conns {
		if e.open {
			conns = append(conns, e.conn)
		}
	}
	return conns
}
