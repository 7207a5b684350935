// Package rendezvous implements the signaling server. Endpoints register
// their identifier over a websocket and the server forwards negotiation
// envelopes between them. It never sees chat payloads or media.
package rendezvous

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/signaling"
)

type Config struct {
	Addr   string
	Logger *logrus.Logger
}

type Server struct {
	config   Config
	logger   *logrus.Logger
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*session
}

// session is one registered endpoint. Writes are serialized because
// forwarding happens from other endpoints' read goroutines.
type session struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) write(env signaling.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

func NewServer(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	return &Server{
		config:   cfg,
		logger:   logger,
		listener: ln,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*session),
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Rendezvous server started on %s", s.Addr())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.Serve(s.listener)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	var reg signaling.Envelope
	if err := conn.ReadJSON(&reg); err != nil || reg.Kind != signaling.KindRegister || reg.From == "" {
		conn.WriteJSON(signaling.Envelope{Kind: signaling.KindError, Reason: "expected register envelope"})
		conn.Close()
		return
	}

	sess := &session{id: reg.From, conn: conn}
	s.register(sess)
	defer s.deregister(sess)

	if err := sess.write(signaling.Envelope{Kind: signaling.KindRegistered}); err != nil {
		return
	}
	s.logger.Infof("Endpoint registered: %s", sess.id)

	for {
		var env signaling.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.logger.Infof("Endpoint disconnected: %s", sess.id)
			return
		}
		env.From = sess.id
		s.forward(sess, env)
	}
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	old, exists := s.clients[sess.id]
	s.clients[sess.id] = sess
	s.mu.Unlock()

	// A re-registration under the same identifier supersedes the old
	// link; close it so its read loop exits.
	if exists {
		old.conn.Close()
	}
}

func (s *Server) deregister(sess *session) {
	s.mu.Lock()
	if s.clients[sess.id] == sess {
		delete(s.clients, sess.id)
	}
	s.mu.Unlock()
	sess.conn.Close()
}

func (s *Server) forward(from *session, env signaling.Envelope) {
	s.mu.Lock()
	target, ok := s.clients[env.To]
	s.mu.Unlock()

	if !ok {
		s.logger.Debugf("Dropping %s envelope for unknown endpoint %s", env.Kind, env.To)
		from.write(signaling.Envelope{
			Kind:   signaling.KindError,
			To:     from.id,
			Reason: fmt.Sprintf("endpoint %s is not registered", env.To),
		})
		return
	}

	if err := target.write(env); err != nil {
		s.logger.Warnf("Failed to forward %s envelope to %s: %v", env.Kind, env.To, err)
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down rendezvous server")

	s.mu.Lock()
	for _, sess := range s.clients {
		sess.conn.Close()
	}
	s.clients = make(map[string]*session)
	s.mu.Unlock()

	return s.listener.Close()
}
