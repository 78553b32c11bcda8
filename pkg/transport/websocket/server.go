package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/internal/metrics"
)

// Session is the per-connection protocol state created by an Acceptor
type Session interface {
	// HandleMessage processes one inbound frame
	HandleMessage(message []byte)

	// Close releases the session. It runs once after the connection closes.
	Close()
}

// Acceptor creates a session for every upgraded connection
type Acceptor interface {
	Accept(r *http.Request, conn *Conn) (Session, error)
}

// Server upgrades HTTP requests and runs one session per connection
type Server struct {
	upgrader    websocket.Upgrader
	acceptor    Acceptor
	bus         eventbus.Bus
	logger      *logging.Logger
	connOptions ConnOptions

	mu       sync.Mutex
	conns    map[string]*Conn
	draining bool
	active   sync.WaitGroup
}

// NewServer creates a new WebSocket server
func NewServer(acceptor Acceptor, bus eventbus.Bus, opts ...ServerOption) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     AllowOrigins(nil),
		},
		acceptor:    acceptor,
		bus:         bus,
		logger:      logging.Nop(),
		connOptions: DefaultConnOptions(),
		conns:       make(map[string]*Conn),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.upgrader.ReadBufferSize = s.connOptions.ReadBufferSize
	s.upgrader.WriteBufferSize = s.connOptions.WriteBufferSize
	s.logger = s.logger.Component("websocket")
	return s
}

// ServeHTTP implements http.Handler. It returns once the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isDraining() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connID := xid.New().String()
	conn := NewConn(connID, ws, s.logger, s.connOptions)
	if !s.track(conn) {
		ws.Close()
		return
	}
	defer s.untrack(connID)

	session, err := s.acceptor.Accept(r, conn)
	if err != nil {
		s.logger.Error("failed to accept connection",
			"error", err,
			"conn_id", connID,
		)
		ws.Close()
		return
	}

	metrics.GatewayConnections.Inc()
	s.publish(eventbus.EventClientConnected, map[string]string{
		"conn_id":     connID,
		"remote_addr": r.RemoteAddr,
	})
	s.logger.Info("client connected",
		"conn_id", connID,
		"remote_addr", r.RemoteAddr,
	)

	conn.Start(session.HandleMessage)

	<-conn.Context().Done()
	session.Close()
	conn.Wait()

	metrics.GatewayConnections.Dec()
	s.publish(eventbus.EventClientDisconnected, map[string]string{
		"conn_id": connID,
	})
	s.logger.Info("client disconnected", "conn_id", connID)
}

// Shutdown stops accepting connections, closes the live ones and waits for
// their sessions to finish or ctx to end. http.Server.Shutdown does not see
// upgraded connections, so callers run this alongside it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if len(conns) > 0 {
		s.logger.Info("closing client connections", "count", len(conns))
	}
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount reports the connections currently being served
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Server) track(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[conn.ID()] = conn
	s.active.Add(1)
	return true
}

func (s *Server) untrack(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
	s.active.Done()
}

func (s *Server) publish(eventType eventbus.EventType, data map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(eventbus.NewEvent(eventType, "websocket-server", data))
}
