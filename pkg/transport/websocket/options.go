package websocket

import (
	"net/http"
	"time"

	"github.com/HMasataka/linehub/internal/logging"
)

// ConnOptions represents websocket connection options
type ConnOptions struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConnOptions returns default connection options
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512 * 1024, // 512KB
		SendBuffer:      256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = checkOrigin
	}
}

// WithConnOptions sets the options applied to every accepted connection
func WithConnOptions(opts ConnOptions) ServerOption {
	return func(s *Server) {
		s.connOptions = opts
	}
}

// AllowOrigins returns a CheckOrigin function admitting the listed origins.
// An empty list or "*" admits every origin.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
