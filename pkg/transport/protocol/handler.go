package protocol

import (
	"context"
	"fmt"

	"github.com/HMasataka/linehub/pkg/domain"
)

// Result is the handler output merged into a successful ack
type Result map[string]any

// Handler handles one request type
type Handler interface {
	Handle(ctx context.Context, req *Frame) (Result, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, req *Frame) (Result, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, req *Frame) (Result, error) {
	return f(ctx, req)
}

// Route describes how a request type is served
type Route struct {
	Handler Handler
	// Mutating routes require an operator identity and count against the
	// connection's rate limit
	Mutating bool
	// Public routes are served before authentication
	Public bool
}

// HandlerRegistry maps request types to handlers
type HandlerRegistry struct {
	routes map[string]Route
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{routes: make(map[string]Route)}
}

// Register serves requestType with route. Aliases share the route.
func (r *HandlerRegistry) Register(route Route, requestType string, aliases ...string) {
	r.routes[requestType] = route
	for _, alias := range aliases {
		r.routes[alias] = route
	}
}

// Get returns the route for a request type
func (r *HandlerRegistry) Get(requestType string) (Route, bool) {
	route, ok := r.routes[requestType]
	return route, ok
}

// Handle routes req to its handler
func (r *HandlerRegistry) Handle(ctx context.Context, req *Frame) (Result, error) {
	route, ok := r.Get(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown request %q", domain.ErrInvalidRequest, req.Type)
	}
	return route.Handler.Handle(ctx, req)
}
