// Package gateway serves operator clients over websocket connections. Each
// connection gets a Session that authenticates the caller, relays hub
// events and answers requests with exactly one acknowledgement.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/pkg/auth"
	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/hub"
	"github.com/HMasataka/linehub/pkg/transport/protocol"
	"github.com/HMasataka/linehub/pkg/transport/websocket"
)

// Hub is the part of the hub the gateway drives
type Hub interface {
	GetLines(ctx context.Context) ([]domain.LineSummary, error)
	GetMessages(ctx context.Context, lineID string, limit int) ([]domain.Message, error)
	SendOutbound(ctx context.Context, lineID, to, body string, metadata map[string]any) (domain.Message, error)
	RegisterIncoming(ctx context.Context, lineID, body, from, to string, metadata map[string]any) (domain.Message, error)
	SetLineStatus(ctx context.Context, lineID, status string, meta hub.StatusMetadata, opts ...hub.CallOption) (domain.Line, error)
	CreateLine(ctx context.Context, sessionKey, displayName string, opts ...hub.CallOption) (domain.LineSummary, bool, error)
	StartSession(ctx context.Context, lineID string) (hub.PairingChallenge, error)
	PendingChallenge(lineID string) (hub.PairingChallenge, bool)
}

// Options configures a Gateway
type Options struct {
	// AllowAnonymousRead lets unauthenticated connections receive listings
	// and broadcasts
	AllowAnonymousRead bool
	// OperatorTypes are the subject types allowed to mutate hub state
	OperatorTypes []string
	// RequestRate and RequestBurst throttle mutating requests per
	// connection. A non-positive rate disables throttling.
	RequestRate  float64
	RequestBurst int
}

// Gateway creates sessions for websocket connections
type Gateway struct {
	hub     Hub
	bus     eventbus.Bus
	authn   auth.Authenticator
	policy  auth.Policy
	options Options
	routes  *protocol.HandlerRegistry
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a gateway
func New(h Hub, bus eventbus.Bus, authn auth.Authenticator, opts Options, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Nop()
	}
	if authn == nil {
		authn = auth.Chain{}
	}
	g := &Gateway{
		hub:     h,
		bus:     bus,
		authn:   authn,
		policy:  auth.NewPolicy(opts.OperatorTypes),
		options: opts,
		logger:  logger.Component("gateway"),
		now:     time.Now,
	}
	g.routes = g.buildRoutes()
	return g
}

// Handler returns the websocket endpoint serving this gateway. Shut it down
// before the hub stops so live sessions end first.
func (g *Gateway) Handler(opts ...websocket.ServerOption) *websocket.Server {
	opts = append([]websocket.ServerOption{websocket.WithLogger(g.logger)}, opts...)
	return websocket.NewServer(g, g.bus, opts...)
}

// Accept implements websocket.Acceptor
func (g *Gateway) Accept(r *http.Request, conn *websocket.Conn) (websocket.Session, error) {
	s := newSession(g, conn)

	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	rejected := false
	if token != "" {
		if id, err := g.authn.Authenticate(r.Context(), token); err == nil {
			s.setIdentity(id)
		} else {
			rejected = true
			s.logger.Info("upgrade credential rejected", "error", err)
		}
	}

	s.bind()
	if rejected {
		s.pushError("", domain.ErrUnauthorized)
	}
	if s.readable(s.State()) {
		if _, err := s.subscribe(conn.Context()); err != nil {
			s.logger.Warn("initial listing failed", "error", err)
		}
	}
	return s, nil
}

func (g *Gateway) newLimiter() *rate.Limiter {
	if g.options.RequestRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := g.options.RequestBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(g.options.RequestRate), burst)
}

func (g *Gateway) buildRoutes() *protocol.HandlerRegistry {
	r := protocol.NewHandlerRegistry()

	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleAuthenticate), Public: true}, protocol.RequestAuthenticate)
	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleSubscribe)}, protocol.RequestSubscribe)
	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleLines)}, protocol.RequestLines)
	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleHistory)}, protocol.RequestHistory)

	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleSend), Mutating: true}, protocol.RequestSend, protocol.RequestSendAlias)
	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleRegisterIncoming), Mutating: true}, protocol.RequestRegisterIncoming)
	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleUpdateStatus), Mutating: true}, protocol.RequestUpdateStatus)
	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleUpsertLine), Mutating: true}, protocol.RequestUpsertLine)
	r.Register(protocol.Route{Handler: protocol.HandlerFunc(g.handleStartSession), Mutating: true}, protocol.RequestStartSession)

	return r
}
