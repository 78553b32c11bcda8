package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/internal/metrics"
	"github.com/HMasataka/linehub/pkg/auth"
	"github.com/HMasataka/linehub/pkg/domain"
	perrors "github.com/HMasataka/linehub/pkg/errors"
	"github.com/HMasataka/linehub/pkg/transport/protocol"
	"github.com/HMasataka/linehub/pkg/transport/websocket"
)

// State is the authentication state of a connection. It is replaced as a
// whole, never mutated.
type State struct {
	Authenticated bool
	SubjectID     string
	SubjectType   string
	ExpiresAt     time.Time
}

func (st *State) identity() auth.Identity {
	return auth.Identity{SubjectID: st.SubjectID, SubjectType: st.SubjectType, ExpiresAt: st.ExpiresAt}
}

var pushTypes = map[eventbus.EventType]string{
	eventbus.EventLineUpdated:       protocol.PushLineUpdated,
	eventbus.EventLineStatusChanged: protocol.PushLineStatus,
	eventbus.EventMessageAppended:   protocol.PushNewMessage,
	eventbus.EventPairingChallenge:  protocol.PushPairing,
	eventbus.EventLineRemoved:       protocol.PushLineRemoved,
	eventbus.EventError:             protocol.PushError,
}

// Session is the protocol state of one connection
type Session struct {
	gw      *Gateway
	conn    *websocket.Conn
	logger  *logging.Logger
	limiter *rate.Limiter

	state      atomic.Pointer[State]
	subscribed atomic.Bool

	mu     sync.Mutex
	subIDs []string
	closed bool
}

func newSession(g *Gateway, conn *websocket.Conn) *Session {
	s := &Session{
		gw:      g,
		conn:    conn,
		logger:  g.logger.WithFields(map[string]any{"conn_id": conn.ID()}),
		limiter: g.newLimiter(),
	}
	s.state.Store(&State{})
	return s
}

type sessionKey struct{}

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// State returns the current authentication state
func (s *Session) State() State {
	return *s.state.Load()
}

func (s *Session) setIdentity(id auth.Identity) {
	s.state.Store(&State{
		Authenticated: true,
		SubjectID:     id.SubjectID,
		SubjectType:   id.SubjectType,
		ExpiresAt:     id.ExpiresAt,
	})
}

func (s *Session) authenticated(st State) bool {
	if !st.Authenticated {
		return false
	}
	return st.ExpiresAt.IsZero() || s.gw.now().Before(st.ExpiresAt)
}

func (s *Session) readable(st State) bool {
	return s.gw.options.AllowAnonymousRead || s.authenticated(st)
}

func (s *Session) operator(st State) bool {
	return s.authenticated(st) && s.gw.policy.Authorize(st.identity()) == nil
}

// bind registers the session's bus listeners
func (s *Session) bind() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for eventType := range pushTypes {
		s.subIDs = append(s.subIDs, s.gw.bus.Subscribe(eventType, s.onEvent))
	}
}

// subscribe enables broadcasts and pushes the current listing
func (s *Session) subscribe(ctx context.Context) ([]domain.LineSummary, error) {
	lines, err := s.gw.hub.GetLines(ctx)
	if err != nil {
		return nil, err
	}
	s.subscribed.Store(true)
	s.push(protocol.PushLines, map[string]any{"lines": lines})

	if s.operator(s.State()) {
		for _, line := range lines {
			if line.Status != domain.StatusWaitingQR {
				continue
			}
			if pc, ok := s.gw.hub.PendingChallenge(line.ID); ok {
				s.push(protocol.PushPairing, pc)
			}
		}
	}
	return lines, nil
}

func (s *Session) onEvent(e *eventbus.Event) {
	if !s.subscribed.Load() {
		return
	}
	st := s.State()
	if !s.readable(st) {
		return
	}
	pushType, ok := pushTypes[e.Type]
	if !ok {
		return
	}
	if e.Type == eventbus.EventPairingChallenge && !s.operator(st) {
		return
	}
	s.push(pushType, e.Data)
}

// HandleMessage implements websocket.Session
func (s *Session) HandleMessage(message []byte) {
	frame, err := protocol.Unmarshal(message)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("malformed", perrors.CodeOf(err)).Inc()
		s.pushError("", err)
		return
	}

	result, err := s.serve(frame)
	s.respond(frame, result, err)
}

func (s *Session) serve(frame *protocol.Frame) (protocol.Result, error) {
	route, ok := s.gw.routes.Get(frame.Type)
	if !ok {
		return nil, domain.ErrInvalidRequest
	}

	if !route.Public {
		st := s.State()
		switch {
		case route.Mutating && !s.authenticated(st):
			return nil, domain.ErrUnauthorized
		case route.Mutating:
			if err := s.gw.policy.Authorize(st.identity()); err != nil {
				return nil, err
			}
			if !s.limiter.Allow() {
				return nil, domain.ErrRateLimited
			}
		case !s.readable(st):
			return nil, domain.ErrUnauthorized
		}
	}

	ctx := logging.WithConnID(s.conn.Context(), s.conn.ID())
	ctx = withSession(ctx, s)
	return route.Handler.Handle(ctx, frame)
}

// respond reports the outcome of a request exactly once: as an ack when the
// client asked for one, otherwise as an error push on failure.
func (s *Session) respond(frame *protocol.Frame, result protocol.Result, err error) {
	label := "ok"
	if err != nil {
		label = perrors.CodeOf(err)
		s.logger.Debug("request failed", "type", frame.Type, "error_code", label, "error", err)
	}
	metrics.GatewayRequests.WithLabelValues(frame.Type, label).Inc()

	if !frame.WantsAck() {
		if err != nil {
			s.pushError(lineIDOf(result), err)
		}
		return
	}

	ack := protocol.Ack{OK: err == nil, Result: result}
	if err != nil {
		ack.Error = perrors.PublicMessage(err)
		ack.Code = perrors.CodeOf(err)
	}
	f, encErr := protocol.NewAck(frame.ID, ack)
	if encErr != nil {
		s.logger.Error("encode ack failed", "type", frame.Type, "error", encErr)
		f, _ = protocol.NewAck(frame.ID, protocol.Ack{Error: perrors.PublicMessage(encErr), Code: perrors.CodeServerError})
	}
	s.send(f)
}

func lineIDOf(result protocol.Result) string {
	id, _ := result["lineId"].(string)
	return id
}

func (s *Session) push(pushType string, payload any) {
	f, err := protocol.NewFrame(pushType, payload)
	if err != nil {
		s.logger.Error("encode push failed", "type", pushType, "error", err)
		return
	}
	s.send(f)
}

func (s *Session) pushError(lineID string, err error) {
	s.push(protocol.PushError, protocol.ErrorPush{
		LineID:  lineID,
		Message: perrors.PublicMessage(err),
		Code:    perrors.CodeOf(err),
	})
}

func (s *Session) send(f *protocol.Frame) {
	data, err := f.Marshal()
	if err != nil {
		s.logger.Error("marshal frame failed", "type", f.Type, "error", err)
		return
	}
	if err := s.conn.Send(data); err != nil {
		metrics.GatewayDroppedPushes.Inc()
		s.logger.Debug("frame dropped", "type", f.Type, "error", err)
	}
}

// Close implements websocket.Session. Bus listeners are removed and the
// authentication state is released.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.subscribed.Store(false)
	for _, id := range s.subIDs {
		s.gw.bus.Unsubscribe(id)
	}
	s.subIDs = nil
	s.state.Store(&State{})
}
