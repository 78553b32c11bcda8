// Package hub orchestrates the line registry, the message log and the line
// state machine, and publishes every durable change on the event bus.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/keylock"
	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/internal/metrics"
	"github.com/HMasataka/linehub/pkg/domain"
	perrors "github.com/HMasataka/linehub/pkg/errors"
	"github.com/HMasataka/linehub/pkg/messagelog"
	"github.com/HMasataka/linehub/pkg/registry"
)

const eventSource = "hub"

// Seed is a line ensured when the hub starts
type Seed struct {
	ID          string
	DisplayName string
}

// Option configures a Hub
type Option func(*Hub)

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithAutoProvision lets appends to unknown lines create them
func WithAutoProvision(enabled bool) Option {
	return func(h *Hub) {
		h.autoProvision = enabled
	}
}

// WithPairingTimeout moves lines stuck in waiting_qr to error after d.
// Zero disables the timer.
func WithPairingTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.pairingTimeout = d
	}
}

// WithSeeds sets the lines ensured on Start
func WithSeeds(seeds []Seed) Option {
	return func(h *Hub) {
		h.seeds = seeds
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// WithChallengeGenerator overrides how pairing challenges are produced
func WithChallengeGenerator(fn func() (string, error)) Option {
	return func(h *Hub) {
		h.newChallenge = fn
	}
}

// CallOption modifies a single hub operation
type CallOption func(*callOptions)

type callOptions struct {
	silent bool
}

// Silent suppresses event publication for the call. Storage is still
// mutated.
func Silent() CallOption {
	return func(o *callOptions) {
		o.silent = true
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Hub is the messaging hub. All mutation of lines and messages goes through
// it; operations on the same line are serialized.
type Hub struct {
	registry *registry.Registry
	log      *messagelog.Log
	bus      eventbus.Bus
	logger   *logging.Logger
	errs     *perrors.DefaultHandler
	locks    *keylock.Locker

	autoProvision  bool
	pairingTimeout time.Duration
	seeds          []Seed
	now            func() time.Time
	newChallenge   func() (string, error)

	pairingMu sync.Mutex
	pairings  map[string]*pairing

	started          atomic.Bool
	stopped          atomic.Bool
	messagesAppended atomic.Int64
	eventsPublished  atomic.Int64
	startTime        time.Time
}

// New creates a hub
func New(reg *registry.Registry, log *messagelog.Log, bus eventbus.Bus, opts ...Option) *Hub {
	h := &Hub{
		registry:     reg,
		log:          log,
		bus:          bus,
		logger:       logging.Nop(),
		locks:        keylock.New(),
		now:          time.Now,
		newChallenge: randomChallenge,
		pairings:     make(map[string]*pairing),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Component("hub")
	h.errs = perrors.NewDefaultHandler(h.logger.Logger)
	return h
}

func randomChallenge() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Start ensures the seed lines and resets lines left in waiting_qr by a
// previous process, without publishing events.
func (h *Hub) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}
	h.startTime = h.now()

	for _, seed := range h.seeds {
		if err := h.ensureSeed(ctx, seed); err != nil {
			if perrors.HasCode(err, perrors.CodeMaxLinesReached) {
				h.logger.Warn("skipping default line, registry is full", "line_id", seed.ID)
				continue
			}
			return err
		}
	}

	lines, err := h.registry.List(ctx)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if line.Status != domain.StatusWaitingQR {
			continue
		}
		if _, err := h.registry.UpdateStatus(ctx, line.ID, domain.StatusDisconnected, nil); err != nil {
			return err
		}
		h.logger.Info("reset stale pairing", "line_id", line.ID)
	}

	h.logger.Info("hub started", "lines", len(lines), "max_lines", h.registry.MaxLines())
	return nil
}

func (h *Hub) ensureSeed(ctx context.Context, seed Seed) error {
	line, created, err := h.registry.Ensure(ctx, seed.ID)
	if err != nil {
		return err
	}
	if created {
		metrics.LinesCreated.Inc()
		if seed.DisplayName != "" && seed.DisplayName != line.DisplayName {
			_, err = h.registry.Rename(ctx, line.ID, seed.DisplayName)
		}
	}
	return err
}

// Stop cancels pending pairing timers. Later calls fail with
// domain.ErrHubStopped.
func (h *Hub) Stop() error {
	if !h.stopped.CompareAndSwap(false, true) {
		return nil
	}
	h.pairingMu.Lock()
	for id, p := range h.pairings {
		p.stop()
		delete(h.pairings, id)
	}
	h.pairingMu.Unlock()

	h.logger.Info("hub stopped")
	return nil
}

// Stats returns hub statistics
func (h *Hub) Stats(ctx context.Context) domain.HubStats {
	stats := domain.HubStats{
		MessagesAppended: h.messagesAppended.Load(),
		EventsPublished:  h.eventsPublished.Load(),
	}
	if !h.startTime.IsZero() {
		stats.Uptime = h.now().Sub(h.startTime).Seconds()
	}

	h.pairingMu.Lock()
	stats.PendingPairings = len(h.pairings)
	h.pairingMu.Unlock()

	if lines, err := h.registry.List(ctx); err == nil {
		stats.Lines = len(lines)
		for _, line := range lines {
			if line.Status == domain.StatusConnected {
				stats.ConnectedLines++
			}
		}
	}
	return stats
}

// MaxLines returns the registry capacity
func (h *Hub) MaxLines() int {
	return h.registry.MaxLines()
}

// HistoryLimit clamps a caller-supplied history limit
func (h *Hub) HistoryLimit(limit int) int {
	return h.log.Clamp(limit)
}

// lockLine normalizes lineID and serializes the caller against other
// operations on the same line
func (h *Hub) lockLine(lineID string) (string, func(), error) {
	if h.stopped.Load() {
		return "", nil, domain.ErrHubStopped
	}
	id := domain.NormalizeLineID(lineID)
	if id == "" {
		return "", nil, domain.ErrMissingLine
	}
	return id, h.locks.Lock(id), nil
}

func (h *Hub) publish(eventType eventbus.EventType, data any) {
	h.bus.Publish(eventbus.NewEvent(eventType, eventSource, data))
	h.eventsPublished.Add(1)
}

func (h *Hub) publishLine(ctx context.Context, line domain.Line) {
	summary := h.summarize(ctx, line)
	h.publish(eventbus.EventLineUpdated, LineUpdated{LineID: line.ID, Line: summary})
}

func (h *Hub) summarize(ctx context.Context, line domain.Line) domain.LineSummary {
	last, err := h.log.Last(ctx, line.ID)
	if err != nil {
		h.errs.Handle(ctx, err)
	}
	return domain.LineSummary{Line: line, LastMessage: last}
}

// fail records err and makes sure it carries a taxonomy code
func (h *Hub) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := perrors.As(err); !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = perrors.Wrap(err, perrors.ErrorTypeTimeout, perrors.CodeServerError, op+" interrupted")
		} else {
			err = perrors.Wrap(err, perrors.ErrorTypeInternal, perrors.CodeServerError, op+" failed")
		}
	}

	code := perrors.CodeOf(err)
	metrics.HubFailures.WithLabelValues(op, code).Inc()
	if e, _ := perrors.As(err); e.Type == perrors.ErrorTypeStorage || e.Type == perrors.ErrorTypeInternal || e.Type == perrors.ErrorTypeTimeout {
		h.errs.Handle(ctx, err)
	} else {
		h.logger.Debug("hub operation rejected", "operation", op, "error_code", code, "error", err)
	}
	return err
}
