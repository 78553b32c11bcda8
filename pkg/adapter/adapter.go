// Package adapter connects transport adapters to the hub. Adapters perform
// the actual network delivery for a line; the hub only records and
// announces what should happen.
package adapter

import (
	"context"
	"sync"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/internal/metrics"
	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/hub"
)

// Adapter performs network delivery for lines
type Adapter interface {
	// Name identifies the adapter in logs and metrics
	Name() string

	// Deliver sends an outgoing message that is already stored
	Deliver(ctx context.Context, lineID string, msg domain.Message) error

	// Pair begins pairing a line against the issued challenge
	Pair(ctx context.Context, challenge hub.PairingChallenge) error

	// Forget releases any transport state kept for a line
	Forget(ctx context.Context, lineID string) error
}

// Reporter is the part of the hub adapters call back into
type Reporter interface {
	RegisterIncoming(ctx context.Context, lineID, body, from, to string, metadata map[string]any) (domain.Message, error)
	ConfirmPairing(ctx context.Context, lineID, challenge string) (domain.Line, error)
	FailPairing(ctx context.Context, lineID, reason string) (domain.Line, error)
	ReportDisconnected(ctx context.Context, lineID, reason string) (domain.Line, error)
}

type job func(ctx context.Context)

const noticeSource = "adapter"

// Notices broadcast when the adapter fails on behalf of a line
const (
	noticeDeliveryFailed = "No pudimos entregar el mensaje."
	noticePairingFailed  = "No pudimos iniciar la vinculación de la línea."
)

// Binder feeds hub events to an adapter. Events are queued and handled on
// the Run goroutine so adapters may call back into the hub.
type Binder struct {
	adapter Adapter
	bus     eventbus.Bus
	logger  *logging.Logger
	jobs    chan job

	mu      sync.Mutex
	subIDs  []string
	dropped int
}

// NewBinder creates a binder with a queue of queueSize pending events
func NewBinder(a Adapter, bus eventbus.Bus, queueSize int, logger *logging.Logger) *Binder {
	if logger == nil {
		logger = logging.Nop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Binder{
		adapter: a,
		bus:     bus,
		logger:  logger.Component("adapter").WithFields(map[string]any{"adapter": a.Name()}),
		jobs:    make(chan job, queueSize),
	}
}

// Run subscribes to hub events and processes them until ctx is done
func (b *Binder) Run(ctx context.Context) error {
	b.Bind()
	defer b.unsubscribe()

	b.logger.Info("adapter bound")
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-b.jobs:
			j(ctx)
		}
	}
}

// Bind subscribes to hub events without processing them. Run calls it;
// calling it first guarantees no event published afterwards is missed.
func (b *Binder) Bind() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subIDs) > 0 {
		return
	}
	b.subIDs = append(b.subIDs,
		b.bus.Subscribe(eventbus.EventDeliveryRequested, b.onDelivery),
		b.bus.Subscribe(eventbus.EventPairingChallenge, b.onPairing),
		b.bus.Subscribe(eventbus.EventLineRemoved, b.onRemoved),
	)
}

func (b *Binder) unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.subIDs {
		b.bus.Unsubscribe(id)
	}
	b.subIDs = nil
}

func (b *Binder) enqueue(j job) {
	select {
	case b.jobs <- j:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("adapter queue full, dropping event")
	}
}

func (b *Binder) onDelivery(e *eventbus.Event) {
	req, ok := e.Data.(hub.DeliveryRequest)
	if !ok {
		return
	}
	b.enqueue(func(ctx context.Context) {
		err := b.adapter.Deliver(ctx, req.LineID, req.Message)
		result := "ok"
		if err != nil {
			result = "error"
			b.logger.Error("delivery failed", "line_id", req.LineID, "message_id", req.Message.ID, "error", err)
			b.notify(req.LineID, noticeDeliveryFailed)
		}
		metrics.Deliveries.WithLabelValues(b.adapter.Name(), result).Inc()
	})
}

func (b *Binder) onPairing(e *eventbus.Event) {
	pc, ok := e.Data.(hub.PairingChallenge)
	if !ok {
		return
	}
	b.enqueue(func(ctx context.Context) {
		if err := b.adapter.Pair(ctx, pc); err != nil {
			b.logger.Error("pairing failed to start", "line_id", pc.LineID, "error", err)
			b.notify(pc.LineID, noticePairingFailed)
		}
	})
}

func (b *Binder) onRemoved(e *eventbus.Event) {
	removed, ok := e.Data.(hub.LineRemoved)
	if !ok {
		return
	}
	b.enqueue(func(ctx context.Context) {
		if err := b.adapter.Forget(ctx, removed.LineID); err != nil {
			b.logger.Error("forget line failed", "line_id", removed.LineID, "error", err)
		}
	})
}

// notify broadcasts an adapter failure to hub subscribers. It runs on the
// Run goroutine, outside any hub lock.
func (b *Binder) notify(lineID, message string) {
	b.bus.Publish(eventbus.NewEvent(eventbus.EventError, noticeSource, hub.Notice{
		LineID:  lineID,
		Message: message,
	}))
}

// Dropped returns how many events were discarded because the queue was full
func (b *Binder) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
