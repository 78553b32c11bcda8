package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/HMasataka/linehub/internal/logging"
)

// Handler represents an event handler function
type Handler func(event *Event)

// Bus represents an event bus
type Bus interface {
	// Publish delivers an event to all subscribers before returning
	Publish(event *Event)

	// PublishAsync queues an event for delivery by the bus goroutine
	PublishAsync(event *Event)

	// Subscribe subscribes to events of a specific type
	Subscribe(eventType EventType, handler Handler) string

	// SubscribeAll subscribes to all events
	SubscribeAll(handler Handler) string

	// Unsubscribe removes a subscription
	Unsubscribe(id string)

	// Start starts the event bus
	Start(ctx context.Context)

	// Stop stops the event bus
	Stop()
}

type subscription struct {
	id        string
	eventType EventType
	handler   Handler
}

// InMemoryBus is an in-memory implementation of the event bus. A panicking
// handler is logged and does not affect other subscribers.
type InMemoryBus struct {
	subscribers map[EventType][]*subscription
	allHandlers []*subscription
	mu          sync.RWMutex
	eventChan   chan *Event
	logger      *logging.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	dropped     atomic.Int64
	published   atomic.Int64
}

// NewInMemoryBus creates a new in-memory event bus
func NewInMemoryBus(bufferSize int, logger *logging.Logger) *InMemoryBus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &InMemoryBus{
		subscribers: make(map[EventType][]*subscription),
		allHandlers: make([]*subscription, 0),
		eventChan:   make(chan *Event, bufferSize),
		logger:      logger.Component("eventbus"),
	}
}

// Publish publishes an event synchronously
func (b *InMemoryBus) Publish(event *Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers[event.Type])+len(b.allHandlers))
	subs = append(subs, b.subscribers[event.Type]...)
	subs = append(subs, b.allHandlers...)
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range subs {
		b.dispatch(sub, event)
	}
}

func (b *InMemoryBus) dispatch(sub *subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscription_id", sub.id,
				"event_type", event.Type,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	sub.handler(event)
}

// PublishAsync publishes an event asynchronously
func (b *InMemoryBus) PublishAsync(event *Event) {
	select {
	case b.eventChan <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", "event_type", event.Type)
	}
}

// Subscribe subscribes to events of a specific type
func (b *InMemoryBus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:        generateID(),
		eventType: eventType,
		handler:   handler,
	}

	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	return sub.id
}

// SubscribeAll subscribes to all events
func (b *InMemoryBus) SubscribeAll(handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      generateID(),
		handler: handler,
	}

	b.allHandlers = append(b.allHandlers, sub)
	return sub.id
}

// Unsubscribe removes a subscription
func (b *InMemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				if len(b.subscribers[eventType]) == 0 {
					delete(b.subscribers, eventType)
				}
				return
			}
		}
	}

	for i, sub := range b.allHandlers {
		if sub.id == id {
			b.allHandlers = append(b.allHandlers[:i:i], b.allHandlers[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *InMemoryBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.allHandlers)
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Published returns the number of events delivered through Publish
func (b *InMemoryBus) Published() int64 {
	return b.published.Load()
}

// Start starts the event bus
func (b *InMemoryBus) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.processEvents()
}

// Stop stops the event bus. Queued events that were not delivered yet are
// discarded.
func (b *InMemoryBus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *InMemoryBus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			if event != nil {
				b.Publish(event)
			}
		}
	}
}
