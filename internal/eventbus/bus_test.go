package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishReachesTypedAndGlobalSubscribers(t *testing.T) {
	bus := NewInMemoryBus(8, nil)

	var typed, all, other atomic.Int32
	bus.Subscribe(EventMessageAppended, func(*Event) { typed.Add(1) })
	bus.Subscribe(EventLineUpdated, func(*Event) { other.Add(1) })
	bus.SubscribeAll(func(*Event) { all.Add(1) })

	bus.Publish(NewEvent(EventMessageAppended, "test", nil))

	if typed.Load() != 1 || all.Load() != 1 || other.Load() != 0 {
		t.Fatalf("typed=%d all=%d other=%d", typed.Load(), all.Load(), other.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus(8, nil)

	var calls atomic.Int32
	a := bus.Subscribe(EventLineUpdated, func(*Event) { calls.Add(1) })
	b := bus.SubscribeAll(func(*Event) { calls.Add(1) })
	if bus.SubscriberCount() != 2 {
		t.Fatalf("count = %d", bus.SubscriberCount())
	}

	bus.Unsubscribe(a)
	bus.Unsubscribe(b)
	bus.Publish(NewEvent(EventLineUpdated, "test", nil))

	if calls.Load() != 0 {
		t.Fatalf("unsubscribed handlers ran %d times", calls.Load())
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("count = %d", bus.SubscriberCount())
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewInMemoryBus(8, nil)

	var reached atomic.Bool
	bus.SubscribeAll(func(*Event) { panic("boom") })
	bus.SubscribeAll(func(*Event) { reached.Store(true) })

	bus.Publish(NewEvent(EventError, "test", nil))

	if !reached.Load() {
		t.Fatal("second handler should still run")
	}
}

func TestHandlerMayUnsubscribeDuringPublish(t *testing.T) {
	bus := NewInMemoryBus(8, nil)

	var id string
	id = bus.SubscribeAll(func(*Event) { bus.Unsubscribe(id) })
	bus.Publish(NewEvent(EventError, "test", nil))

	if bus.SubscriberCount() != 0 {
		t.Fatal("handler did not unsubscribe itself")
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewInMemoryBus(8, nil)
	bus.Start(context.Background())
	defer bus.Stop()

	got := make(chan *Event, 1)
	bus.Subscribe(EventClientConnected, func(e *Event) { got <- e })
	bus.PublishAsync(NewEvent(EventClientConnected, "test", "conn-1"))

	select {
	case e := <-got:
		if e.Data != "conn-1" || e.ID == "" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}
