package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is one message delivered on the bus.
type Event struct {
	Topic   Topic
	At      time.Time
	Payload interface{}
}

// Handler processes an Event. Handlers must be idempotent: the bus delivers
// at-least-once (spec §5 "Shared-resource policy").
type Handler func(context.Context, Event)

// Bus is an in-process named-topic publish/subscribe surface (spec §6).
// It intentionally has no distributed-delivery semantics: per spec §1/§9,
// coordination is a local substrate, not a network protocol.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]subscription
	nextID      uint64
	bridge      Bridge
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bridge forwards events to an external transport. Implemented by
// NATSBridge; kept as an interface so the bus itself never imports a
// concrete broker client.
type Bridge interface {
	Forward(ctx context.Context, ev Event)
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[Topic][]subscription)}
}

// WithBridge attaches an external forwarder; every published event is also
// handed to it after local subscribers run.
func (b *Bus) WithBridge(bridge Bridge) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bridge = bridge
	return b
}

// Subscribe registers a handler for topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[topic]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every current subscriber of topic synchronously on
// the calling goroutine. A handler panic is recovered and logged so one bad
// subscriber cannot take down the publisher.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload interface{}) {
	ev := Event{Topic: topic, At: time.Now(), Payload: payload}

	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	bridge := b.bridge
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(ctx, s.handler, ev)
	}
	if bridge != nil {
		bridge.Forward(ctx, ev)
	}
}

// PublishAsync is Publish run on its own goroutine, for callers that must
// not block on slow subscribers.
func (b *Bus) PublishAsync(ctx context.Context, topic Topic, payload interface{}) {
	go b.Publish(ctx, topic, payload)
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ctx, ev)
}

// WaitFor blocks until an event on one of topics satisfies match, or until
// ctx is done. This is the event-driven replacement for the source's
// setTimeout-poll loops (spec §9): callers wait on the bus with a bounded
// absolute deadline carried by ctx instead of busy-spinning.
func WaitFor(ctx context.Context, bus *Bus, topics []Topic, match func(Event) bool) (Event, error) {
	ch := make(chan Event, 8)
	var unsubs []func()
	for _, t := range topics {
		unsubs = append(unsubs, bus.Subscribe(t, func(_ context.Context, ev Event) {
			if match(ev) {
				select {
				case ch <- ev:
				default:
				}
			}
		}))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
