// Package bus is the in-process publish/subscribe router that connects the
// pipeline stages. Producers publish typed payloads on named topics; every
// stage and the display front ends subscribe to the topics they care about.
//
// Delivery is synchronous: handlers run on the publisher's goroutine in
// registration order. Handlers that need to do slow work must hand it off to
// their own goroutine. A panicking handler is recovered and logged; the
// remaining handlers still run.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is a single published notification.
type Event struct {
	// Topic is the name the event was published on.
	Topic string

	// Payload is the topic-specific value. See events.go for the payload type
	// of each topic.
	Payload any

	// Time is the wall-clock time of publication.
	Time time.Time
}

// Handler receives published events.
type Handler func(Event)

// Publisher is the publishing half of a [Bus]. Pipeline stages depend on this
// interface rather than the concrete bus.
type Publisher interface {
	Publish(topic string, payload any)
}

type subscription struct {
	id uint64
	h  Handler
}

// Bus routes events to subscribers. The zero value is not usable; create one
// with [New].
//
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscription
	all    []subscription
}

var _ Publisher = (*Bus)(nil)

// New returns an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscription)}
}

// Subscribe registers h for topic. The returned function removes the
// subscription; calling it more than once is harmless.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscribeAll registers h for every topic. Wildcard handlers run after the
// topic-specific handlers.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers payload to every handler of topic. Publishing a topic
// nobody listens to is a no-op.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.topics[topic])+len(b.all))
	subs = append(subs, b.topics[topic]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	ev := Event{Topic: topic, Payload: payload, Time: time.Now()}
	for _, s := range subs {
		deliver(s.h, ev)
	}
}

// deliver runs h, recovering from a panic so one faulty subscriber cannot
// take down the publisher.
func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: handler panicked", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ev)
}

func remove(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
