// Package stream provides the in-process event bus and the fill sources that feed it.
package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// BusConfig holds configuration for the Bus.
type BusConfig struct {
	// HistorySize is the per-topic ring buffer capacity used by Recent.
	HistorySize int
}

// DefaultBusConfig returns the default bus configuration.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		HistorySize: 1000,
	}
}

// Handler receives events published on a topic.
type Handler func(Event)

// Envelope is a published event together with its bus metadata.
type Envelope struct {
	Seq         uint64
	Topic       Topic
	Event       Event
	PublishedAt time.Time
}

// Bus is a topic-based publish/subscribe primitive.
//
// Delivery is synchronous: Publish calls every subscriber of the topic, in
// subscription order, before returning. Events from one publisher on one topic
// are therefore observed in publish order; ordering across topics or across
// concurrent publishers is unspecified. Handlers run outside the bus lock and
// may publish or subscribe themselves.
type Bus struct {
	config BusConfig
	log    zerolog.Logger

	mu          sync.Mutex
	subscribers map[Topic][]*subscriber
	history     map[Topic]*ring
	nextID      uint64
	seq         uint64

	// Metrics
	published atomic.Uint64
	delivered atomic.Uint64
	panicked  atomic.Uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// NewBus creates a new bus with default configuration.
func NewBus(logger zerolog.Logger) *Bus {
	return NewBusWithConfig(DefaultBusConfig(), logger)
}

// NewBusWithConfig creates a new bus with custom configuration.
func NewBusWithConfig(config BusConfig, logger zerolog.Logger) *Bus {
	return &Bus{
		config:      config,
		log:         logger.With().Str("component", "bus").Logger(),
		subscribers: make(map[Topic][]*subscriber),
		history:     make(map[Topic]*ring),
	}
}

// Subscribe registers handler for topic and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscriber{id: b.nextID, handler: handler}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, sub.id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			// Copy so in-flight deliveries keep iterating their own slice.
			next := make([]*subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subscribers[topic] = next
			break
		}
	}
	if len(b.subscribers[topic]) == 0 {
		delete(b.subscribers, topic)
	}
}

// Publish delivers event to every current subscriber of topic.
// Publishing to a topic without subscribers is a no-op apart from history.
func (b *Bus) Publish(topic Topic, event Event) {
	b.mu.Lock()
	b.seq++
	env := Envelope{
		Seq:         b.seq,
		Topic:       topic,
		Event:       event,
		PublishedAt: time.Now(),
	}
	if b.config.HistorySize > 0 {
		r, ok := b.history[topic]
		if !ok {
			r = newRing(b.config.HistorySize)
			b.history[topic] = r
		}
		r.push(env)
	}
	subs := b.subscribers[topic]
	b.mu.Unlock()

	b.published.Add(1)
	for _, sub := range subs {
		b.deliver(sub, env)
	}
}

// deliver calls one handler, isolating the publisher and the remaining
// subscribers from a panicking handler.
func (b *Bus) deliver(sub *subscriber, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			b.log.Error().
				Str("topic", string(env.Topic)).
				Uint64("subscriber", sub.id).
				Uint64("seq", env.Seq).
				Str("panic", fmt.Sprint(r)).
				Msg("Subscriber handler panicked")
		}
	}()
	sub.handler(env.Event)
	b.delivered.Add(1)
}

// Recent returns up to limit of the most recent envelopes for topic, oldest first.
// A non-positive limit returns everything retained.
func (b *Bus) Recent(topic Topic, limit int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.history[topic]
	if !ok {
		return nil
	}
	return r.last(limit)
}

// SubscriberCount returns the number of subscribers for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[topic])
}

// BusMetrics contains bus delivery counters.
type BusMetrics struct {
	Published   uint64
	Delivered   uint64
	Panicked    uint64
	Subscribers int
	Topics      int
}

// Metrics returns bus metrics.
func (b *Bus) Metrics() BusMetrics {
	b.mu.Lock()
	subs := 0
	for _, s := range b.subscribers {
		subs += len(s)
	}
	topics := len(b.subscribers)
	b.mu.Unlock()

	return BusMetrics{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Panicked:    b.panicked.Load(),
		Subscribers: subs,
		Topics:      topics,
	}
}

// ring is a fixed-capacity FIFO of envelopes.
type ring struct {
	buf   []Envelope
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Envelope, capacity)}
}

func (r *ring) push(env Envelope) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = env
		r.n++
		return
	}
	r.buf[r.start] = env
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) last(limit int) []Envelope {
	if limit <= 0 || limit > r.n {
		limit = r.n
	}
	out := make([]Envelope, 0, limit)
	for i := r.n - limit; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
