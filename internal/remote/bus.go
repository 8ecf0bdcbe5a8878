package remote

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const subscriberQueueSize = 256

// Bus fans change events out to subscriptions. Each subscription owns an
// ordered queue drained by its own goroutine, so events reach one handler in
// publish order while different subscriptions progress independently.
type Bus struct {
	mu     sync.RWMutex
	subs   map[SubscriptionID]*subscriber
	closed bool
	log    zerolog.Logger
}

type subscriber struct {
	topic   Topic
	handler Handler
	queue   chan ChangeEvent
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[SubscriptionID]*subscriber),
		log:  log,
	}
}

// Add registers handler for topic and starts its delivery goroutine.
func (b *Bus) Add(topic Topic, handler Handler) SubscriptionID {
	id := SubscriptionID(uuid.NewString())
	sub := &subscriber{
		topic:   topic,
		handler: handler,
		queue:   make(chan ChangeEvent, subscriberQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.stop()
		return id
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go b.deliver(id, sub)
	return id
}

// Remove stops delivery to a subscription. It reports whether the id was active.
func (b *Bus) Remove(id SubscriptionID) bool {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.stop()
	}
	return ok
}

// Publish enqueues ev for every matching subscription.
func (b *Bus) Publish(ev ChangeEvent) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.topic.Matches(ev) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- ev:
		case <-sub.done:
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[SubscriptionID]*subscriber)
	b.closed = true
	b.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

func (b *Bus) deliver(id SubscriptionID, sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			select {
			case <-sub.done:
				return
			default:
			}
			b.invoke(id, sub, ev)
		}
	}
}

func (b *Bus) invoke(id SubscriptionID, sub *subscriber, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("subscription", string(id)).
				Str("resource", string(ev.Resource)).
				Interface("panic", r).
				Msg("subscription handler panicked")
		}
	}()
	sub.handler(ev)
}
