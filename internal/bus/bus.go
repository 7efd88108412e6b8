package bus

import (
	"context"
	"sync"

	"authgrid.org/internal/events"
	"authgrid.org/internal/obs"
)

// Bus fan-outs event envelopes to all active subscribers. It is the default
// publish target and ingestion source when no external broker is configured.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan events.Envelope
	next int
}

var _ events.Publisher = (*Bus)(nil)

// New initialises an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan events.Envelope)}
}

// Publish fan-outs the envelope to all subscribers. A slow subscriber's
// envelope is dropped rather than blocking the publisher.
func (b *Bus) Publish(ctx context.Context, ev events.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			obs.LogEvent("bus_subscriber_dropped", map[string]any{
				"subscriber": id,
				"event_id":   ev.EventID,
			})
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned subscription implements the
// ingestion queue contract; cancel deregisters it and closes its channel.
func (b *Bus) Subscribe(buffer int) (*Subscription, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan events.Envelope, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return &Subscription{ch: ch}, cancel
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	ch chan events.Envelope
}

var _ events.Queue = (*Subscription)(nil)

// Receive blocks until an envelope arrives or ctx is cancelled. The bus has
// no redelivery, so the ack is a no-op.
func (s *Subscription) Receive(ctx context.Context) (events.Envelope, func(), error) {
	select {
	case <-ctx.Done():
		return events.Envelope{}, nil, ctx.Err()
	case ev, ok := <-s.ch:
		if !ok {
			return events.Envelope{}, nil, context.Canceled
		}
		return ev, func() {}, nil
	}
}

// Chan exposes the raw channel for select-based consumers.
func (s *Subscription) Chan() <-chan events.Envelope {
	return s.ch
}
