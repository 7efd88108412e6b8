package events

import (
	"context"

	"authgrid.org/internal/obs"
)

// Publisher delivers envelopes to a message-bus topic. The in-process bus is
// the default target; an external broker can replace it.
type Publisher interface {
	Publish(ctx context.Context, ev Envelope) error
}

// NullPublisher is used when event distribution is disabled. Deliveries
// succeed trivially so the outbox lifecycle stays observable.
type NullPublisher struct{}

func (NullPublisher) Publish(ctx context.Context, ev Envelope) error {
	obs.LogEvent("event_publish_skipped", map[string]any{
		"event_id":   ev.EventID,
		"event_type": ev.EventType,
	})
	return nil
}
