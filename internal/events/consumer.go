package events

import (
	"context"
	"errors"

	"authgrid.org/internal/obs"
)

// Queue is a blocking message source for ingestion. Receive blocks until a
// message arrives or ctx is cancelled. The returned ack removes the message;
// an unacked message is left to the queue's own retry/dead-letter policy.
type Queue interface {
	Receive(ctx context.Context) (Envelope, func(), error)
}

// Consumer pulls envelopes from a queue and runs each through the
// dispatcher's idempotent ingestion path to completion before acking.
type Consumer struct {
	d     *Dispatcher
	queue Queue
}

// NewConsumer constructs a consumer over the given queue.
func NewConsumer(d *Dispatcher, queue Queue) (*Consumer, error) {
	if d == nil || queue == nil {
		return nil, errors.New("events: dispatcher and queue are required")
	}
	return &Consumer{d: d, queue: queue}, nil
}

// Run is the long-poll loop. It returns when ctx is cancelled. A processing
// failure logs and skips the ack so the message can be redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		env, ack, err := c.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if _, err := c.d.Ingest(ctx, env); err != nil {
			obs.LogEvent("event_ingest_failed", map[string]any{
				"event_id":   env.EventID,
				"event_type": env.EventType,
				"error":      err.Error(),
			})
			continue
		}
		if ack != nil {
			ack()
		}
	}
}
