package events

import (
	"context"
	"testing"
	"time"
)

// fakeQueue feeds a fixed set of envelopes, then blocks until cancellation.
type fakeQueue struct {
	pending []Envelope
	acked   int
}

func (q *fakeQueue) Receive(ctx context.Context) (Envelope, func(), error) {
	if len(q.pending) == 0 {
		<-ctx.Done()
		return Envelope{}, nil, ctx.Err()
	}
	env := q.pending[0]
	q.pending = q.pending[1:]
	return env, func() { q.acked++ }, nil
}

func TestConsumerIngestsAndAcks(t *testing.T) {
	store := NewInMemory()
	d, err := NewDispatcher(store, &fakePublisher{})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	queue := &fakeQueue{pending: []Envelope{
		{EventID: "evt-1", EventType: "kyc.completed", Source: "kyc_service"},
		{EventID: "evt-1", EventType: "kyc.completed", Source: "kyc_service"},
		{EventType: "", Source: "kyc_service"},
	}}
	consumer, err := NewConsumer(d, queue)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ev, err := d.Get(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ev.DeliveryState != DeliverySucceeded {
		t.Fatalf("delivery state = %s", ev.DeliveryState)
	}
	rows, err := d.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("stored events = %d, want 1", len(rows))
	}
	// Both well-formed receipts ack; the invalid envelope is left unacked.
	if queue.acked != 2 {
		t.Fatalf("acked = %d, want 2", queue.acked)
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	d, err := NewDispatcher(NewInMemory(), &fakePublisher{})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	consumer, err := NewConsumer(d, &fakeQueue{})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
}
