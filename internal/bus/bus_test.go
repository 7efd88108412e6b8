package bus

import (
	"context"
	"testing"
	"time"

	"authgrid.org/internal/events"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	subA, cancelA := b.Subscribe(4)
	defer cancelA()
	subB, cancelB := b.Subscribe(4)
	defer cancelB()

	if err := b.Publish(context.Background(), events.Envelope{EventID: "e-1", EventType: "entity.archived"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []*Subscription{subA, subB} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, ack, err := sub.Receive(ctx)
		cancel()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if ev.EventID != "e-1" {
			t.Fatalf("received %+v", ev)
		}
		ack()
	}
}

func TestReceiveHonorsContextCancellation(t *testing.T) {
	b := New()
	sub, cancel := b.Subscribe(1)
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	if _, _, err := sub.Receive(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestCancelledSubscriberStopsReceiving(t *testing.T) {
	b := New()
	sub, cancel := b.Subscribe(1)
	cancel()

	if err := b.Publish(context.Background(), events.Envelope{EventID: "e-2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	if _, _, err := sub.Receive(ctx); err == nil {
		t.Fatal("expected closed subscription error")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(context.Background(), events.Envelope{EventID: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
