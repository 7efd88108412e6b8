package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"authgrid.org/internal/obs"
)

// Store describes persistence for the platform-event outbox.
type Store interface {
	Insert(ctx context.Context, ev PlatformEvent) error
	Get(ctx context.Context, eventID string) (PlatformEvent, bool, error)
	FindByCorrelation(ctx context.Context, source, correlationID string) (PlatformEvent, bool, error)
	UpdateDelivery(ctx context.Context, eventID string, state DeliveryState, attempts int, lastError string) error
	List(ctx context.Context, f Filter) ([]PlatformEvent, error)
}

// Dispatcher normalizes, persists, and publishes platform events with
// outbox semantics: the row is durable before any publish attempt, and a
// failed delivery is recorded, never dropped.
type Dispatcher struct {
	store    Store
	pub      Publisher
	attempts int
	newID    func() string
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option configures Dispatcher behavior.
type Option func(*Dispatcher)

// WithAttempts sets the publish retry budget per delivery.
func WithAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.attempts = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.now = fn
		}
	}
}

// WithIDGenerator overrides event-id generation.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// NewDispatcher constructs a dispatcher over the given store and publisher.
func NewDispatcher(store Store, pub Publisher, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if pub == nil {
		pub = NullPublisher{}
	}
	d := &Dispatcher{
		store:    store,
		pub:      pub,
		attempts: DefaultAttempts,
		newID:    uuid.NewString,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Publish persists an outbound event and attempts delivery. A correlation id
// matching an existing event from the same source returns that event
// unchanged with no new side effects.
func (d *Dispatcher) Publish(ctx context.Context, msg Message) (PlatformEvent, error) {
	msg.EventType = strings.TrimSpace(msg.EventType)
	if msg.EventType == "" {
		return PlatformEvent{}, fmt.Errorf("%w: event_type is required", ErrInvalidInput)
	}
	if msg.Source == "" {
		msg.Source = DefaultSource
	}

	if msg.CorrelationID != "" {
		existing, ok, err := d.store.FindByCorrelation(ctx, msg.Source, msg.CorrelationID)
		if err != nil {
			return PlatformEvent{}, err
		}
		if ok {
			return existing, nil
		}
	}

	now := d.now().UTC()
	ev := PlatformEvent{
		EventID:       d.newID(),
		EventType:     msg.EventType,
		Source:        msg.Source,
		OccurredAt:    now,
		CorrelationID: msg.CorrelationID,
		SchemaVersion: SchemaVersion,
		Payload:       clonePayload(msg.Payload),
		Context:       clonePayload(msg.Context),
		DeliveryState: DeliveryPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.Insert(ctx, ev); err != nil {
		return PlatformEvent{}, err
	}
	return d.deliver(ctx, ev)
}

// Ingest accepts an externally-produced envelope through the same
// dedupe/persist/publish path. A missing event id is assigned; a known event
// id or correlation id returns the stored event unchanged.
func (d *Dispatcher) Ingest(ctx context.Context, env Envelope) (PlatformEvent, error) {
	env.EventType = strings.TrimSpace(env.EventType)
	if env.EventType == "" {
		return PlatformEvent{}, fmt.Errorf("%w: event_type is required", ErrInvalidInput)
	}
	if env.Source == "" {
		return PlatformEvent{}, fmt.Errorf("%w: source is required", ErrInvalidInput)
	}

	if env.EventID != "" {
		existing, ok, err := d.store.Get(ctx, env.EventID)
		if err != nil {
			return PlatformEvent{}, err
		}
		if ok {
			return existing, nil
		}
	} else {
		env.EventID = d.newID()
	}
	if env.CorrelationID != "" {
		existing, ok, err := d.store.FindByCorrelation(ctx, env.Source, env.CorrelationID)
		if err != nil {
			return PlatformEvent{}, err
		}
		if ok {
			return existing, nil
		}
	}

	now := d.now().UTC()
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now
	}
	if env.SchemaVersion == "" {
		env.SchemaVersion = SchemaVersion
	}
	ev := PlatformEvent{
		EventID:       env.EventID,
		EventType:     env.EventType,
		Source:        env.Source,
		OccurredAt:    env.OccurredAt.UTC(),
		CorrelationID: env.CorrelationID,
		SchemaVersion: env.SchemaVersion,
		Payload:       clonePayload(env.Payload),
		Context:       clonePayload(env.Context),
		DeliveryState: DeliveryPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.Insert(ctx, ev); err != nil {
		return PlatformEvent{}, err
	}
	return d.deliver(ctx, ev)
}

// Replay re-publishes a failed event from its stored payload. The attempt
// counter keeps accumulating across replays.
func (d *Dispatcher) Replay(ctx context.Context, eventID string) (PlatformEvent, error) {
	ev, ok, err := d.store.Get(ctx, eventID)
	if err != nil {
		return PlatformEvent{}, err
	}
	if !ok {
		return PlatformEvent{}, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	if ev.DeliveryState != DeliveryFailed {
		return PlatformEvent{}, fmt.Errorf("%w: event %s is %s, only failed events can be replayed", ErrInvalidInput, eventID, ev.DeliveryState)
	}
	return d.deliver(ctx, ev)
}

// Get returns one event by id.
func (d *Dispatcher) Get(ctx context.Context, eventID string) (PlatformEvent, error) {
	ev, ok, err := d.store.Get(ctx, eventID)
	if err != nil {
		return PlatformEvent{}, err
	}
	if !ok {
		return PlatformEvent{}, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return ev, nil
}

// List returns events matching the filter.
func (d *Dispatcher) List(ctx context.Context, f Filter) ([]PlatformEvent, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	return d.store.List(ctx, f)
}

// deliver runs the publish attempt loop for one event. Attempts for the same
// event are serialized; a concurrent delivery returns ErrConflict.
func (d *Dispatcher) deliver(ctx context.Context, ev PlatformEvent) (PlatformEvent, error) {
	d.mu.Lock()
	if _, busy := d.inFlight[ev.EventID]; busy {
		d.mu.Unlock()
		return PlatformEvent{}, fmt.Errorf("%w: delivery of %s already in progress", ErrConflict, ev.EventID)
	}
	d.inFlight[ev.EventID] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, ev.EventID)
		d.mu.Unlock()
	}()

	var lastErr error
	for i := 0; i < d.attempts; i++ {
		ev.DeliveryAttempts++
		lastErr = d.pub.Publish(ctx, ev.Envelope())
		if lastErr == nil {
			ev.DeliveryState = DeliverySucceeded
			ev.LastError = ""
			break
		}
		obs.LogEvent("event_publish_attempt_failed", map[string]any{
			"event_id": ev.EventID,
			"attempt":  ev.DeliveryAttempts,
			"error":    lastErr.Error(),
		})
	}
	if lastErr != nil {
		ev.DeliveryState = DeliveryFailed
		ev.LastError = lastErr.Error()
	}
	ev.UpdatedAt = d.now().UTC()

	if err := d.store.UpdateDelivery(ctx, ev.EventID, ev.DeliveryState, ev.DeliveryAttempts, ev.LastError); err != nil {
		return PlatformEvent{}, err
	}
	obs.ObserveEventDelivery(string(ev.DeliveryState))
	return ev, nil
}

func clonePayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
