package events

import (
	"context"
	"fmt"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu            sync.RWMutex
	order         []string
	byID          map[string]PlatformEvent
	byCorrelation map[string]string // source + "\x00" + correlation_id -> event_id
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty event store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:          make(map[string]PlatformEvent),
		byCorrelation: make(map[string]string),
	}
}

func (s *InMemory) Insert(ctx context.Context, ev PlatformEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[ev.EventID]; ok {
		return fmt.Errorf("%w: event %s already exists", ErrConflict, ev.EventID)
	}
	if ev.CorrelationID != "" {
		key := correlationKey(ev.Source, ev.CorrelationID)
		if _, ok := s.byCorrelation[key]; ok {
			return fmt.Errorf("%w: correlation %s already seen for %s", ErrConflict, ev.CorrelationID, ev.Source)
		}
		s.byCorrelation[key] = ev.EventID
	}
	s.byID[ev.EventID] = ev
	s.order = append(s.order, ev.EventID)
	return nil
}

func (s *InMemory) Get(ctx context.Context, eventID string) (PlatformEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[eventID]
	return ev, ok, nil
}

func (s *InMemory) FindByCorrelation(ctx context.Context, source, correlationID string) (PlatformEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCorrelation[correlationKey(source, correlationID)]
	if !ok {
		return PlatformEvent{}, false, nil
	}
	return s.byID[id], true, nil
}

func (s *InMemory) UpdateDelivery(ctx context.Context, eventID string, state DeliveryState, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[eventID]
	if !ok {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	ev.DeliveryState = state
	ev.DeliveryAttempts = attempts
	ev.LastError = lastError
	s.byID[eventID] = ev
	return nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]PlatformEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PlatformEvent
	for _, id := range s.order {
		ev := s.byID[id]
		if f.EventType != "" && ev.EventType != f.EventType {
			continue
		}
		if f.Source != "" && ev.Source != f.Source {
			continue
		}
		if f.DeliveryState != "" && ev.DeliveryState != f.DeliveryState {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func correlationKey(source, correlationID string) string {
	return source + "\x00" + correlationID
}
