package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty entity store.
func NewInMemory() *InMemory {
	return &InMemory{entities: make(map[string]Entity)}
}

func (s *InMemory) Insert(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.ID]; ok {
		return fmt.Errorf("%w: entity %s already exists", ErrConflict, e.ID)
	}
	for _, existing := range s.entities {
		if existing.Name == e.Name && existing.Type == e.Type {
			return &ConflictError{ExistingID: existing.ID, Name: e.Name, Type: e.Type}
		}
	}
	s.entities[e.ID] = copyEntity(e)
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, false, nil
	}
	return copyEntity(e), true, nil
}

func (s *InMemory) FindByNameType(ctx context.Context, name string, typ Type) (Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entities {
		if e.Name == name && e.Type == typ {
			return copyEntity(e), true, nil
		}
	}
	return Entity{}, false, nil
}

func (s *InMemory) Update(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.ID]; !ok {
		return fmt.Errorf("%w: entity %s", ErrNotFound, e.ID)
	}
	s.entities[e.ID] = copyEntity(e)
	return nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entity
	for _, e := range s.entities {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.ParentID != "" && e.ParentID != f.ParentID {
			continue
		}
		out = append(out, copyEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) Children(ctx context.Context, parentID string) ([]Entity, error) {
	return s.List(ctx, Filter{ParentID: parentID})
}

func copyEntity(e Entity) Entity {
	out := e
	out.Attributes = make(map[string]any, len(e.Attributes))
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}
	return out
}
