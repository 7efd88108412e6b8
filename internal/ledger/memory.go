package ledger

import (
	"context"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. The mutex
// around AppendEntry is the single-writer discipline the chain requires.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
	byEvent map[string]int // event_id -> index
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty ledger store.
func NewInMemory() *InMemory {
	return &InMemory{byEvent: make(map[string]int)}
}

func (s *InMemory) AppendEntry(ctx context.Context, build BuildFunc) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextSeq := uint64(len(s.entries)) + 1
	previousHash := GenesisHash
	if n := len(s.entries); n > 0 {
		previousHash = s.entries[n-1].EntryHash
	}
	entry, err := build(nextSeq, previousHash)
	if err != nil {
		return Entry{}, err
	}
	s.entries = append(s.entries, entry)
	if entry.EventID != "" {
		s.byEvent[entry.EventID] = len(s.entries) - 1
	}
	return entry, nil
}

func (s *InMemory) FindByEventID(ctx context.Context, eventID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byEvent[eventID]
	if !ok {
		return Entry{}, false, nil
	}
	return s.entries[idx], true, nil
}

func (s *InMemory) EntryAt(ctx context.Context, seq uint64) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq == 0 || seq > uint64(len(s.entries)) {
		return Entry{}, false, nil
	}
	return s.entries[seq-1], true, nil
}

func (s *InMemory) Range(ctx context.Context, start, end uint64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if start > 0 && e.Sequence < start {
			continue
		}
		if end > 0 && e.Sequence > end {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.StartSeq > 0 && e.Sequence < f.StartSeq {
			continue
		}
		if f.EndSeq > 0 && e.Sequence > f.EndSeq {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Tamper overwrites a stored entry in place. Only for tests exercising
// verification; the real stores never mutate entries.
func (s *InMemory) Tamper(seq uint64, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 || seq > uint64(len(s.entries)) {
		return false
	}
	mutate(&s.entries[seq-1])
	return true
}
