package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"authgrid.org/internal/obs"
)

// BuildFunc materializes the next entry given the locked chain tip.
// Implementations of Store invoke it while holding whatever lock
// serializes chain extension.
type BuildFunc func(nextSeq uint64, previousHash string) (Entry, error)

// Store describes persistence for the append-only ledger.
type Store interface {
	// AppendEntry allocates the next sequence under a store-level lock,
	// calls build to compute hashes, and persists the result atomically.
	AppendEntry(ctx context.Context, build BuildFunc) (Entry, error)
	FindByEventID(ctx context.Context, eventID string) (Entry, bool, error)
	EntryAt(ctx context.Context, seq uint64) (Entry, bool, error)
	Range(ctx context.Context, start, end uint64) ([]Entry, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Service appends to and verifies the hash-chained audit ledger.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a ledger service over the given store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append extends the chain with one entry. When rec.EventID matches an
// existing entry the stored entry is returned unchanged (idempotent replay).
// Append failure must be treated as fatal by the enclosing mutation.
func (s *Service) Append(ctx context.Context, rec Record) (Entry, error) {
	rec.Action = strings.TrimSpace(rec.Action)
	if rec.Action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	if rec.Source == "" {
		rec.Source = DefaultSource
	}
	if rec.ActorType == "" {
		rec.ActorType = "user"
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now().UTC()
	}

	if rec.EventID != "" {
		existing, ok, err := s.store.FindByEventID(ctx, rec.EventID)
		if err != nil {
			return Entry{}, err
		}
		if ok {
			return existing, nil
		}
	}

	start := time.Now()
	entry, err := s.store.AppendEntry(ctx, func(nextSeq uint64, previousHash string) (Entry, error) {
		e := Entry{
			Sequence:      nextSeq,
			PreviousHash:  previousHash,
			HashVersion:   HashVersion,
			EventID:       rec.EventID,
			Source:        rec.Source,
			ActorID:       rec.ActorID,
			ActorType:     rec.ActorType,
			EntityID:      rec.EntityID,
			EntityType:    rec.EntityType,
			Action:        rec.Action,
			CorrelationID: rec.CorrelationID,
			Details:       cloneDetails(rec.Details),
			OccurredAt:    rec.OccurredAt.UTC(),
		}
		canonical, err := canonicalPayload(e)
		if err != nil {
			return Entry{}, err
		}
		e.EntryHash = computeEntryHash(previousHash, canonical)
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	obs.ObserveLedgerAppend(time.Since(start))
	obs.LogEvent("audit_append", map[string]any{
		"sequence":   entry.Sequence,
		"action":     entry.Action,
		"entry_hash": entry.EntryHash,
	})
	return entry, nil
}

// Verify recomputes every hash in [start, end] and checks adjacency.
// Zero bounds mean "from genesis" and "to tip" respectively. The first
// failing sequence is reported; the chain is never repaired.
func (s *Service) Verify(ctx context.Context, start, end uint64) (VerificationResult, error) {
	entries, err := s.store.Range(ctx, start, end)
	if err != nil {
		return VerificationResult{}, err
	}
	if len(entries) == 0 {
		return VerificationResult{Valid: true, StartSequence: start, EndSequence: end}, nil
	}

	previousHash := GenesisHash
	previousSeq := entries[0].Sequence - 1
	if start > 1 {
		prev, ok, err := s.store.EntryAt(ctx, start-1)
		if err != nil {
			return VerificationResult{}, err
		}
		if !ok {
			return VerificationResult{}, fmt.Errorf("%w: missing entry for sequence %d", ErrChainIntegrity, start-1)
		}
		previousHash = prev.EntryHash
		previousSeq = prev.Sequence
	}

	result := VerificationResult{
		Valid:         true,
		StartSequence: entries[0].Sequence,
		EndSequence:   entries[len(entries)-1].Sequence,
	}
	for _, entry := range entries {
		expectedSeq := previousSeq + 1
		if entry.Sequence != expectedSeq {
			result.Valid = false
			result.FirstBreakSequence = expectedSeq
			break
		}
		expectedHash, err := EntryHashFor(entry, previousHash)
		if err != nil {
			return VerificationResult{}, err
		}
		if entry.PreviousHash != previousHash || entry.EntryHash != expectedHash {
			result.Valid = false
			result.FirstBreakSequence = entry.Sequence
			break
		}
		previousHash = entry.EntryHash
		previousSeq = entry.Sequence
		result.Checked++
	}
	if !result.Valid {
		obs.ObserveVerifyFailure()
	}
	return result, nil
}

// List returns entries matching the filter in sequence order.
func (s *Service) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}

func cloneDetails(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
