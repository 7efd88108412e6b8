package ledger

import (
	"errors"
	"time"
)

const (
	// GenesisHash anchors the first entry of the chain.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// HashVersion identifies the canonicalization scheme in effect.
	HashVersion = 1

	// DefaultSource attributes entries produced by this service itself.
	DefaultSource = "authgrid_core"
)

var (
	ErrInvalidInput   = errors.New("ledger: invalid input")
	ErrNotFound       = errors.New("ledger: not found")
	ErrChainIntegrity = errors.New("ledger: chain integrity violation")
)

// Entry is one immutable, hash-chained audit record.
// Entries are never updated or deleted once appended.
type Entry struct {
	Sequence      uint64         `json:"sequence"`
	PreviousHash  string         `json:"previous_hash"`
	EntryHash     string         `json:"entry_hash"`
	HashVersion   int            `json:"hash_version"`
	EventID       string         `json:"event_id,omitempty"`
	Source        string         `json:"source"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorType     string         `json:"actor_type"`
	EntityID      string         `json:"entity_id,omitempty"`
	EntityType    string         `json:"entity_type,omitempty"`
	Action        string         `json:"action"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Details       map[string]any `json:"details"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Actor identifies who performed an audited action.
type Actor struct {
	ID   string
	Type string
}

// Record is the caller-supplied portion of an entry; sequence and hashes
// are assigned by Append.
type Record struct {
	EventID       string
	Source        string
	ActorID       string
	ActorType     string
	EntityID      string
	EntityType    string
	Action        string
	CorrelationID string
	Details       map[string]any
	OccurredAt    time.Time
}

// Filter narrows audit queries.
type Filter struct {
	ActorID  string
	EntityID string
	Action   string
	StartSeq uint64
	EndSeq   uint64
	Limit    int
}

// VerificationResult reports the outcome of a chain verification run.
type VerificationResult struct {
	Valid              bool   `json:"valid"`
	FirstBreakSequence uint64 `json:"first_break_sequence,omitempty"`
	Checked            int    `json:"checked"`
	StartSequence      uint64 `json:"start_sequence"`
	EndSequence        uint64 `json:"end_sequence"`
}
