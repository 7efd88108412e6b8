package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// canonicalPayload serializes the hashed fields of an entry as compact JSON
// with lexicographically sorted keys. encoding/json sorts map keys, which
// keeps the representation deterministic across append and verify.
func canonicalPayload(e Entry) ([]byte, error) {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	payload := map[string]any{
		"sequence":       e.Sequence,
		"hash_version":   e.HashVersion,
		"event_id":       nullable(e.EventID),
		"source":         e.Source,
		"action":         e.Action,
		"actor_id":       nullable(e.ActorID),
		"actor_type":     e.ActorType,
		"entity_id":      nullable(e.EntityID),
		"entity_type":    nullable(e.EntityType),
		"correlation_id": nullable(e.CorrelationID),
		"details":        details,
		"occurred_at":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  e.PreviousHash,
	}
	return json.Marshal(payload)
}

// computeEntryHash binds an entry to its predecessor:
// sha256(previous_hash ++ canonical_payload).
func computeEntryHash(previousHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryHashFor recomputes the hash an entry should carry given its stored
// fields and the supplied predecessor hash. Used by Verify and by the
// out-of-band verification job.
func EntryHashFor(e Entry, previousHash string) (string, error) {
	e.PreviousHash = previousHash
	canonical, err := canonicalPayload(e)
	if err != nil {
		return "", err
	}
	return computeEntryHash(previousHash, canonical), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
