package events

import (
	"errors"
	"time"
)

// SchemaVersion identifies the envelope layout in effect.
const SchemaVersion = "v1"

// DefaultSource attributes events emitted by this service itself.
const DefaultSource = "authgrid_core"

// DefaultAttempts is the publish retry budget per delivery.
const DefaultAttempts = 2

var (
	ErrInvalidInput = errors.New("events: invalid input")
	ErrNotFound     = errors.New("events: not found")
	ErrConflict     = errors.New("events: conflict")
)

// DeliveryState tracks the outbox lifecycle of a platform event.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliverySucceeded DeliveryState = "succeeded"
	DeliveryFailed    DeliveryState = "failed"
)

// Envelope is the canonical wire form of a platform event.
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Source        string         `json:"source"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SchemaVersion string         `json:"schema_version"`
	Payload       map[string]any `json:"payload"`
	Context       map[string]any `json:"context"`
}

// Message is the caller-supplied portion of an outbound publish; envelope
// identity and timestamps are assigned by the dispatcher.
type Message struct {
	EventType     string
	Source        string
	CorrelationID string
	Payload       map[string]any
	Context       map[string]any
}

// PlatformEvent is the persisted outbox row: envelope plus delivery state.
type PlatformEvent struct {
	EventID          string         `json:"event_id"`
	EventType        string         `json:"event_type"`
	Source           string         `json:"source"`
	OccurredAt       time.Time      `json:"occurred_at"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	SchemaVersion    string         `json:"schema_version"`
	Payload          map[string]any `json:"payload"`
	Context          map[string]any `json:"context"`
	DeliveryState    DeliveryState  `json:"delivery_state"`
	DeliveryAttempts int            `json:"delivery_attempts"`
	LastError        string         `json:"last_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Envelope extracts the wire form of a stored event for (re-)publishing.
func (e PlatformEvent) Envelope() Envelope {
	return Envelope{
		EventID:       e.EventID,
		EventType:     e.EventType,
		Source:        e.Source,
		OccurredAt:    e.OccurredAt,
		CorrelationID: e.CorrelationID,
		SchemaVersion: e.SchemaVersion,
		Payload:       e.Payload,
		Context:       e.Context,
	}
}

// Filter narrows event queries.
type Filter struct {
	EventType     string
	Source        string
	DeliveryState DeliveryState
	Limit         int
}
