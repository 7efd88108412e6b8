package entity

import (
	"errors"
	"fmt"
	"time"
)

// Type is the closed enumeration of entity kinds.
type Type string

const (
	TypeIssuer   Type = "issuer"
	TypeSPV      Type = "spv"
	TypeOffering Type = "offering"
	TypeInvestor Type = "investor"
	TypeAgent    Type = "agent"
	TypeOther    Type = "other"
)

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	switch t {
	case TypeIssuer, TypeSPV, TypeOffering, TypeInvestor, TypeAgent, TypeOther:
		return true
	}
	return false
}

// Status is the entity lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	}
	return false
}

var (
	ErrInvalidInput = errors.New("entity: invalid input")
	ErrNotFound     = errors.New("entity: not found")
	ErrConflict     = errors.New("entity: conflict")
)

// ConflictError reports a (name, type) collision and carries the id of the
// already-existing entity so callers can reference it.
type ConflictError struct {
	ExistingID string
	Name       string
	Type       Type
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("entity: conflict: (%s, %s) already exists as %s", e.Name, e.Type, e.ExistingID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Entity is one node of the hierarchy. ParentID references the owning parent
// by id only; children are discovered by query, never embedded.
type Entity struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       Type           `json:"type"`
	Status     Status         `json:"status"`
	ParentID   string         `json:"parent_id,omitempty"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CreateInput carries the fields of a creation request.
type CreateInput struct {
	Name       string
	Type       Type
	ParentID   string
	Attributes map[string]any
}

// Update is a patch; nil fields are left unchanged. An empty *ParentID
// clears the parent. Attributes, when non-nil, replaces the bag wholesale.
type Update struct {
	Name       *string
	Status     *Status
	ParentID   *string
	Attributes map[string]any
}

// Filter narrows List queries. Attribute filtering happens in application
// code after load; only real columns are pushed to the store.
type Filter struct {
	Type     Type
	Status   Status
	ParentID string
	Limit    int
}
