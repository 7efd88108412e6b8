package rbac

import (
	"errors"
	"time"

	"authgrid.org/internal/entity"
)

var (
	ErrInvalidInput   = errors.New("rbac: invalid input")
	ErrNotFound       = errors.New("rbac: not found")
	ErrConflict       = errors.New("rbac: conflict")
	ErrScopeViolation = errors.New("rbac: assignment outside role scope")
)

// Permission is an atomic action string, e.g. "document:upload". Opaque to
// the core; no predicate semantics.
type Permission struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is a named permission set, optionally restricted to entity types.
// Empty ScopeTypes means the role may be assigned against any entity.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	IsSystem    bool          `json:"is_system"`
	ScopeTypes  []entity.Type `json:"scope_types"`
	Permissions []string      `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ScopedTo reports whether the role may be assigned against typ.
func (r Role) ScopedTo(typ entity.Type) bool {
	if len(r.ScopeTypes) == 0 {
		return true
	}
	for _, t := range r.ScopeTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// Assignment grants a role to a principal, optionally scoped to one entity
// (empty EntityID = global grant) and bounded by a time window.
type Assignment struct {
	ID            string     `json:"id"`
	PrincipalID   string     `json:"principal_id"`
	PrincipalType string     `json:"principal_type"`
	EntityID      string     `json:"entity_id,omitempty"`
	RoleID        string     `json:"role_id"`
	EffectiveAt   time.Time  `json:"effective_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ActiveAt reports whether the assignment's time window covers now.
func (a Assignment) ActiveAt(now time.Time) bool {
	if a.EffectiveAt.After(now) {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// CreateRoleInput carries the fields of a role-creation request.
type CreateRoleInput struct {
	Name        string
	Description string
	IsSystem    bool
	ScopeTypes  []entity.Type
	Permissions []string
}

// RoleUpdate is a patch; nil fields are left unchanged.
type RoleUpdate struct {
	Description *string
	ScopeTypes  *[]entity.Type
	Permissions *[]string
}

// AssignInput carries the fields of an assignment request. A zero
// EffectiveAt means effective immediately.
type AssignInput struct {
	PrincipalID   string
	PrincipalType string
	EntityID      string
	RoleID        string
	EffectiveAt   time.Time
	ExpiresAt     *time.Time
}

// AssignmentFilter narrows assignment queries.
type AssignmentFilter struct {
	PrincipalID   string
	PrincipalType string
	RoleID        string
	EntityID      string
	Limit         int
}
