package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/events"
	"authgrid.org/internal/ids"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/obs"
)

// Store describes persistence for permissions, roles, and assignments.
type Store interface {
	UpsertPermission(ctx context.Context, p Permission) (Permission, bool, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	InsertRole(ctx context.Context, r Role) error
	GetRole(ctx context.Context, id string) (Role, bool, error)
	FindRoleByName(ctx context.Context, name string) (Role, bool, error)
	UpdateRole(ctx context.Context, r Role) error
	ListRoles(ctx context.Context) ([]Role, error)

	InsertAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, id string) (Assignment, bool, error)
	FindAssignment(ctx context.Context, principalID, principalType, roleID, entityID string) (Assignment, bool, error)
	DeleteAssignment(ctx context.Context, id string) error
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error)
	AssignmentsForPrincipal(ctx context.Context, principalID, principalType string) ([]Assignment, error)
}

// EntityDirectory is the slice of the entity service the resolver needs.
type EntityDirectory interface {
	Get(ctx context.Context, id string) (entity.Entity, error)
	Ancestors(ctx context.Context, id string) ([]entity.Entity, error)
}

// Recorder appends audit entries. Satisfied by *ledger.Service.
type Recorder interface {
	Append(ctx context.Context, rec ledger.Record) (ledger.Entry, error)
}

// EventSink publishes platform events. Satisfied by *events.Dispatcher.
type EventSink interface {
	Publish(ctx context.Context, msg events.Message) (events.PlatformEvent, error)
}

// TxRunner scopes a function to one storage transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service implements role, permission, and assignment operations plus the
// authorization resolver.
type Service struct {
	store    Store
	entities EntityDirectory
	audit    Recorder
	sink     EventSink
	tx       TxRunner
	cache    *Cache
	newID    func() string
	now      func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEventSink wires the platform-event publisher.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithTxRunner wires transactional scoping for mutation+audit coupling.
func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) { s.tx = tx }
}

// WithCache wires the optional permission cache.
func WithCache(cache *Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// NewService constructs an rbac service.
func NewService(store Store, entities EntityDirectory, audit Recorder, opts ...Option) (*Service, error) {
	if store == nil || entities == nil || audit == nil {
		return nil, fmt.Errorf("%w: store, entity directory, and audit recorder are required", ErrInvalidInput)
	}
	s := &Service{
		store:    store,
		entities: entities,
		audit:    audit,
		newID:    ids.New,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBaseline creates each listed permission if missing. Safe to run on
// every process start.
func (s *Service) EnsureBaseline(ctx context.Context, actions []string) error {
	created := 0
	for _, action := range actions {
		action = strings.TrimSpace(action)
		if action == "" {
			continue
		}
		_, added, err := s.ensurePermission(ctx, action, "")
		if err != nil {
			return fmt.Errorf("ensure permission %s: %w", action, err)
		}
		if added {
			created++
		}
	}
	if created > 0 {
		obs.LogEvent("baseline_permissions_seeded", map[string]any{"created": created})
	}
	return nil
}

// EnsureSystemRoles creates each seeded role if missing, with is_system set.
// Existing roles are left untouched, including ones operators have edited.
func (s *Service) EnsureSystemRoles(ctx context.Context, seeds []RoleSeed) error {
	for _, seed := range seeds {
		if _, ok, err := s.store.FindRoleByName(ctx, seed.Name); err != nil {
			return err
		} else if ok {
			continue
		}
		if _, err := s.CreateRole(ctx, CreateRoleInput{
			Name:        seed.Name,
			Description: seed.Description,
			IsSystem:    true,
			ScopeTypes:  seed.ScopeTypes,
			Permissions: seed.Permissions,
		}, ledger.Actor{ID: "system", Type: "service"}); err != nil {
			return fmt.Errorf("seed role %s: %w", seed.Name, err)
		}
	}
	return nil
}

// CreateRole adds a role. Permissions referenced by action are created on
// demand. A name collision returns ErrConflict.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput, actor ledger.Actor) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Role{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	for _, t := range in.ScopeTypes {
		if !t.Valid() {
			return Role{}, fmt.Errorf("%w: unknown scope type %q", ErrInvalidInput, t)
		}
	}
	perms, err := normalizeActions(in.Permissions)
	if err != nil {
		return Role{}, err
	}

	var created Role
	err = s.runInTx(ctx, func(ctx context.Context) error {
		if existing, ok, err := s.store.FindRoleByName(ctx, in.Name); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: role %q already exists as %s", ErrConflict, in.Name, existing.ID)
		}
		for _, action := range perms {
			if _, _, err := s.ensurePermission(ctx, action, ""); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		created = Role{
			ID:          s.newID(),
			Name:        in.Name,
			Description: strings.TrimSpace(in.Description),
			IsSystem:    in.IsSystem,
			ScopeTypes:  append([]entity.Type(nil), in.ScopeTypes...),
			Permissions: perms,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.InsertRole(ctx, created); err != nil {
			return err
		}
		_, err := s.audit.Append(ctx, ledger.Record{
			ActorID:   actor.ID,
			ActorType: actor.Type,
			Action:    "role.create",
			Details: map[string]any{
				"role_id":     created.ID,
				"name":        created.Name,
				"is_system":   created.IsSystem,
				"permissions": perms,
			},
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// GetRole returns one role by id.
func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	r, ok, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return r, nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// UpdateRole patches a role. Permission membership changes are audited as an
// added/removed diff and publish role.updated.
func (s *Service) UpdateRole(ctx context.Context, id string, upd RoleUpdate, actor ledger.Actor) (Role, error) {
	var (
		updated        Role
		added, removed []string
		didUpdate      bool
	)
	err := s.runInTx(ctx, func(ctx context.Context) error {
		current, ok, err := s.store.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: role %s", ErrNotFound, id)
		}

		changed := map[string]any{}
		next := current
		if upd.Description != nil && *upd.Description != current.Description {
			next.Description = strings.TrimSpace(*upd.Description)
			changed["description"] = next.Description
		}
		if upd.ScopeTypes != nil {
			for _, t := range *upd.ScopeTypes {
				if !t.Valid() {
					return fmt.Errorf("%w: unknown scope type %q", ErrInvalidInput, t)
				}
			}
			next.ScopeTypes = append([]entity.Type(nil), *upd.ScopeTypes...)
			changed["scope_types"] = typeStrings(next.ScopeTypes)
		}
		if upd.Permissions != nil {
			perms, err := normalizeActions(*upd.Permissions)
			if err != nil {
				return err
			}
			for _, action := range perms {
				if _, _, err := s.ensurePermission(ctx, action, ""); err != nil {
					return err
				}
			}
			added, removed = diffActions(current.Permissions, perms)
			if len(added) > 0 || len(removed) > 0 {
				next.Permissions = perms
				changed["permissions_added"] = added
				changed["permissions_removed"] = removed
			}
		}
		if len(changed) == 0 {
			updated = current
			return nil
		}

		next.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateRole(ctx, next); err != nil {
			return err
		}
		updated = next
		didUpdate = true
		changed["role_id"] = id
		_, err = s.audit.Append(ctx, ledger.Record{
			ActorID:   actor.ID,
			ActorType: actor.Type,
			Action:    "role.update",
			Details:   changed,
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	// Published after commit so subscribers only ever see durable changes.
	if didUpdate {
		s.publish(ctx, "role.updated", map[string]any{
			"role_id":             id,
			"permissions_added":   added,
			"permissions_removed": removed,
		})
	}
	return updated, nil
}

// Assign grants a role to a principal. Duplicate requests are idempotent and
// return the existing assignment. An entity-scoped grant is rejected with
// ErrScopeViolation when the entity's type is outside the role's scope.
func (s *Service) Assign(ctx context.Context, in AssignInput, actor ledger.Actor) (Assignment, error) {
	in.PrincipalID = strings.TrimSpace(in.PrincipalID)
	if in.PrincipalID == "" {
		return Assignment{}, fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	if in.PrincipalType == "" {
		in.PrincipalType = "user"
	}
	if in.RoleID == "" {
		return Assignment{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}

	var (
		created  Assignment
		inserted bool
	)
	err := s.runInTx(ctx, func(ctx context.Context) error {
		role, ok, err := s.store.GetRole(ctx, in.RoleID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: role %s", ErrNotFound, in.RoleID)
		}
		if in.EntityID != "" {
			target, err := s.entities.Get(ctx, in.EntityID)
			if err != nil {
				return err
			}
			if !role.ScopedTo(target.Type) {
				return fmt.Errorf("%w: role %s cannot be assigned to %s entities", ErrScopeViolation, role.Name, target.Type)
			}
		}

		if existing, ok, err := s.store.FindAssignment(ctx, in.PrincipalID, in.PrincipalType, in.RoleID, in.EntityID); err != nil {
			return err
		} else if ok {
			created = existing
			return nil
		}

		now := s.now().UTC()
		effective := in.EffectiveAt
		if effective.IsZero() {
			effective = now
		}
		created = Assignment{
			ID:            s.newID(),
			PrincipalID:   in.PrincipalID,
			PrincipalType: in.PrincipalType,
			EntityID:      in.EntityID,
			RoleID:        in.RoleID,
			EffectiveAt:   effective.UTC(),
			ExpiresAt:     in.ExpiresAt,
			CreatedAt:     now,
		}
		if err := s.store.InsertAssignment(ctx, created); err != nil {
			return err
		}
		inserted = true
		_, err = s.audit.Append(ctx, ledger.Record{
			ActorID:   actor.ID,
			ActorType: actor.Type,
			EntityID:  in.EntityID,
			Action:    "role.assign",
			Details: map[string]any{
				"assignment_id":  created.ID,
				"principal_id":   in.PrincipalID,
				"principal_type": in.PrincipalType,
				"role_id":        in.RoleID,
			},
		})
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	if inserted {
		s.publish(ctx, "role.assignment.changed", map[string]any{
			"assignment_id": created.ID,
			"principal_id":  in.PrincipalID,
			"role_id":       in.RoleID,
			"change":        "assigned",
		})
	}
	return created, nil
}

// Revoke removes an assignment by id.
func (s *Service) Revoke(ctx context.Context, assignmentID string, actor ledger.Actor) error {
	var revoked Assignment
	err := s.runInTx(ctx, func(ctx context.Context) error {
		existing, ok, err := s.store.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
		}
		if err := s.store.DeleteAssignment(ctx, assignmentID); err != nil {
			return err
		}
		revoked = existing
		_, err = s.audit.Append(ctx, ledger.Record{
			ActorID:   actor.ID,
			ActorType: actor.Type,
			EntityID:  existing.EntityID,
			Action:    "role.revoke",
			Details: map[string]any{
				"assignment_id":  assignmentID,
				"principal_id":   existing.PrincipalID,
				"principal_type": existing.PrincipalType,
				"role_id":        existing.RoleID,
			},
		})
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "role.assignment.changed", map[string]any{
		"assignment_id": assignmentID,
		"principal_id":  revoked.PrincipalID,
		"role_id":       revoked.RoleID,
		"change":        "revoked",
	})
	return nil
}

// ListAssignments returns assignments matching the filter.
func (s *Service) ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	return s.store.ListAssignments(ctx, f)
}

// InvalidateCache drops all cached permission sets. Wired to the automation
// router's cache-invalidation handler.
func (s *Service) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

func (s *Service) ensurePermission(ctx context.Context, action, description string) (Permission, bool, error) {
	return s.store.UpsertPermission(ctx, Permission{
		ID:          s.newID(),
		Action:      action,
		Description: description,
		CreatedAt:   s.now().UTC(),
	})
}

func (s *Service) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.sink == nil {
		return
	}
	if _, err := s.sink.Publish(ctx, events.Message{EventType: eventType, Payload: payload}); err != nil {
		obs.LogEvent("rbac_publish_failed", map[string]any{
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}

func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}

func normalizeActions(actions []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" {
			return nil, fmt.Errorf("%w: empty permission action", ErrInvalidInput)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func diffActions(before, after []string) (added, removed []string) {
	beforeSet := map[string]bool{}
	for _, a := range before {
		beforeSet[a] = true
	}
	afterSet := map[string]bool{}
	for _, a := range after {
		afterSet[a] = true
		if !beforeSet[a] {
			added = append(added, a)
		}
	}
	for _, a := range before {
		if !afterSet[a] {
			removed = append(removed, a)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func typeStrings(types []entity.Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
