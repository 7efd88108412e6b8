package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/obs"
)

// Authorize decides whether principal holds the permission, optionally
// against one entity. A grant on an ancestor entity authorizes on every
// descendant; global grants (no entity) authorize everywhere. Union
// semantics only: there is no explicit deny. Unknown principals or actions
// yield false, not an error; only a missing referenced entity is a typed
// error. Every call appends exactly one audit entry recording the decision.
func (s *Service) Authorize(ctx context.Context, principalID, principalType, action, entityID string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	action = strings.TrimSpace(action)
	if principalID == "" || action == "" {
		return false, fmt.Errorf("%w: principal_id and action are required", ErrInvalidInput)
	}
	if principalType == "" {
		principalType = "user"
	}

	var (
		target     entity.Entity
		candidates map[string]bool
	)
	if entityID != "" {
		e, err := s.entities.Get(ctx, entityID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				s.auditDecision(ctx, principalID, principalType, action, entityID, "", false, "entity_not_found")
				return false, fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
			}
			return false, err
		}
		target = e
		candidates = map[string]bool{entityID: true}
		ancestors, err := s.entities.Ancestors(ctx, entityID)
		if err != nil {
			return false, err
		}
		for _, a := range ancestors {
			candidates[a.ID] = true
		}
	}

	allowed, err := s.resolve(ctx, principalID, principalType, action, entityID, target, candidates)
	if err != nil {
		return false, err
	}
	s.auditDecision(ctx, principalID, principalType, action, entityID, string(target.Type), allowed, "")
	obs.ObserveAuthzDecision(allowed)
	return allowed, nil
}

func (s *Service) resolve(ctx context.Context, principalID, principalType, action, entityID string, target entity.Entity, candidates map[string]bool) (bool, error) {
	if perms, ok := s.cachedPermissions(ctx, principalID, principalType, entityID); ok {
		return containsAction(perms, action), nil
	}

	assignments, err := s.store.AssignmentsForPrincipal(ctx, principalID, principalType)
	if err != nil {
		return false, err
	}

	now := s.now().UTC()
	union := map[string]bool{}
	roles := map[string]Role{}
	for _, a := range assignments {
		if !a.ActiveAt(now) {
			continue
		}
		// Direct, inherited, or global. A check without a target entity
		// considers global grants only.
		if a.EntityID != "" && !candidates[a.EntityID] {
			continue
		}
		role, ok := roles[a.RoleID]
		if !ok {
			role, ok, err = s.store.GetRole(ctx, a.RoleID)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			roles[a.RoleID] = role
		}
		// Scope re-check: an entity-scoped grant only applies when the
		// target entity's type is still within the role's scope.
		if a.EntityID != "" && !role.ScopedTo(target.Type) {
			continue
		}
		for _, p := range role.Permissions {
			union[p] = true
		}
	}

	perms := make([]string, 0, len(union))
	for p := range union {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	s.storePermissions(ctx, principalID, principalType, entityID, perms)
	return union[action], nil
}

func (s *Service) auditDecision(ctx context.Context, principalID, principalType, action, entityID, entityType string, allowed bool, reason string) {
	details := map[string]any{
		"permission": action,
		"allowed":    allowed,
	}
	if reason != "" {
		details["reason"] = reason
	}
	if _, err := s.audit.Append(ctx, ledger.Record{
		ActorID:    principalID,
		ActorType:  principalType,
		EntityID:   entityID,
		EntityType: entityType,
		Action:     "authorization.evaluate",
		Details:    details,
	}); err != nil {
		obs.LogEvent("authz_audit_failed", map[string]any{
			"principal_id": principalID,
			"permission":   action,
			"error":        err.Error(),
		})
	}
}

func (s *Service) cachedPermissions(ctx context.Context, principalID, principalType, entityID string) ([]string, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, principalType, principalID, entityID)
}

func (s *Service) storePermissions(ctx context.Context, principalID, principalType, entityID string, perms []string) {
	if s.cache == nil {
		return
	}
	s.cache.Set(ctx, principalType, principalID, entityID, perms)
}

func containsAction(perms []string, action string) bool {
	for _, p := range perms {
		if p == action {
			return true
		}
	}
	return false
}
