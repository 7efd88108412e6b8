package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"authgrid.org/internal/entity"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu          sync.RWMutex
	permissions map[string]Permission // action -> permission
	roles       map[string]Role
	assignments map[string]Assignment
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty rbac store.
func NewInMemory() *InMemory {
	return &InMemory{
		permissions: make(map[string]Permission),
		roles:       make(map[string]Role),
		assignments: make(map[string]Assignment),
	}
}

func (s *InMemory) UpsertPermission(ctx context.Context, p Permission) (Permission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.permissions[p.Action]; ok {
		return existing, false, nil
	}
	s.permissions[p.Action] = p
	return p, true, nil
}

func (s *InMemory) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out, nil
}

func (s *InMemory) InsertRole(ctx context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok {
		return fmt.Errorf("%w: role %s already exists", ErrConflict, r.ID)
	}
	for _, existing := range s.roles {
		if existing.Name == r.Name {
			return fmt.Errorf("%w: role %q already exists as %s", ErrConflict, r.Name, existing.ID)
		}
	}
	s.roles[r.ID] = copyRole(r)
	return nil
}

func (s *InMemory) GetRole(ctx context.Context, id string) (Role, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, false, nil
	}
	return copyRole(r), true, nil
}

func (s *InMemory) FindRoleByName(ctx context.Context, name string) (Role, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return copyRole(r), true, nil
		}
	}
	return Role{}, false, nil
}

func (s *InMemory) UpdateRole(ctx context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, r.ID)
	}
	s.roles[r.ID] = copyRole(r)
	return nil
}

func (s *InMemory) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) InsertAssignment(ctx context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments {
		if existing.PrincipalID == a.PrincipalID &&
			existing.PrincipalType == a.PrincipalType &&
			existing.RoleID == a.RoleID &&
			existing.EntityID == a.EntityID {
			return fmt.Errorf("%w: assignment already exists as %s", ErrConflict, existing.ID)
		}
	}
	s.assignments[a.ID] = a
	return nil
}

func (s *InMemory) GetAssignment(ctx context.Context, id string) (Assignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	return a, ok, nil
}

func (s *InMemory) FindAssignment(ctx context.Context, principalID, principalType, roleID, entityID string) (Assignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if a.PrincipalID == principalID && a.PrincipalType == principalType &&
			a.RoleID == roleID && a.EntityID == entityID {
			return a, true, nil
		}
	}
	return Assignment{}, false, nil
}

func (s *InMemory) DeleteAssignment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[id]; !ok {
		return fmt.Errorf("%w: assignment %s", ErrNotFound, id)
	}
	delete(s.assignments, id)
	return nil
}

func (s *InMemory) ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Assignment
	for _, a := range s.assignments {
		if f.PrincipalID != "" && a.PrincipalID != f.PrincipalID {
			continue
		}
		if f.PrincipalType != "" && a.PrincipalType != f.PrincipalType {
			continue
		}
		if f.RoleID != "" && a.RoleID != f.RoleID {
			continue
		}
		if f.EntityID != "" && a.EntityID != f.EntityID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) AssignmentsForPrincipal(ctx context.Context, principalID, principalType string) ([]Assignment, error) {
	return s.ListAssignments(ctx, AssignmentFilter{PrincipalID: principalID, PrincipalType: principalType})
}

func copyRole(r Role) Role {
	out := r
	out.ScopeTypes = append([]entity.Type(nil), r.ScopeTypes...)
	out.Permissions = append([]string(nil), r.Permissions...)
	return out
}
