package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/rbac"
)

// RBACStore implements rbac.Store over Postgres.
type RBACStore struct {
	s *Store
}

var _ rbac.Store = (*RBACStore)(nil)

func (rs *RBACStore) UpsertPermission(ctx context.Context, p rbac.Permission) (rbac.Permission, bool, error) {
	q := rs.s.q(ctx)
	var created rbac.Permission
	var desc sql.NullString
	err := q.QueryRowContext(ctx, `
		insert into permissions (id, action, description, created_at)
		values ($1, $2, $3, $4)
		on conflict (action) do nothing
		returning id, action, description, created_at
	`, p.ID, p.Action, p.Description, p.CreatedAt).Scan(&created.ID, &created.Action, &desc, &created.CreatedAt)
	if err == nil {
		created.Description = desc.String
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return rbac.Permission{}, false, err
	}

	var existing rbac.Permission
	err = q.QueryRowContext(ctx, `
		select id, action, description, created_at
		from permissions
		where action = $1
	`, p.Action).Scan(&existing.ID, &existing.Action, &desc, &existing.CreatedAt)
	if err != nil {
		return rbac.Permission{}, false, err
	}
	existing.Description = desc.String
	return existing, false, nil
}

func (rs *RBACStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := rs.s.q(ctx).QueryContext(ctx, `
		select id, action, description, created_at
		from permissions
		order by action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Action, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Description = desc.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (rs *RBACStore) InsertRole(ctx context.Context, r rbac.Role) error {
	q := rs.s.q(ctx)
	scopes, err := json.Marshal(typeStrings(r.ScopeTypes))
	if err != nil {
		return fmt.Errorf("marshal scope_types: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		insert into roles (id, name, description, is_system, scope_types, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.Name, r.Description, r.IsSystem, scopes, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: role %q already exists", rbac.ErrConflict, r.Name)
		}
		return err
	}
	return rs.setRolePermissions(ctx, r.ID, r.Permissions)
}

func (rs *RBACStore) GetRole(ctx context.Context, id string) (rbac.Role, bool, error) {
	row := rs.s.q(ctx).QueryRowContext(ctx, `
		select id, name, description, is_system, scope_types, created_at, updated_at
		from roles
		where id = $1
	`, id)
	r, err := rs.scanRole(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, false, nil
	}
	if err != nil {
		return rbac.Role{}, false, err
	}
	return r, true, nil
}

func (rs *RBACStore) FindRoleByName(ctx context.Context, name string) (rbac.Role, bool, error) {
	row := rs.s.q(ctx).QueryRowContext(ctx, `
		select id, name, description, is_system, scope_types, created_at, updated_at
		from roles
		where name = $1
	`, name)
	r, err := rs.scanRole(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, false, nil
	}
	if err != nil {
		return rbac.Role{}, false, err
	}
	return r, true, nil
}

func (rs *RBACStore) UpdateRole(ctx context.Context, r rbac.Role) error {
	q := rs.s.q(ctx)
	scopes, err := json.Marshal(typeStrings(r.ScopeTypes))
	if err != nil {
		return fmt.Errorf("marshal scope_types: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		update roles
		set description = $2, scope_types = $3, updated_at = $4
		where id = $1
	`, r.ID, r.Description, scopes, r.UpdatedAt)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: role %s", rbac.ErrNotFound, r.ID)
	}
	return rs.setRolePermissions(ctx, r.ID, r.Permissions)
}

func (rs *RBACStore) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := rs.s.q(ctx).QueryContext(ctx, `
		select id, name, description, is_system, scope_types, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Role
	for rows.Next() {
		r, err := rs.scanRole(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (rs *RBACStore) InsertAssignment(ctx context.Context, a rbac.Assignment) error {
	_, err := rs.s.q(ctx).ExecContext(ctx, `
		insert into role_assignments (id, principal_id, principal_type, entity_id, role_id, effective_at, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.PrincipalID, a.PrincipalType, nullIfEmpty(a.EntityID), a.RoleID, a.EffectiveAt, nullTime(a.ExpiresAt), a.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: assignment already exists", rbac.ErrConflict)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: role or entity missing", rbac.ErrNotFound)
			}
		}
		return err
	}
	return nil
}

func (rs *RBACStore) GetAssignment(ctx context.Context, id string) (rbac.Assignment, bool, error) {
	row := rs.s.q(ctx).QueryRowContext(ctx, `
		select `+assignmentColumns+`
		from role_assignments
		where id = $1
	`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Assignment{}, false, nil
	}
	if err != nil {
		return rbac.Assignment{}, false, err
	}
	return a, true, nil
}

func (rs *RBACStore) FindAssignment(ctx context.Context, principalID, principalType, roleID, entityID string) (rbac.Assignment, bool, error) {
	row := rs.s.q(ctx).QueryRowContext(ctx, `
		select `+assignmentColumns+`
		from role_assignments
		where principal_id = $1 and principal_type = $2 and role_id = $3 and coalesce(entity_id, '') = $4
	`, principalID, principalType, roleID, entityID)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Assignment{}, false, nil
	}
	if err != nil {
		return rbac.Assignment{}, false, err
	}
	return a, true, nil
}

func (rs *RBACStore) DeleteAssignment(ctx context.Context, id string) error {
	res, err := rs.s.q(ctx).ExecContext(ctx, `delete from role_assignments where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: assignment %s", rbac.ErrNotFound, id)
	}
	return nil
}

const assignmentColumns = `id, principal_id, principal_type, entity_id, role_id, effective_at, expires_at, created_at`

func (rs *RBACStore) ListAssignments(ctx context.Context, f rbac.AssignmentFilter) ([]rbac.Assignment, error) {
	query := `select ` + assignmentColumns + ` from role_assignments where 1=1`
	var args []any
	idx := 1
	if f.PrincipalID != "" {
		query += fmt.Sprintf(" and principal_id = $%d", idx)
		args = append(args, f.PrincipalID)
		idx++
	}
	if f.PrincipalType != "" {
		query += fmt.Sprintf(" and principal_type = $%d", idx)
		args = append(args, f.PrincipalType)
		idx++
	}
	if f.RoleID != "" {
		query += fmt.Sprintf(" and role_id = $%d", idx)
		args = append(args, f.RoleID)
		idx++
	}
	if f.EntityID != "" {
		query += fmt.Sprintf(" and entity_id = $%d", idx)
		args = append(args, f.EntityID)
		idx++
	}
	query += " order by created_at"
	if f.Limit > 0 {
		query += fmt.Sprintf(" limit $%d", idx)
		args = append(args, f.Limit)
	}

	rows, err := rs.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (rs *RBACStore) AssignmentsForPrincipal(ctx context.Context, principalID, principalType string) ([]rbac.Assignment, error) {
	return rs.ListAssignments(ctx, rbac.AssignmentFilter{PrincipalID: principalID, PrincipalType: principalType})
}

// setRolePermissions replaces the role's permission set, resolving actions
// through the permissions catalog.
func (rs *RBACStore) setRolePermissions(ctx context.Context, roleID string, actions []string) error {
	q := rs.s.q(ctx)
	if _, err := q.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, action := range actions {
		var permID string
		err := q.QueryRowContext(ctx, `select id from permissions where action = $1`, action).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s", rbac.ErrNotFound, action)
			}
			return err
		}
		if _, err := q.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			return err
		}
	}
	return nil
}

func (rs *RBACStore) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := rs.s.q(ctx).QueryContext(ctx, `
		select p.action
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.action
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (rs *RBACStore) scanRole(ctx context.Context, row rowScanner) (rbac.Role, error) {
	var (
		r         rbac.Role
		desc      sql.NullString
		rawScopes []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &desc, &r.IsSystem, &rawScopes, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return rbac.Role{}, err
	}
	r.Description = desc.String
	if len(rawScopes) > 0 {
		var scopes []string
		if err := json.Unmarshal(rawScopes, &scopes); err != nil {
			return rbac.Role{}, fmt.Errorf("decode scope_types: %w", err)
		}
		for _, s := range scopes {
			r.ScopeTypes = append(r.ScopeTypes, entity.Type(s))
		}
	}
	perms, err := rs.rolePermissions(ctx, r.ID)
	if err != nil {
		return rbac.Role{}, err
	}
	r.Permissions = perms
	return r, nil
}

func scanAssignment(row rowScanner) (rbac.Assignment, error) {
	var (
		a        rbac.Assignment
		entityID sql.NullString
		expires  sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.PrincipalID, &a.PrincipalType, &entityID, &a.RoleID, &a.EffectiveAt, &expires, &a.CreatedAt); err != nil {
		return rbac.Assignment{}, err
	}
	a.EntityID = entityID.String
	if expires.Valid {
		t := expires.Time.UTC()
		a.ExpiresAt = &t
	}
	return a, nil
}

func typeStrings(types []entity.Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
