package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"authgrid.org/internal/entity"
)

// EntityStore implements entity.Store over Postgres.
type EntityStore struct {
	s *Store
}

var _ entity.Store = (*EntityStore)(nil)

const entityColumns = `id, name, type, status, parent_id, attributes, created_at, updated_at`

func (es *EntityStore) Insert(ctx context.Context, e entity.Entity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = es.s.q(ctx).ExecContext(ctx, `
		insert into entities (id, name, type, status, parent_id, attributes, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.Name, string(e.Type), string(e.Status), nullIfEmpty(e.ParentID), attrs, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				existing, found, lookupErr := es.FindByNameType(ctx, e.Name, e.Type)
				if lookupErr == nil && found {
					return &entity.ConflictError{ExistingID: existing.ID, Name: e.Name, Type: e.Type}
				}
				return entity.ErrConflict
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: parent %s", entity.ErrNotFound, e.ParentID)
			}
		}
		return err
	}
	return nil
}

func (es *EntityStore) Get(ctx context.Context, id string) (entity.Entity, bool, error) {
	row := es.s.q(ctx).QueryRowContext(ctx, `
		select `+entityColumns+`
		from entities
		where id = $1
	`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Entity{}, false, nil
	}
	if err != nil {
		return entity.Entity{}, false, err
	}
	return e, true, nil
}

func (es *EntityStore) FindByNameType(ctx context.Context, name string, typ entity.Type) (entity.Entity, bool, error) {
	row := es.s.q(ctx).QueryRowContext(ctx, `
		select `+entityColumns+`
		from entities
		where name = $1 and type = $2
	`, name, string(typ))
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Entity{}, false, nil
	}
	if err != nil {
		return entity.Entity{}, false, err
	}
	return e, true, nil
}

func (es *EntityStore) Update(ctx context.Context, e entity.Entity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	res, err := es.s.q(ctx).ExecContext(ctx, `
		update entities
		set name = $2, status = $3, parent_id = $4, attributes = $5, updated_at = $6
		where id = $1
	`, e.ID, e.Name, string(e.Status), nullIfEmpty(e.ParentID), attrs, e.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return entity.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: entity %s", entity.ErrNotFound, e.ID)
	}
	return nil
}

func (es *EntityStore) List(ctx context.Context, f entity.Filter) ([]entity.Entity, error) {
	query := `select ` + entityColumns + ` from entities where 1=1`
	var args []any
	idx := 1
	if f.Type != "" {
		query += fmt.Sprintf(" and type = $%d", idx)
		args = append(args, string(f.Type))
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" and status = $%d", idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.ParentID != "" {
		query += fmt.Sprintf(" and parent_id = $%d", idx)
		args = append(args, f.ParentID)
		idx++
	}
	query += fmt.Sprintf(" order by created_at limit $%d", idx)
	args = append(args, f.Limit)

	rows, err := es.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (es *EntityStore) Children(ctx context.Context, parentID string) ([]entity.Entity, error) {
	rows, err := es.s.q(ctx).QueryContext(ctx, `
		select `+entityColumns+`
		from entities
		where parent_id = $1
		order by created_at
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (entity.Entity, error) {
	var (
		e        entity.Entity
		typ      string
		status   string
		parentID sql.NullString
		rawAttrs []byte
	)
	if err := row.Scan(&e.ID, &e.Name, &typ, &status, &parentID, &rawAttrs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return entity.Entity{}, err
	}
	e.Type = entity.Type(typ)
	e.Status = entity.Status(status)
	if parentID.Valid {
		e.ParentID = parentID.String
	}
	e.Attributes = map[string]any{}
	if len(rawAttrs) > 0 {
		if err := json.Unmarshal(rawAttrs, &e.Attributes); err != nil {
			return entity.Entity{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return e, nil
}
