package entity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"authgrid.org/internal/events"
	"authgrid.org/internal/ids"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/obs"
)

// maxDepth bounds ancestor walks. The cycle check makes walks terminate,
// but a corrupted store must not hang the resolver.
const maxDepth = 64

// Store describes persistence for the entity hierarchy.
type Store interface {
	Insert(ctx context.Context, e Entity) error
	Get(ctx context.Context, id string) (Entity, bool, error)
	FindByNameType(ctx context.Context, name string, typ Type) (Entity, bool, error)
	Update(ctx context.Context, e Entity) error
	List(ctx context.Context, f Filter) ([]Entity, error)
	Children(ctx context.Context, parentID string) ([]Entity, error)
}

// Recorder appends audit entries. Satisfied by *ledger.Service.
type Recorder interface {
	Append(ctx context.Context, rec ledger.Record) (ledger.Entry, error)
}

// EventSink publishes platform events. Satisfied by *events.Dispatcher.
type EventSink interface {
	Publish(ctx context.Context, msg events.Message) (events.PlatformEvent, error)
}

// TxRunner scopes a function to one storage transaction. Stores that have no
// transaction concept leave it nil and mutations run unscoped.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service implements entity lifecycle operations. Every mutation appends an
// audit entry in the same transaction; audit failure rolls the mutation back.
type Service struct {
	store Store
	audit Recorder
	sink  EventSink
	tx    TxRunner
	newID func() string
	now   func() time.Time
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

// NewService constructs an entity service.
func NewService(store Store, audit Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit recorder is required", ErrInvalidInput)
	}
	s := &Service{store: store, audit: audit, newID: ids.New, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create adds an entity. A (name, type) collision returns *ConflictError
// carrying the existing entity's id.
func (s *Service) Create(ctx context.Context, in CreateInput, actor ledger.Actor) (Entity, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Entity{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return Entity{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, in.Type)
	}

	var created Entity
	err := s.runInTx(ctx, func(ctx context.Context) error {
		if in.ParentID != "" {
			if _, ok, err := s.store.Get(ctx, in.ParentID); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("%w: parent %s", ErrNotFound, in.ParentID)
			}
		}
		if existing, ok, err := s.store.FindByNameType(ctx, in.Name, in.Type); err != nil {
			return err
		} else if ok {
			return &ConflictError{ExistingID: existing.ID, Name: in.Name, Type: in.Type}
		}

		now := s.now().UTC()
		created = Entity{
			ID:         s.newID(),
			Name:       in.Name,
			Type:       in.Type,
			Status:     StatusActive,
			ParentID:   in.ParentID,
			Attributes: cloneAttributes(in.Attributes),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.Insert(ctx, created); err != nil {
			return err
		}
		_, err := s.audit.Append(ctx, ledger.Record{
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			EntityID:   created.ID,
			EntityType: string(created.Type),
			Action:     "entity.create",
			Details: map[string]any{
				"name":      created.Name,
				"type":      string(created.Type),
				"parent_id": created.ParentID,
			},
		})
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	return created, nil
}

// Get returns one entity by id.
func (s *Service) Get(ctx context.Context, id string) (Entity, error) {
	e, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	if !ok {
		return Entity{}, fmt.Errorf("%w: entity %s", ErrNotFound, id)
	}
	return e, nil
}

// List returns entities matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Entity, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}

// Update patches an entity. Attribute maps are replaced wholesale, never
// mutated in place. Re-parenting that would introduce a cycle is rejected.
func (s *Service) Update(ctx context.Context, id string, upd Update, actor ledger.Actor) (Entity, error) {
	var updated Entity
	err := s.runInTx(ctx, func(ctx context.Context) error {
		current, ok, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: entity %s", ErrNotFound, id)
		}

		changed := map[string]any{}
		next := current
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
			}
			if name != current.Name {
				if existing, ok, err := s.store.FindByNameType(ctx, name, current.Type); err != nil {
					return err
				} else if ok && existing.ID != id {
					return &ConflictError{ExistingID: existing.ID, Name: name, Type: current.Type}
				}
				next.Name = name
				changed["name"] = name
			}
		}
		if upd.Status != nil {
			if !upd.Status.Valid() {
				return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
			}
			if *upd.Status != current.Status {
				next.Status = *upd.Status
				changed["status"] = string(*upd.Status)
			}
		}
		if upd.ParentID != nil && *upd.ParentID != current.ParentID {
			if err := s.checkParent(ctx, id, *upd.ParentID); err != nil {
				return err
			}
			next.ParentID = *upd.ParentID
			changed["parent_id"] = *upd.ParentID
		}
		if upd.Attributes != nil {
			next.Attributes = cloneAttributes(upd.Attributes)
			changed["attributes"] = true
		}
		if len(changed) == 0 {
			updated = current
			return nil
		}

		next.UpdatedAt = s.now().UTC()
		if err := s.store.Update(ctx, next); err != nil {
			return err
		}
		updated = next
		_, err = s.audit.Append(ctx, ledger.Record{
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			EntityID:   id,
			EntityType: string(next.Type),
			Action:     "entity.update",
			Details:    changed,
		})
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	return updated, nil
}

// Archive soft-deletes an entity and publishes entity.archived. Archiving an
// already-archived entity is a no-op returning the current row.
func (s *Service) Archive(ctx context.Context, id string, actor ledger.Actor) (Entity, error) {
	var (
		archived Entity
		changed  bool
	)
	err := s.runInTx(ctx, func(ctx context.Context) error {
		current, ok, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: entity %s", ErrNotFound, id)
		}
		if current.Status == StatusArchived {
			archived = current
			return nil
		}

		current.Status = StatusArchived
		current.UpdatedAt = s.now().UTC()
		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		archived = current
		changed = true
		_, err = s.audit.Append(ctx, ledger.Record{
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			EntityID:   id,
			EntityType: string(current.Type),
			Action:     "entity.archive",
		})
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	// Publish only after the transaction has committed so in-process
	// subscribers never act on a mutation that could still roll back.
	if changed && s.sink != nil {
		if _, err := s.sink.Publish(ctx, events.Message{
			EventType: "entity.archived",
			Payload: map[string]any{
				"entity_id":   id,
				"entity_type": string(archived.Type),
			},
		}); err != nil {
			// Delivery failure is recorded on the event row; the archive
			// itself has already been persisted and audited.
			obs.LogEvent("entity_archive_publish_failed", map[string]any{
				"entity_id": id,
				"error":     err.Error(),
			})
		}
	}
	return archived, nil
}

// Children returns the direct children of an entity.
func (s *Service) Children(ctx context.Context, parentID string) ([]Entity, error) {
	return s.store.Children(ctx, parentID)
}

// Ancestors walks the parent chain from id (exclusive) to the root.
func (s *Service) Ancestors(ctx context.Context, id string) ([]Entity, error) {
	e, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, id)
	}

	var chain []Entity
	seen := map[string]bool{id: true}
	cursor := e.ParentID
	for cursor != "" && len(chain) < maxDepth {
		if seen[cursor] {
			return nil, fmt.Errorf("%w: cyclic parent chain at %s", ErrInvalidInput, cursor)
		}
		seen[cursor] = true
		parent, ok, err := s.store.Get(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		chain = append(chain, parent)
		cursor = parent.ParentID
	}
	return chain, nil
}

// checkParent validates a re-parent target: it must exist and must not be id
// itself or one of id's descendants (which would close a cycle).
func (s *Service) checkParent(ctx context.Context, id, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == id {
		return fmt.Errorf("%w: entity cannot be its own parent", ErrInvalidInput)
	}
	parent, ok, err := s.store.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNotFound, parentID)
	}

	seen := map[string]bool{parentID: true}
	cursor := parent.ParentID
	for i := 0; cursor != "" && i < maxDepth; i++ {
		if cursor == id {
			return fmt.Errorf("%w: parent chain would form a cycle", ErrInvalidInput)
		}
		if seen[cursor] {
			return fmt.Errorf("%w: cyclic parent chain at %s", ErrInvalidInput, cursor)
		}
		seen[cursor] = true
		ancestor, ok, err := s.store.Get(ctx, cursor)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		cursor = ancestor.ParentID
	}
	return nil
}

func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}

func cloneAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
