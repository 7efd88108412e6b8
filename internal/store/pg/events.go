package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"authgrid.org/internal/events"
)

// EventStore implements events.Store over Postgres.
type EventStore struct {
	s *Store
}

var _ events.Store = (*EventStore)(nil)

const eventColumns = `event_id, event_type, source, occurred_at, correlation_id, schema_version,
	payload, context, delivery_state, delivery_attempts, last_error, created_at, updated_at`

func (es *EventStore) Insert(ctx context.Context, ev events.PlatformEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	evContext, err := json.Marshal(ev.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = es.s.q(ctx).ExecContext(ctx, `
		insert into platform_events (event_id, event_type, source, occurred_at, correlation_id, schema_version,
			payload, context, delivery_state, delivery_attempts, last_error, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, ev.EventID, ev.EventType, ev.Source, ev.OccurredAt, nullIfEmpty(ev.CorrelationID), ev.SchemaVersion,
		payload, evContext, string(ev.DeliveryState), ev.DeliveryAttempts, nullIfEmpty(ev.LastError),
		ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: event %s", events.ErrConflict, ev.EventID)
		}
		return err
	}
	return nil
}

func (es *EventStore) Get(ctx context.Context, eventID string) (events.PlatformEvent, bool, error) {
	row := es.s.q(ctx).QueryRowContext(ctx, `
		select `+eventColumns+`
		from platform_events
		where event_id = $1
	`, eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return events.PlatformEvent{}, false, nil
	}
	if err != nil {
		return events.PlatformEvent{}, false, err
	}
	return ev, true, nil
}

func (es *EventStore) FindByCorrelation(ctx context.Context, source, correlationID string) (events.PlatformEvent, bool, error) {
	row := es.s.q(ctx).QueryRowContext(ctx, `
		select `+eventColumns+`
		from platform_events
		where source = $1 and correlation_id = $2
	`, source, correlationID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return events.PlatformEvent{}, false, nil
	}
	if err != nil {
		return events.PlatformEvent{}, false, err
	}
	return ev, true, nil
}

func (es *EventStore) UpdateDelivery(ctx context.Context, eventID string, state events.DeliveryState, attempts int, lastError string) error {
	res, err := es.s.q(ctx).ExecContext(ctx, `
		update platform_events
		set delivery_state = $2, delivery_attempts = $3, last_error = $4, updated_at = now()
		where event_id = $1
	`, eventID, string(state), attempts, nullIfEmpty(lastError))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: event %s", events.ErrNotFound, eventID)
	}
	return nil
}

func (es *EventStore) List(ctx context.Context, f events.Filter) ([]events.PlatformEvent, error) {
	query := `select ` + eventColumns + ` from platform_events where 1=1`
	var args []any
	idx := 1
	if f.EventType != "" {
		query += fmt.Sprintf(" and event_type = $%d", idx)
		args = append(args, f.EventType)
		idx++
	}
	if f.Source != "" {
		query += fmt.Sprintf(" and source = $%d", idx)
		args = append(args, f.Source)
		idx++
	}
	if f.DeliveryState != "" {
		query += fmt.Sprintf(" and delivery_state = $%d", idx)
		args = append(args, string(f.DeliveryState))
		idx++
	}
	query += fmt.Sprintf(" order by created_at limit $%d", idx)
	args = append(args, f.Limit)

	rows, err := es.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.PlatformEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (events.PlatformEvent, error) {
	var (
		ev            events.PlatformEvent
		correlationID sql.NullString
		lastError     sql.NullString
		state         string
		rawPayload    []byte
		rawContext    []byte
	)
	err := row.Scan(&ev.EventID, &ev.EventType, &ev.Source, &ev.OccurredAt, &correlationID, &ev.SchemaVersion,
		&rawPayload, &rawContext, &state, &ev.DeliveryAttempts, &lastError, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return events.PlatformEvent{}, err
	}
	ev.CorrelationID = correlationID.String
	ev.LastError = lastError.String
	ev.DeliveryState = events.DeliveryState(state)
	ev.Payload = map[string]any{}
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &ev.Payload); err != nil {
			return events.PlatformEvent{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	ev.Context = map[string]any{}
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &ev.Context); err != nil {
			return events.PlatformEvent{}, fmt.Errorf("decode context: %w", err)
		}
	}
	ev.OccurredAt = ev.OccurredAt.UTC()
	return ev, nil
}
