package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"authgrid.org/internal/ledger"
)

// ledgerLockKey serializes chain extension across all writers. Every append
// takes this advisory lock for the duration of its transaction, so sequence
// allocation and previous_hash resolution never race.
const ledgerLockKey = 874201

// LedgerStore implements ledger.Store over Postgres.
type LedgerStore struct {
	s *Store
}

var _ ledger.Store = (*LedgerStore)(nil)

const auditColumns = `sequence, previous_hash, entry_hash, hash_version, event_id, source,
	actor_id, actor_type, entity_id, entity_type, action, correlation_id, details, occurred_at`

func (ls *LedgerStore) AppendEntry(ctx context.Context, build ledger.BuildFunc) (ledger.Entry, error) {
	if ls.s.inTx(ctx) {
		return ls.appendEntry(ctx, build)
	}

	var entry ledger.Entry
	err := ls.s.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = ls.appendEntry(ctx, build)
		return err
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func (ls *LedgerStore) appendEntry(ctx context.Context, build ledger.BuildFunc) (ledger.Entry, error) {
	q := ls.s.q(ctx)
	if _, err := q.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return ledger.Entry{}, fmt.Errorf("acquire ledger lock: %w", err)
	}

	var (
		tipSeq  uint64
		tipHash string
	)
	err := q.QueryRowContext(ctx, `
		select sequence, entry_hash
		from audit_logs
		order by sequence desc
		limit 1
	`).Scan(&tipSeq, &tipHash)
	if errors.Is(err, sql.ErrNoRows) {
		tipSeq = 0
		tipHash = ledger.GenesisHash
	} else if err != nil {
		return ledger.Entry{}, err
	}

	entry, err := build(tipSeq+1, tipHash)
	if err != nil {
		return ledger.Entry{}, err
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("marshal details: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		insert into audit_logs (sequence, previous_hash, entry_hash, hash_version, event_id, source,
			actor_id, actor_type, entity_id, entity_type, action, correlation_id, details, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, entry.Sequence, entry.PreviousHash, entry.EntryHash, entry.HashVersion,
		nullIfEmpty(entry.EventID), entry.Source, nullIfEmpty(entry.ActorID), entry.ActorType,
		nullIfEmpty(entry.EntityID), nullIfEmpty(entry.EntityType), entry.Action,
		nullIfEmpty(entry.CorrelationID), details, entry.OccurredAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func (ls *LedgerStore) FindByEventID(ctx context.Context, eventID string) (ledger.Entry, bool, error) {
	row := ls.s.q(ctx).QueryRowContext(ctx, `
		select `+auditColumns+`
		from audit_logs
		where event_id = $1
	`, eventID)
	entry, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return entry, true, nil
}

func (ls *LedgerStore) EntryAt(ctx context.Context, seq uint64) (ledger.Entry, bool, error) {
	row := ls.s.q(ctx).QueryRowContext(ctx, `
		select `+auditColumns+`
		from audit_logs
		where sequence = $1
	`, seq)
	entry, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return entry, true, nil
}

func (ls *LedgerStore) Range(ctx context.Context, start, end uint64) ([]ledger.Entry, error) {
	query := `select ` + auditColumns + ` from audit_logs where 1=1`
	var args []any
	idx := 1
	if start > 0 {
		query += fmt.Sprintf(" and sequence >= $%d", idx)
		args = append(args, start)
		idx++
	}
	if end > 0 {
		query += fmt.Sprintf(" and sequence <= $%d", idx)
		args = append(args, end)
		idx++
	}
	query += " order by sequence"

	rows, err := ls.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

func (ls *LedgerStore) List(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	query := `select ` + auditColumns + ` from audit_logs where 1=1`
	var args []any
	idx := 1
	if f.ActorID != "" {
		query += fmt.Sprintf(" and actor_id = $%d", idx)
		args = append(args, f.ActorID)
		idx++
	}
	if f.EntityID != "" {
		query += fmt.Sprintf(" and entity_id = $%d", idx)
		args = append(args, f.EntityID)
		idx++
	}
	if f.Action != "" {
		query += fmt.Sprintf(" and action = $%d", idx)
		args = append(args, f.Action)
		idx++
	}
	if f.StartSeq > 0 {
		query += fmt.Sprintf(" and sequence >= $%d", idx)
		args = append(args, f.StartSeq)
		idx++
	}
	if f.EndSeq > 0 {
		query += fmt.Sprintf(" and sequence <= $%d", idx)
		args = append(args, f.EndSeq)
		idx++
	}
	query += fmt.Sprintf(" order by sequence limit $%d", idx)
	args = append(args, f.Limit)

	rows, err := ls.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

func scanAuditEntry(row rowScanner) (ledger.Entry, error) {
	var (
		entry         ledger.Entry
		eventID       sql.NullString
		actorID       sql.NullString
		entityID      sql.NullString
		entityType    sql.NullString
		correlationID sql.NullString
		rawDetails    []byte
	)
	err := row.Scan(&entry.Sequence, &entry.PreviousHash, &entry.EntryHash, &entry.HashVersion,
		&eventID, &entry.Source, &actorID, &entry.ActorType, &entityID, &entityType,
		&entry.Action, &correlationID, &rawDetails, &entry.OccurredAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	entry.EventID = eventID.String
	entry.ActorID = actorID.String
	entry.EntityID = entityID.String
	entry.EntityType = entityType.String
	entry.CorrelationID = correlationID.String
	entry.Details = map[string]any{}
	if len(rawDetails) > 0 {
		if err := json.Unmarshal(rawDetails, &entry.Details); err != nil {
			return ledger.Entry{}, fmt.Errorf("decode details: %w", err)
		}
	}
	entry.OccurredAt = entry.OccurredAt.UTC()
	return entry, nil
}

func collectAuditEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
