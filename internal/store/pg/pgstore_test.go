package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/events"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/rbac"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestLedgerAppendEntryExtendsChain(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").WithArgs(ledgerLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select sequence, entry_hash.*from audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "entry_hash"}).AddRow(3, "tiphash"))
	mock.ExpectExec("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry, err := store.Ledger().AppendEntry(context.Background(), func(nextSeq uint64, previousHash string) (ledger.Entry, error) {
		if nextSeq != 4 {
			t.Fatalf("nextSeq = %d, want 4", nextSeq)
		}
		if previousHash != "tiphash" {
			t.Fatalf("previousHash = %q", previousHash)
		}
		return ledger.Entry{
			Sequence:     nextSeq,
			PreviousHash: previousHash,
			EntryHash:    "newhash",
			HashVersion:  ledger.HashVersion,
			Source:       ledger.DefaultSource,
			ActorType:    "user",
			Action:       "entity.create",
			Details:      map[string]any{},
			OccurredAt:   time.Now().UTC(),
		}, nil
	})
	if err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if entry.Sequence != 4 || entry.EntryHash != "newhash" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLedgerAppendEntryEmptyChainUsesGenesis(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").WithArgs(ledgerLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select sequence, entry_hash.*from audit_logs").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := store.Ledger().AppendEntry(context.Background(), func(nextSeq uint64, previousHash string) (ledger.Entry, error) {
		if nextSeq != 1 || previousHash != ledger.GenesisHash {
			t.Fatalf("first entry got seq=%d prev=%q", nextSeq, previousHash)
		}
		return ledger.Entry{Sequence: nextSeq, PreviousHash: previousHash, EntryHash: "h1",
			HashVersion: 1, Source: "s", ActorType: "user", Action: "a",
			Details: map[string]any{}, OccurredAt: time.Now().UTC()}, nil
	})
	if err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEntityInsertUniqueViolationMapsToConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into entities").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectQuery("select id, name, type, status, parent_id, attributes, created_at, updated_at.*from entities.*where name").
		WithArgs("Acme", "issuer").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "status", "parent_id", "attributes", "created_at", "updated_at"}).
			AddRow("ent-1", "Acme", "issuer", "active", nil, []byte("{}"), now, now))

	err := store.Entities().Insert(context.Background(), entity.Entity{
		ID: "ent-2", Name: "Acme", Type: entity.TypeIssuer, Status: entity.StatusActive,
		Attributes: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	})
	var conflict *entity.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *entity.ConflictError, got %v", err)
	}
	if conflict.ExistingID != "ent-1" {
		t.Fatalf("existing id = %s", conflict.ExistingID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("boom")
	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunInTxJoinsOuterTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update platform_events").
		WithArgs("evt-1", "succeeded", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		// Nested call must not open a second transaction.
		return store.RunInTx(ctx, func(ctx context.Context) error {
			return store.Events().UpdateDelivery(ctx, "evt-1", events.DeliverySucceeded, 1, "")
		})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEventUpdateDeliveryNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update platform_events").
		WithArgs("missing", "failed", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Events().UpdateDelivery(context.Background(), "missing", events.DeliveryFailed, 2, "broker down")
	if !errors.Is(err, events.ErrNotFound) {
		t.Fatalf("expected events.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertPermissionSendsEmptyDescriptionAsText(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// The description column is text not null default ''; an empty
	// description must arrive as '' rather than a driver NULL.
	mock.ExpectQuery("insert into permissions").
		WithArgs("perm-1", "document:upload", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "description", "created_at"}).
			AddRow("perm-1", "document:upload", "", now))

	created, fresh, err := store.RBAC().UpsertPermission(context.Background(), rbac.Permission{
		ID: "perm-1", Action: "document:upload", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertPermission: %v", err)
	}
	if !fresh || created.Action != "document:upload" {
		t.Fatalf("unexpected result %+v fresh=%v", created, fresh)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertRoleSendsEmptyDescriptionAsText(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into roles").
		WithArgs("role-1", "doc-manager", "", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("delete from role_permissions").
		WithArgs("role-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RBAC().InsertRole(context.Background(), rbac.Role{
		ID: "role-1", Name: "doc-manager", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("InsertRole: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
