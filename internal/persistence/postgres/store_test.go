package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return mock, newWithDB(db)
}

func TestStore_RecordTransaction(t *testing.T) {
	mock, store := setupMockDB(t)

	tx := &canonical.TransactionRecord{
		TransactionID: "txn-1",
		CallID:        "txn-1",
		SessionID:     "sess-1",
		PolicyClass:   "default",
		ClientFormat:  canonical.ClientFormatAnthropic,
		Stream:        true,
		OriginalRequest: &canonical.Request{
			Model:    "claude-3-opus",
			Messages: []canonical.Message{{Role: canonical.RoleUser}},
		},
		ReceivedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(
			"txn-1", "txn-1", "sess-1", "default", "anthropic", true,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RecordTransaction(context.Background(), tx); err != nil {
		t.Fatalf("RecordTransaction() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_RecordEvent(t *testing.T) {
	mock, store := setupMockDB(t)

	evt := &observability.Event{
		ID:            "evt-1",
		Type:          observability.EventClientDisconnected,
		Timestamp:     time.Now(),
		TransactionID: "txn-1",
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs("evt-1", string(observability.EventClientDisconnected), sqlmock.AnyArg(), "txn-1",
			"", "", sqlmock.AnyArg(), "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RecordEvent(context.Background(), evt); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_GetTransaction_NotFound(t *testing.T) {
	mock, store := setupMockDB(t)

	mock.ExpectQuery("SELECT transaction_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetTransaction(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
}
