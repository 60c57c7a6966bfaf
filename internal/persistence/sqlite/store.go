// Package sqlite implements the persistence.Store interface over a
// pure-Go SQLite database, the default backend for local development and
// single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
	"github.com/luthienresearch/luthien-gateway/internal/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	transaction_id    TEXT PRIMARY KEY,
	call_id           TEXT NOT NULL,
	session_id        TEXT,
	policy_class      TEXT,
	client_format     TEXT NOT NULL,
	stream            INTEGER NOT NULL,
	original_request  TEXT,
	final_request     TEXT,
	original_response TEXT,
	final_response    TEXT,
	received_at       TEXT NOT NULL,
	upstream_at       TEXT,
	completed_at      TEXT,
	error             TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	transaction_id TEXT,
	session_id     TEXT,
	name           TEXT,
	data           TEXT,
	error          TEXT,
	trace_id       TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_transaction_id ON events(transaction_id);
`

// Store is a SQLite-backed persistence.Store.
type Store struct {
	db *sql.DB
}

var _ persistence.Store = (*Store)(nil)

// New opens (creating if absent) the SQLite database at path and ensures
// its schema exists. Use ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention churn

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) RecordTransaction(ctx context.Context, tx *canonical.TransactionRecord) error {
	originalReq, err := marshalOrNil(tx.OriginalRequest)
	if err != nil {
		return fmt.Errorf("marshal original_request: %w", err)
	}
	finalReq, err := marshalOrNil(tx.FinalRequest)
	if err != nil {
		return fmt.Errorf("marshal final_request: %w", err)
	}
	originalResp, err := marshalOrNil(tx.OriginalResponse)
	if err != nil {
		return fmt.Errorf("marshal original_response: %w", err)
	}
	finalResp, err := marshalOrNil(tx.FinalResponse)
	if err != nil {
		return fmt.Errorf("marshal final_response: %w", err)
	}
	errJSON, err := marshalOrNil(tx.Err)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			transaction_id, call_id, session_id, policy_class, client_format, stream,
			original_request, final_request, original_response, final_response,
			received_at, upstream_at, completed_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.TransactionID, tx.CallID, tx.SessionID, tx.PolicyClass, string(tx.ClientFormat), tx.Stream,
		originalReq, finalReq, originalResp, finalResp,
		formatTime(tx.ReceivedAt), formatTime(tx.UpstreamAt), formatTime(tx.CompletedAt), errJSON,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) RecordEvent(ctx context.Context, evt *observability.Event) error {
	data, err := marshalOrNil(evt.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, timestamp, transaction_id, session_id, name, data, error, trace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, string(evt.Type), formatTime(evt.Timestamp), evt.TransactionID, evt.SessionID, evt.Name, data, evt.Error, evt.TraceID,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*canonical.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, call_id, session_id, policy_class, client_format, stream,
			original_request, final_request, original_response, final_response,
			received_at, upstream_at, completed_at, error
		FROM transactions WHERE transaction_id = ?`, transactionID)

	var (
		tx                                                      canonical.TransactionRecord
		clientFormat                                             string
		originalReq, finalReq, originalResp, finalResp, errJSON sql.NullString
		receivedAt, upstreamAt, completedAt                      sql.NullString
	)
	err := row.Scan(&tx.TransactionID, &tx.CallID, &tx.SessionID, &tx.PolicyClass, &clientFormat, &tx.Stream,
		&originalReq, &finalReq, &originalResp, &finalResp,
		&receivedAt, &upstreamAt, &completedAt, &errJSON)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	tx.ClientFormat = canonical.ClientFormat(clientFormat)
	if err := unmarshalIfSet(originalReq, &tx.OriginalRequest); err != nil {
		return nil, fmt.Errorf("unmarshal original_request: %w", err)
	}
	if err := unmarshalIfSet(finalReq, &tx.FinalRequest); err != nil {
		return nil, fmt.Errorf("unmarshal final_request: %w", err)
	}
	if err := unmarshalIfSet(originalResp, &tx.OriginalResponse); err != nil {
		return nil, fmt.Errorf("unmarshal original_response: %w", err)
	}
	if err := unmarshalIfSet(finalResp, &tx.FinalResponse); err != nil {
		return nil, fmt.Errorf("unmarshal final_response: %w", err)
	}
	if err := unmarshalIfSet(errJSON, &tx.Err); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	tx.ReceivedAt = parseTime(receivedAt)
	tx.UpstreamAt = parseTime(upstreamAt)
	tx.CompletedAt = parseTime(completedAt)

	return &tx, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func marshalOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalIfSet[T any](ns sql.NullString, dst *T) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
