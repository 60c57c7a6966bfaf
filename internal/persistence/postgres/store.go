// Package postgres implements the persistence.Store interface over
// PostgreSQL (including CockroachDB's Postgres wire compatibility), the
// production backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

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
	stream            BOOLEAN NOT NULL,
	original_request  JSONB,
	final_request     JSONB,
	original_response JSONB,
	final_response    JSONB,
	received_at       TIMESTAMPTZ NOT NULL,
	upstream_at       TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	error             JSONB
);

CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	transaction_id TEXT,
	session_id     TEXT,
	name           TEXT,
	data           JSONB,
	error          TEXT,
	trace_id       TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_transaction_id ON events(transaction_id);
`

// Config configures connection pooling, mirroring the pool knobs the
// teacher's own Cockroach store exposes.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sane pool defaults for a single-gateway-process
// deployment.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Store is a PostgreSQL-backed persistence.Store.
type Store struct {
	db *sql.DB
}

var _ persistence.Store = (*Store)(nil)

// New opens a connection pool against dsn, applies schema, and pings to
// fail fast on a bad connection string.
func New(dsn string, cfg *Config) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// newWithDB wires a Store around an already-open *sql.DB, for tests that
// drive it with sqlmock.
func newWithDB(db *sql.DB) *Store {
	return &Store{db: db}
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tx.TransactionID, tx.CallID, tx.SessionID, tx.PolicyClass, string(tx.ClientFormat), tx.Stream,
		originalReq, finalReq, originalResp, finalResp,
		nullTime(tx.ReceivedAt), nullTime(tx.UpstreamAt), nullTime(tx.CompletedAt), errJSON,
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		evt.ID, string(evt.Type), evt.Timestamp, evt.TransactionID, evt.SessionID, evt.Name, data, evt.Error, evt.TraceID,
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
		FROM transactions WHERE transaction_id = $1`, transactionID)

	var (
		tx                                                      canonical.TransactionRecord
		clientFormat                                             string
		originalReq, finalReq, originalResp, finalResp, errJSON sql.NullString
		upstreamAt, completedAt                                  sql.NullTime
	)
	err := row.Scan(&tx.TransactionID, &tx.CallID, &tx.SessionID, &tx.PolicyClass, &clientFormat, &tx.Stream,
		&originalReq, &finalReq, &originalResp, &finalResp,
		&tx.ReceivedAt, &upstreamAt, &completedAt, &errJSON)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	tx.ClientFormat = canonical.ClientFormat(clientFormat)
	if upstreamAt.Valid {
		tx.UpstreamAt = upstreamAt.Time
	}
	if completedAt.Valid {
		tx.CompletedAt = completedAt.Time
	}
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

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
