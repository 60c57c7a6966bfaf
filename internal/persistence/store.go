// Package persistence defines the storage interface the pipeline freezes a
// transaction record and its event timeline into, plus the two concrete
// backends (sqlite, postgres) that implement it.
package persistence

import (
	"context"
	"errors"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
)

// ErrNotFound is returned by GetTransaction when no record matches the id.
var ErrNotFound = errors.New("persistence: transaction not found")

// Store is the `persistence` interface handle named in the gateway's
// configuration (record_transaction, record_event). The pipeline calls
// RecordTransaction exactly once per transaction, after the record is
// frozen; RecordEvent is called as events occur on the transaction's
// timeline.
type Store interface {
	RecordTransaction(ctx context.Context, tx *canonical.TransactionRecord) error
	RecordEvent(ctx context.Context, evt *observability.Event) error

	// GetTransaction retrieves a previously recorded transaction by id,
	// returning ErrNotFound if none exists.
	GetTransaction(ctx context.Context, transactionID string) (*canonical.TransactionRecord, error)

	Close() error
}
