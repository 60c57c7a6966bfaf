package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
	"github.com/luthienresearch/luthien-gateway/internal/persistence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTransaction() *canonical.TransactionRecord {
	return &canonical.TransactionRecord{
		TransactionID: "txn-1",
		CallID:        "txn-1",
		SessionID:     "sess-1",
		PolicyClass:   "default",
		ClientFormat:  canonical.ClientFormatOpenAI,
		Stream:        false,
		OriginalRequest: &canonical.Request{
			Model:    "gpt-4",
			Messages: []canonical.Message{{Role: canonical.RoleUser}},
		},
		FinalRequest: &canonical.Request{
			Model:    "gpt-4",
			Messages: []canonical.Message{{Role: canonical.RoleUser}},
		},
		ReceivedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpstreamAt:  time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		CompletedAt: time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
	}
}

func TestStore_RecordAndGetTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleTransaction()
	if err := s.RecordTransaction(ctx, want); err != nil {
		t.Fatalf("RecordTransaction() error = %v", err)
	}

	got, err := s.GetTransaction(ctx, "txn-1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.SessionID != want.SessionID || got.PolicyClass != want.PolicyClass {
		t.Errorf("got = %+v, want %+v", got, want)
	}
	if got.OriginalRequest == nil || got.OriginalRequest.Model != "gpt-4" {
		t.Errorf("OriginalRequest not round-tripped: %+v", got.OriginalRequest)
	}
	if !got.CompletedAt.Equal(want.CompletedAt) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, want.CompletedAt)
	}
}

func TestStore_GetTransaction_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTransaction(context.Background(), "missing")
	if err != persistence.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_RecordTransaction_RejectedRequestHasNilFinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := sampleTransaction()
	tx.TransactionID, tx.CallID = "txn-2", "txn-2"
	tx.FinalRequest = nil
	tx.Err = &canonical.Error{Kind: canonical.ErrPolicyRejection, Reason: "blocked", PolicyName: "no-secrets"}

	if err := s.RecordTransaction(ctx, tx); err != nil {
		t.Fatalf("RecordTransaction() error = %v", err)
	}

	got, err := s.GetTransaction(ctx, "txn-2")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.FinalRequest != nil {
		t.Errorf("FinalRequest = %+v, want nil", got.FinalRequest)
	}
	if got.Err == nil || got.Err.Reason != "blocked" {
		t.Errorf("Err = %+v, want Reason=blocked", got.Err)
	}
}

func TestStore_RecordEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	evt := &observability.Event{
		ID:            "evt-1",
		Type:          observability.EventPolicyTimeout,
		Timestamp:     time.Now(),
		TransactionID: "txn-1",
		Name:          "policy hook timed out",
		Data:          map[string]any{"hook": "on_request"},
	}
	if err := s.RecordEvent(ctx, evt); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
}
