package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventType categorizes a pipeline event for filtering and activity-stream
// display.
type EventType string

const (
	EventTransactionStart   EventType = "pipeline.transaction_start"
	EventTransactionEnd     EventType = "pipeline.transaction_end"
	EventPolicyRejection    EventType = "pipeline.policy_rejected"
	EventPolicyTimeout      EventType = "policy.timeout"
	EventClientDisconnected EventType = "pipeline.client_disconnected"
	EventUpstreamError      EventType = "upstream.error"
	EventCustom             EventType = "custom"
)

// Event is one entry in a transaction's timeline, persisted via the
// persistence interface's record_event and fanned out over the activity
// stream's pubsub broker.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	TransactionID string         `json:"transaction_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Name          string         `json:"name,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
}

// EventStore records and retrieves pipeline events. A persistence driver
// (sqlite/postgres) implements this alongside transaction recording.
type EventStore interface {
	Record(event *Event) error
	GetByTransactionID(transactionID string) ([]*Event, error)
	GetByType(eventType EventType, limit int) ([]*Event, error)
	Delete(olderThan time.Duration) (int, error)
}

// MemoryEventStore is an in-memory EventStore, useful for tests and for a
// persistence-less deployment.
type MemoryEventStore struct {
	mu      sync.RWMutex
	events  map[string]*Event
	byTxn   map[string][]string
	maxSize int
}

// NewMemoryEventStore creates an in-memory event store capped at maxSize
// events, evicting the oldest 10% when full.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEventStore{
		events:  make(map[string]*Event),
		byTxn:   make(map[string][]string),
		maxSize: maxSize,
	}
}

func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		s.evictOldest()
	}

	s.events[event.ID] = event
	if event.TransactionID != "" {
		s.byTxn[event.TransactionID] = append(s.byTxn[event.TransactionID], event.ID)
	}
	return nil
}

func (s *MemoryEventStore) GetByTransactionID(transactionID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTxn[transactionID]
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (s *MemoryEventStore) GetByType(eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryEventStore) Delete(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	for txn, ids := range s.byTxn {
		var remaining []string
		for _, id := range ids {
			if _, ok := s.events[id]; ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			delete(s.byTxn, txn)
		} else {
			s.byTxn[txn] = remaining
		}
	}
	return deleted, nil
}

func (s *MemoryEventStore) evictOldest() {
	toRemove := s.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}
	events := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	for i := 0; i < toRemove && i < len(events); i++ {
		delete(s.events, events[i].ID)
	}
}

// EventRecorder records events, extracting transaction/session ids and the
// active trace id from context, and mirrors a debug/error log line for
// each recording.
type EventRecorder struct {
	store  EventStore
	logger *Logger
}

// NewEventRecorder builds an EventRecorder over store, logging through logger.
func NewEventRecorder(store EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger}
}

// Record stores an event, filling in correlation ids from ctx.
func (r *EventRecorder) Record(ctx context.Context, eventType EventType, name string, data map[string]any) error {
	event := &Event{
		ID:            generateEventID(),
		Type:          eventType,
		Timestamp:     time.Now(),
		TransactionID: GetRequestID(ctx),
		SessionID:     GetSessionID(ctx),
		Name:          name,
		Data:          data,
		TraceID:       GetTraceID(ctx),
	}
	if r.logger != nil {
		r.logger.Debug(ctx, "event recorded", "event_type", string(eventType), "event_name", name, "event_id", event.ID)
	}
	return r.store.Record(event)
}

// RecordError stores an event carrying an error, merging err into data
// under the "error" key.
func (r *EventRecorder) RecordError(ctx context.Context, eventType EventType, name string, err error, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["error"] = err.Error()

	event := &Event{
		ID:            generateEventID(),
		Type:          eventType,
		Timestamp:     time.Now(),
		TransactionID: GetRequestID(ctx),
		SessionID:     GetSessionID(ctx),
		Name:          name,
		Data:          data,
		Error:         err.Error(),
		TraceID:       GetTraceID(ctx),
	}
	if r.logger != nil {
		r.logger.Error(ctx, "error event recorded", "event_type", string(eventType), "event_name", name, "event_id", event.ID, "error", err)
	}
	return r.store.Record(event)
}

func generateEventID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(buf[:])
}
