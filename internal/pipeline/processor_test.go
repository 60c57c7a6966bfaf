package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
	"github.com/luthienresearch/luthien-gateway/internal/persistence"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
	"github.com/luthienresearch/luthien-gateway/internal/upstream"
)

type fakeClient struct {
	resp       *canonical.Response
	completeErr *canonical.Error
	chunks     []canonical.Chunk
	streamErr  *canonical.Error
}

func (f *fakeClient) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, *canonical.Error) {
	return f.resp, f.completeErr
}

func (f *fakeClient) Stream(ctx context.Context, req *canonical.Request) (<-chan canonical.Chunk, <-chan *canonical.Error) {
	chunkCh := make(chan canonical.Chunk, len(f.chunks))
	errCh := make(chan *canonical.Error, 1)
	for _, c := range f.chunks {
		chunkCh <- c
	}
	close(chunkCh)
	if f.streamErr != nil {
		errCh <- f.streamErr
	}
	close(errCh)
	return chunkCh, errCh
}

func newTestRouter(c upstream.Client) *upstream.Router {
	r := upstream.NewRouter()
	r.Register("test-*", c)
	return r
}

type fakeStore struct {
	mu  sync.Mutex
	txs []*canonical.TransactionRecord
}

func (s *fakeStore) RecordTransaction(ctx context.Context, tx *canonical.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}
func (s *fakeStore) RecordEvent(ctx context.Context, evt *observability.Event) error { return nil }
func (s *fakeStore) GetTransaction(ctx context.Context, id string) (*canonical.TransactionRecord, error) {
	return nil, persistence.ErrNotFound
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) last() *canonical.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txs) == 0 {
		return nil
	}
	return s.txs[len(s.txs)-1]
}

type fakeBroker struct {
	mu     sync.Mutex
	events []*observability.Event
}

func (b *fakeBroker) Publish(ctx context.Context, topic string, evt *observability.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}
func (b *fakeBroker) Subscribe(ctx context.Context, topic string) (<-chan *observability.Event, func(), error) {
	ch := make(chan *observability.Event)
	return ch, func() {}, nil
}

// testMetrics is shared by every test: NewMetrics registers with the
// default Prometheus registry and panics if called a second time.
var testMetrics = observability.NewMetrics()

func newTestProcessor(client upstream.Client, policies []policyengine.Policy, store *fakeStore, broker *fakeBroker) *Processor {
	tracer, _ := observability.NewTracer(observability.TraceConfig{})
	return New(Config{
		Router:   newTestRouter(client),
		Policies: policies,
		Store:    store,
		Broker:   broker,
		Logger:   observability.NewLogger(observability.LogConfig{}),
		Metrics:  testMetrics,
		Tracer:   tracer,
	})
}

func chatBody(model string, stream bool) []byte {
	b, _ := json.Marshal(map[string]any{
		"model":    model,
		"stream":   stream,
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	return b
}

func waitForStore(t *testing.T, store *fakeStore) *canonical.TransactionRecord {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec := store.last(); rec != nil {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for transaction to persist")
	return nil
}

func TestProcess_NonStreamingHappyPath(t *testing.T) {
	client := &fakeClient{resp: &canonical.Response{
		ID:    "resp-1",
		Model: "test-model",
		Choices: []canonical.Choice{{
			Message:      canonical.Message{Role: canonical.RoleAssistant, Text: "hello"},
			FinishReason: canonical.FinishStop,
		}},
	}}
	store := &fakeStore{}
	broker := &fakeBroker{}
	p := newTestProcessor(client, nil, store, broker)

	out := p.Process(context.Background(), OpenAI, chatBody("test-model", false), "sess-1")

	if out.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", out.StatusCode)
	}
	if out.Stream {
		t.Fatal("expected non-streaming outcome")
	}
	if len(out.Body) == 0 {
		t.Fatal("expected a non-empty body")
	}

	rec := waitForStore(t, store)
	if rec.TransactionID != out.TransactionID {
		t.Errorf("persisted transaction id %q, want %q", rec.TransactionID, out.TransactionID)
	}
	if rec.Err != nil {
		t.Errorf("unexpected error on persisted record: %v", rec.Err)
	}
	if rec.FinalResponse == nil {
		t.Error("expected FinalResponse to be recorded")
	}
}

func TestProcess_OversizedRequestRejected(t *testing.T) {
	client := &fakeClient{}
	store := &fakeStore{}
	p := newTestProcessor(client, nil, store, &fakeBroker{})
	p.cfg.MaxRequestBytes = 8

	out := p.Process(context.Background(), OpenAI, chatBody("test-model", false), "")

	if out.StatusCode != canonical.ErrRequestTooLarge.HTTPStatus() {
		t.Fatalf("StatusCode = %d, want %d", out.StatusCode, canonical.ErrRequestTooLarge.HTTPStatus())
	}
}

func TestProcess_MalformedRequestRejected(t *testing.T) {
	p := newTestProcessor(&fakeClient{}, nil, &fakeStore{}, &fakeBroker{})

	out := p.Process(context.Background(), OpenAI, []byte("not json"), "")

	if out.StatusCode != canonical.ErrInvalidRequest.HTTPStatus() {
		t.Fatalf("StatusCode = %d, want %d", out.StatusCode, canonical.ErrInvalidRequest.HTTPStatus())
	}
}

type rejectingPolicy struct{ reason string }

func (r *rejectingPolicy) Name() string { return "rejector" }
func (r *rejectingPolicy) OnRequest(ctx *policyengine.Context, req *canonical.Request) (*canonical.Request, error) {
	return nil, canonical.NewPolicyRejection(r.Name(), r.reason)
}

func TestProcess_PolicyRejectsRequest(t *testing.T) {
	store := &fakeStore{}
	p := newTestProcessor(&fakeClient{}, []policyengine.Policy{&rejectingPolicy{reason: "blocked"}}, store, &fakeBroker{})

	out := p.Process(context.Background(), OpenAI, chatBody("test-model", false), "")

	if out.StatusCode != canonical.ErrPolicyRejection.HTTPStatus() {
		t.Fatalf("StatusCode = %d, want %d", out.StatusCode, canonical.ErrPolicyRejection.HTTPStatus())
	}
	rec := waitForStore(t, store)
	if rec.Err == nil || rec.Err.Kind != canonical.ErrPolicyRejection {
		t.Fatalf("persisted record error = %v, want ErrPolicyRejection", rec.Err)
	}
}

func TestProcess_UnknownModelIsUpstreamUnavailable(t *testing.T) {
	p := newTestProcessor(&fakeClient{}, nil, &fakeStore{}, &fakeBroker{})

	out := p.Process(context.Background(), OpenAI, chatBody("unregistered-model", false), "")

	if out.StatusCode != canonical.ErrUpstreamUnavailable.HTTPStatus() {
		t.Fatalf("StatusCode = %d, want %d", out.StatusCode, canonical.ErrUpstreamUnavailable.HTTPStatus())
	}
}

func TestProcess_CompleteErrorPropagates(t *testing.T) {
	client := &fakeClient{completeErr: canonical.NewUpstreamError("boom", errors.New("boom"))}
	store := &fakeStore{}
	p := newTestProcessor(client, nil, store, &fakeBroker{})

	out := p.Process(context.Background(), OpenAI, chatBody("test-model", false), "")

	if out.StatusCode != canonical.ErrUpstreamError.HTTPStatus() {
		t.Fatalf("StatusCode = %d, want %d", out.StatusCode, canonical.ErrUpstreamError.HTTPStatus())
	}
}

func TestProcess_StreamingHappyPath(t *testing.T) {
	client := &fakeClient{chunks: []canonical.Chunk{
		{ID: "1", Model: "test-model", Delta: canonical.Delta{Content: "hel"}},
		{ID: "1", Model: "test-model", Delta: canonical.Delta{Content: "lo"}},
		{ID: "1", Model: "test-model", FinishReason: canonical.FinishStop},
	}}
	store := &fakeStore{}
	p := newTestProcessor(client, nil, store, &fakeBroker{})

	out := p.Process(context.Background(), OpenAI, chatBody("test-model", true), "")

	if !out.Stream {
		t.Fatal("expected a streaming outcome")
	}

	var frames [][]byte
	for frame := range out.Frames {
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		t.Fatal("expected at least one wire frame")
	}

	rec := waitForStore(t, store)
	if rec.Err != nil {
		t.Errorf("unexpected error on persisted record: %v", rec.Err)
	}
}

func TestProcess_StreamingUpstreamErrorSurfacesErrorFrame(t *testing.T) {
	client := &fakeClient{streamErr: canonical.NewUpstreamError("provider dropped connection", errors.New("dropped"))}
	store := &fakeStore{}
	p := newTestProcessor(client, nil, store, &fakeBroker{})

	out := p.Process(context.Background(), OpenAI, chatBody("test-model", true), "")

	var frames [][]byte
	for frame := range out.Frames {
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		t.Fatal("expected an error frame")
	}

	rec := waitForStore(t, store)
	if rec.Err == nil || rec.Err.Kind != canonical.ErrUpstreamError {
		t.Fatalf("persisted record error = %v, want ErrUpstreamError", rec.Err)
	}
}

func TestProcess_AnthropicDialectHappyPath(t *testing.T) {
	body, _ := json.Marshal(map[string]any{
		"model":      "test-model",
		"max_tokens": 100,
		"messages":   []map[string]any{{"role": "user", "content": "hi"}},
	})
	client := &fakeClient{resp: &canonical.Response{
		ID:    "resp-1",
		Model: "test-model",
		Choices: []canonical.Choice{{
			Message:      canonical.Message{Role: canonical.RoleAssistant, Text: "hello"},
			FinishReason: canonical.FinishStop,
		}},
	}}
	p := newTestProcessor(client, nil, &fakeStore{}, &fakeBroker{})

	out := p.Process(context.Background(), Anthropic, body, "")

	if out.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", out.StatusCode)
	}
}
