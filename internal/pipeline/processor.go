// Package pipeline implements the Pipeline Processor (§4.5): the single
// entry point both HTTP handlers call into, covering process_request,
// send_upstream, process_response, and send_to_client, with the
// transaction_id generated once and threaded through tracing, events, and
// persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
	"github.com/luthienresearch/luthien-gateway/internal/orchestrator"
	"github.com/luthienresearch/luthien-gateway/internal/persistence"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
	"github.com/luthienresearch/luthien-gateway/internal/pubsub"
	"github.com/luthienresearch/luthien-gateway/internal/upstream"
)

// ActivityTopic is the pubsub topic the activity stream endpoint
// subscribes to for every transaction's event timeline.
const ActivityTopic = "activity"

// Config wires the Processor to the components it drives. Policies is
// the already-built, ordered policy chain (built once at startup via a
// policyengine.Registry); the Processor builds a fresh
// policyengine.PolicyOrchestrator from it per transaction, since that
// type carries per-request mutable state.
type Config struct {
	Router   *upstream.Router
	Policies []policyengine.Policy

	Store  persistence.Store
	Broker pubsub.Broker

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// MaxRequestBytes enforces the process_request size limit. Defaults
	// to 10 MiB if unset.
	MaxRequestBytes int64

	QueueCapacity   int
	StallThreshold  time.Duration
	OverallDeadline time.Duration
}

// Processor is the Pipeline Processor. It is safe for concurrent use; all
// per-transaction state is local to a Process call.
type Processor struct {
	cfg Config
}

// New builds a Processor. Zero-valued timing/capacity fields in cfg fall
// back to the orchestrator package's defaults.
func New(cfg Config) *Processor {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 10 << 20
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = orchestrator.DefaultQueueCapacity
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = orchestrator.DefaultStallThreshold
	}
	if cfg.OverallDeadline <= 0 {
		cfg.OverallDeadline = orchestrator.DefaultOverallDeadline
	}
	return &Processor{cfg: cfg}
}

// Outcome is what a dialect's HTTP handler writes back to the client.
// Exactly one of Body or Frames is meaningful, per Stream.
type Outcome struct {
	TransactionID string
	StatusCode    int
	ContentType   string
	Stream        bool

	// Body is the full response for the non-streaming path.
	Body []byte

	// Frames delivers dialect wire frames as they're produced for the
	// streaming path; it is closed once the stream ends, including the
	// error frame (if any) as its last item(s).
	Frames <-chan []byte
}

// Process runs process_request, send_upstream, and process_response/
// send_to_client for one inbound call. body is the raw HTTP request
// body; sessionIDHeader is the dialect-specific session header value
// (ignored by dialects, like Anthropic's, that read it from the wire
// body instead).
func (p *Processor) Process(ctx context.Context, d Dialect, body []byte, sessionIDHeader string) *Outcome {
	transactionID := uuid.NewString()
	receivedAt := time.Now()

	if int64(len(body)) > p.cfg.MaxRequestBytes {
		return p.reject(ctx, d, transactionID, "", receivedAt,
			canonical.NewRequestTooLarge(fmt.Sprintf("request body exceeds %d bytes", p.cfg.MaxRequestBytes)))
	}

	req, perr := d.ParseRequest(body, sessionIDHeader)
	if perr != nil {
		return p.reject(ctx, d, transactionID, "", receivedAt, perr)
	}

	ctx = observability.AddRequestID(ctx, transactionID)
	ctx = observability.AddSessionID(ctx, req.SessionID)
	ctx, rootSpan := p.cfg.Tracer.TraceTransaction(ctx, transactionID, req.SessionID, string(d.Format()), req.Stream)
	defer rootSpan.End()

	rec := &canonical.TransactionRecord{
		TransactionID:   transactionID,
		CallID:          transactionID,
		SessionID:       req.SessionID,
		ClientFormat:    d.Format(),
		Stream:          req.Stream,
		OriginalRequest: req.Clone(),
		ReceivedAt:      receivedAt,
	}
	p.emit(ctx, rec, observability.EventTransactionStart, "pipeline.client_request", map[string]any{
		"model": req.Model, "stream": req.Stream,
	})

	rec.PolicyClass = policyClassOf(p.cfg.Policies)

	polOrch := policyengine.NewPolicyOrchestrator(p.cfg.Policies)
	emitter := &hookEmitter{p: p, rec: rec}

	reqCtx, reqSpan := p.cfg.Tracer.TracePhase(ctx, "process_request")
	pctx := policyengine.NewContext(reqCtx, transactionID, req, emitter, nil)
	finalReq, hookErr := polOrch.RunRequestHooks(pctx, req)
	reqSpan.End()
	if hookErr != nil {
		cerr := asCanonicalError(hookErr)
		p.cfg.Tracer.RecordError(rootSpan, cerr)
		return p.finish(ctx, d, rec, cerr)
	}
	rec.FinalRequest = finalReq.Clone()
	p.emit(ctx, rec, observability.EventCustom, "transaction.final_request_recorded", nil)

	client, resolveErr := p.cfg.Router.Resolve(finalReq.Model)
	if resolveErr != nil {
		return p.finish(ctx, d, rec, canonical.NewUpstreamUnavailable(resolveErr.Error(), resolveErr))
	}

	upstreamCtx, upstreamSpan := p.cfg.Tracer.TracePhase(ctx, "send_upstream")
	rec.UpstreamAt = time.Now()

	if !finalReq.Stream {
		resp, cerr := client.Complete(upstreamCtx, finalReq)
		upstreamSpan.End()
		if cerr != nil {
			p.recordUpstreamMetric(finalReq.Model, false)
			return p.finish(ctx, d, rec, cerr)
		}
		p.recordUpstreamMetric(finalReq.Model, true)
		return p.processNonStreaming(ctx, d, rec, polOrch, pctx, resp)
	}

	chunks, errs := client.Stream(upstreamCtx, finalReq)
	upstreamSpan.End()
	return p.processStreaming(ctx, d, rec, polOrch, pctx, chunks, errs)
}

func (p *Processor) processNonStreaming(ctx context.Context, d Dialect, rec *canonical.TransactionRecord, polOrch *policyengine.PolicyOrchestrator, pctx *policyengine.Context, resp *canonical.Response) *Outcome {
	_, respSpan := p.cfg.Tracer.TracePhase(ctx, "process_response")
	defer respSpan.End()

	rec.OriginalResponse = resp.Clone()
	finalResp, hookErr := polOrch.RunResponseHooks(pctx, resp)
	if hookErr != nil {
		cerr := asCanonicalError(hookErr)
		return p.finish(ctx, d, rec, cerr)
	}
	rec.FinalResponse = finalResp.Clone()

	body, err := d.FormatResponse(finalResp)
	if err != nil {
		return p.finish(ctx, d, rec, canonical.NewInternal(err))
	}

	rec.CompletedAt = time.Now()
	p.persist(rec)
	p.emit(ctx, rec, observability.EventTransactionEnd, "transaction.response_recorded", map[string]any{
		"duration_ms": rec.Duration().Milliseconds(),
	})

	return &Outcome{
		TransactionID: rec.TransactionID,
		StatusCode:    200,
		ContentType:   d.ContentType(),
		Body:          body,
	}
}

func (p *Processor) processStreaming(ctx context.Context, d Dialect, rec *canonical.TransactionRecord, polOrch *policyengine.PolicyOrchestrator, pctx *policyengine.Context, chunks <-chan canonical.Chunk, errs <-chan *canonical.Error) *Outcome {
	respCtx, respSpan := p.cfg.Tracer.TracePhase(ctx, "process_response")

	queues := orchestrator.NewQueues(p.cfg.QueueCapacity)
	cctx, cancel := context.WithCancelCause(respCtx)
	frames := d.NewFrameFormatter(rec.TransactionID, rec.FinalRequest.Model)
	orch := orchestrator.New(queues, polOrch, pctx, frames, cancel, p.cfg.StallThreshold, p.cfg.OverallDeadline)

	go feedUpstreamChunks(cctx, cancel, queues, chunks, errs)

	resultCh := make(chan orchestrator.Result, 1)
	go func() {
		resultCh <- orch.Run(cctx)
	}()

	out := make(chan []byte, p.cfg.QueueCapacity)
	go func() {
		defer close(out)
		for frame := range queues.WireFrames {
			out <- frame
		}
		result := <-resultCh
		respSpan.End()
		if result.Err != nil {
			for _, b := range frames.FormatErrorFrame(result.Err) {
				out <- b
			}
		}
		p.finishStream(ctx, rec, pctx, result)
	}()

	return &Outcome{
		TransactionID: rec.TransactionID,
		StatusCode:    200,
		ContentType:   d.ContentType(),
		Stream:        true,
		Frames:        out,
	}
}

// feedUpstreamChunks pushes the upstream client's chunk stream into
// queues.UpstreamChunks, closing it at end-of-stream. An upstream error
// cancels cctx with a cause the orchestrator recognizes distinctly from
// a stall, deadline, or client disconnect.
func feedUpstreamChunks(cctx context.Context, cancel context.CancelCauseFunc, queues *orchestrator.Queues, chunks <-chan canonical.Chunk, errs <-chan *canonical.Error) {
	defer close(queues.UpstreamChunks)
	for chunks != nil || errs != nil {
		select {
		case <-cctx.Done():
			return
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			select {
			case queues.UpstreamChunks <- c:
			case <-cctx.Done():
				return
			}
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if e != nil {
				cancel(orchestrator.NewUpstreamFailureCause(e))
			}
			return
		}
	}
}

func (p *Processor) finishStream(ctx context.Context, rec *canonical.TransactionRecord, pctx *policyengine.Context, result orchestrator.Result) {
	rec.CompletedAt = time.Now()
	rec.FinalResponse = &canonical.Response{
		Model:   rec.FinalRequest.Model,
		Choices: blocksToChoices(pctx.Blocks()),
	}
	rec.Err = result.Err

	p.persist(rec)
	if result.Err != nil {
		p.recordUpstreamMetric(rec.FinalRequest.Model, result.Err.Kind != canonical.ErrUpstreamError && result.Err.Kind != canonical.ErrUpstreamUnavailable)
		p.emit(ctx, rec, eventTypeForError(result.Err), "pipeline."+string(result.Err.Kind), map[string]any{
			"reason": result.Err.Reason,
		})
		return
	}
	p.recordUpstreamMetric(rec.FinalRequest.Model, true)
	if result.TerminateReason != "" {
		p.emit(ctx, rec, observability.EventPolicyRejection, "policy.terminated", map[string]any{
			"reason": result.TerminateReason,
		})
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.PolicyRejections.WithLabelValues(rec.PolicyClass, result.TerminateReason).Inc()
		}
		return
	}
	p.emit(ctx, rec, observability.EventTransactionEnd, "transaction.response_recorded", map[string]any{
		"duration_ms": rec.Duration().Milliseconds(),
	})
}

// blocksToChoices renders the assembled blocks of a streamed response
// into a single Choice for the transaction record; the wire frames
// already reached the client, this is only for persistence/replay.
func blocksToChoices(blocks []canonical.Block) []canonical.Choice {
	if len(blocks) == 0 {
		return nil
	}
	msg := canonical.Message{Role: canonical.RoleAssistant}
	for _, b := range blocks {
		switch b.Type {
		case canonical.BlockText:
			msg.Parts = append(msg.Parts, canonical.ContentPart{Type: canonical.PartText, Text: b.Text})
		case canonical.BlockToolCall:
			msg.Parts = append(msg.Parts, canonical.ContentPart{
				Type:        canonical.PartToolUse,
				ToolUseID:   b.ID,
				ToolName:    b.ToolName,
				ToolArgsRaw: json.RawMessage(b.ArgsJSON),
			})
		case canonical.BlockThinking:
			msg.Parts = append(msg.Parts, canonical.ContentPart{Type: canonical.PartThinking, Thinking: b.Text})
		}
	}
	return []canonical.Choice{{Message: msg}}
}

// policyClassOf renders the configured policy chain as the
// TransactionRecord's PolicyClass: each policy's Name() joined by "+",
// reflecting that a transaction's policy set is typically composed of
// several policies rather than exactly one.
func policyClassOf(policies []policyengine.Policy) string {
	if len(policies) == 0 {
		return ""
	}
	names := make([]string, len(policies))
	for i, pol := range policies {
		names[i] = pol.Name()
	}
	class := names[0]
	for _, n := range names[1:] {
		class += "+" + n
	}
	return class
}

func eventTypeForError(e *canonical.Error) observability.EventType {
	switch e.Kind {
	case canonical.ErrPolicyTimeout:
		return observability.EventPolicyTimeout
	case canonical.ErrClientDisconnected:
		return observability.EventClientDisconnected
	case canonical.ErrUpstreamError, canonical.ErrUpstreamUnavailable:
		return observability.EventUpstreamError
	case canonical.ErrPolicyRejection:
		return observability.EventPolicyRejection
	default:
		return observability.EventCustom
	}
}

// reject builds a transaction record for a failure that happened before
// a canonical.Request existed (oversized body, dialect parse failure).
func (p *Processor) reject(ctx context.Context, d Dialect, transactionID, sessionID string, receivedAt time.Time, cerr *canonical.Error) *Outcome {
	rec := &canonical.TransactionRecord{
		TransactionID: transactionID,
		CallID:        transactionID,
		SessionID:     sessionID,
		ClientFormat:  d.Format(),
		ReceivedAt:    receivedAt,
	}
	return p.finish(ctx, d, rec, cerr)
}

// finish freezes rec with cerr, persists it, emits the matching event,
// and formats the dialect-native error response (§7).
func (p *Processor) finish(ctx context.Context, d Dialect, rec *canonical.TransactionRecord, cerr *canonical.Error) *Outcome {
	rec.Err = cerr
	rec.CompletedAt = time.Now()
	p.persist(rec)
	p.emit(ctx, rec, eventTypeForError(cerr), "pipeline."+string(cerr.Kind), map[string]any{"reason": cerr.Reason})
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ErrorCounter.WithLabelValues(string(cerr.Kind)).Inc()
	}

	return &Outcome{
		TransactionID: rec.TransactionID,
		StatusCode:    cerr.Kind.HTTPStatus(),
		ContentType:   d.ContentType(),
		Body:          d.FormatError(cerr),
	}
}

// persist writes rec to the configured Store in the background; a slow
// or unavailable store must never hold up the client response, which
// has already been formatted by the time this runs.
func (p *Processor) persist(rec *canonical.TransactionRecord) {
	if p.cfg.Store == nil {
		return
	}
	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.cfg.Store.RecordTransaction(storeCtx, rec); err != nil && p.cfg.Logger != nil {
			p.cfg.Logger.Error(storeCtx, "failed to persist transaction", "transaction_id", rec.TransactionID, "error", err)
		}
	}()
}

// emit records and publishes one pipeline event for rec's transaction.
func (p *Processor) emit(ctx context.Context, rec *canonical.TransactionRecord, eventType observability.EventType, name string, data map[string]any) {
	evt := &observability.Event{
		Type:          eventType,
		Timestamp:     time.Now(),
		TransactionID: rec.TransactionID,
		SessionID:     rec.SessionID,
		Name:          name,
		Data:          data,
		TraceID:       observability.GetTraceID(ctx),
	}
	if p.cfg.Store != nil {
		go func() {
			storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = p.cfg.Store.RecordEvent(storeCtx, evt)
		}()
	}
	if p.cfg.Broker != nil {
		_ = p.cfg.Broker.Publish(ctx, ActivityTopic, evt)
	}
}

func (p *Processor) recordUpstreamMetric(model string, ok bool) {
	if p.cfg.Metrics == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	p.cfg.Metrics.UpstreamRequestCounter.WithLabelValues("", model, status).Inc()
}

// asCanonicalError asserts err is a *canonical.Error, which
// policyengine's hook runners always produce; the fallback only
// protects against a future hook path that forgets to wrap.
func asCanonicalError(err error) *canonical.Error {
	if ce, ok := err.(*canonical.Error); ok {
		return ce
	}
	return canonical.NewInternal(err)
}

// hookEmitter adapts the Processor's event plumbing to the
// policyengine.EventEmitter interface, which deliberately has no
// dependency on internal/observability.
type hookEmitter struct {
	p   *Processor
	rec *canonical.TransactionRecord
}

func (h *hookEmitter) Emit(ctx context.Context, eventType string, attrs map[string]any) {
	h.p.emit(ctx, h.rec, observability.EventCustom, eventType, attrs)
}
