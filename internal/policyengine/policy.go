// Package policyengine implements the Policy Engine and Block Assembler:
// a composable chain of hooks invoked over every request and streaming
// response, and the state machine that turns a raw chunk stream into the
// block lifecycle events policies actually reason about.
package policyengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// Policy is the minimal identity every policy must have. A concrete
// policy implements whichever of the optional hook interfaces below it
// needs; an implementation satisfying none of them behaves as the
// identity policy.
type Policy interface {
	Name() string
}

// RequestHook lets a policy inspect or rewrite the inbound request, or
// reject it outright by returning a canonical.Error of kind
// ErrPolicyRejection.
type RequestHook interface {
	OnRequest(ctx *Context, req *canonical.Request) (*canonical.Request, error)
}

// ResponseHook lets a policy inspect or replace a non-streaming response.
type ResponseHook interface {
	OnResponse(ctx *Context, resp *canonical.Response) (*canonical.Response, error)
}

// ChunkReceivedHook fires for every chunk before block assembly.
type ChunkReceivedHook interface {
	OnChunkReceived(ctx *Context, chunk canonical.Chunk) (HookResult, error)
}

// BlockStartedHook fires when the assembler opens a new block.
type BlockStartedHook interface {
	OnBlockStarted(ctx *Context, block canonical.Block) (HookResult, error)
}

// ContentDeltaHook fires for each text fragment of an open text block.
type ContentDeltaHook interface {
	OnContentDelta(ctx *Context, text string) (HookResult, error)
}

// ToolCallDeltaHook fires for each fragment of an open tool-call block.
type ToolCallDeltaHook interface {
	OnToolCallDelta(ctx *Context, id, name, argsFragment string) (HookResult, error)
}

// ThinkingDeltaHook fires for each fragment of an open thinking block.
type ThinkingDeltaHook interface {
	OnThinkingDelta(ctx *Context, text string) (HookResult, error)
}

// BlockCompleteHook fires exactly once per block that ever opened.
type BlockCompleteHook interface {
	OnBlockComplete(ctx *Context, block canonical.Block) (HookResult, error)
}

// ResponseCompleteHook fires exactly once per stream, after the last
// block closes.
type ResponseCompleteHook interface {
	OnResponseComplete(ctx *Context, finishReason canonical.FinishReason, usage *canonical.Usage) (HookResult, error)
}

// Buffering marks a policy that needs the orchestrator to hold outbound
// chunks for the currently open block until on_block_complete fires for
// it, e.g. a judge policy that must see a whole tool call before any of
// its bytes reach the client.
type Buffering interface {
	Buffers() bool
}

// BestEffort marks an observation-only policy. Its hook errors become a
// PolicyError whose BestEffort method reports true; they are handled like
// any other PolicyError (fail closed: the stream ends with a dialect error
// frame), not logged and ignored.
type BestEffort interface {
	BestEffort() bool
}

// HookAction is the disposition a streaming hook returns for the chunk(s)
// it was handed.
type HookAction int

const (
	// ActionPassThrough emits the input unchanged. The zero value, so a
	// hook that returns an empty HookResult behaves as identity.
	ActionPassThrough HookAction = iota
	// ActionReplace substitutes Chunks for the input.
	ActionReplace
	// ActionSuppress drops the input; nothing is emitted downstream.
	ActionSuppress
	// ActionInject prepends Chunks to the outbound stream, then
	// continues processing the original input as normal.
	ActionInject
	// ActionTerminate closes the stream after optionally emitting
	// Chunks as a final replacement.
	ActionTerminate
)

// HookResult is returned by every streaming hook.
type HookResult struct {
	Action HookAction
	Chunks []canonical.Chunk
	Reason string
}

func PassThrough() HookResult { return HookResult{Action: ActionPassThrough} }

func Replace(chunks ...canonical.Chunk) HookResult {
	return HookResult{Action: ActionReplace, Chunks: chunks}
}

func Suppress() HookResult { return HookResult{Action: ActionSuppress} }

func Inject(chunks ...canonical.Chunk) HookResult {
	return HookResult{Action: ActionInject, Chunks: chunks}
}

func Terminate(reason string, final ...canonical.Chunk) HookResult {
	return HookResult{Action: ActionTerminate, Chunks: final, Reason: reason}
}

// EventEmitter publishes structured pipeline events (§4.6). Defined here
// rather than imported from internal/observability to keep this package
// free of a dependency on the process-wide event plumbing; the gateway
// wires a concrete emitter in when it constructs a Context.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, attrs map[string]any)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, map[string]any) {}

// Context is the PolicyContext threaded through every hook invocation
// for one transaction. Per-policy state lives only in Scratchpad, which
// is discarded at on_response_complete; policies must not mutate Request
// or the blocks slice they are handed.
type Context struct {
	TransactionID string
	Request       *canonical.Request

	Emitter EventEmitter
	Logger  *slog.Logger

	// Ctx is the per-request cancellation signal; a hook that honors
	// ctx.Done() allows the orchestrator to abandon it promptly.
	Ctx context.Context

	mu        sync.Mutex
	scratch   map[string]map[string]any
	blocks    []canonical.Block
	lastChunk canonical.Chunk
}

// NewContext builds a Context for one transaction.
func NewContext(ctx context.Context, transactionID string, req *canonical.Request, emitter EventEmitter, logger *slog.Logger) *Context {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		TransactionID: transactionID,
		Request:       req,
		Emitter:       emitter,
		Logger:        logger,
		Ctx:           ctx,
		scratch:       make(map[string]map[string]any),
	}
}

// Scratchpad returns the per-policy scratch map for policyName, creating
// it on first use.
func (c *Context) Scratchpad(policyName string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.scratch[policyName]
	if !ok {
		m = make(map[string]any)
		c.scratch[policyName] = m
	}
	return m
}

// Blocks returns the blocks assembled so far for this transaction's
// response, in emission order. Callers receive a copy; mutating it does
// not affect the orchestrator's view.
func (c *Context) Blocks() []canonical.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]canonical.Block(nil), c.blocks...)
}

func (c *Context) recordBlock(b canonical.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, b)
}

// LastChunk returns the most recently processed chunk for this
// transaction, used by policies that need upstream-order context.
func (c *Context) LastChunk() canonical.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChunk
}

func (c *Context) recordChunk(ch canonical.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChunk = ch
}

// resetResponseState discards response-scoped bookkeeping at
// on_response_complete: the assembled blocks and every policy's
// scratchpad.
func (c *Context) resetResponseState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = nil
	c.scratch = make(map[string]map[string]any)
}
