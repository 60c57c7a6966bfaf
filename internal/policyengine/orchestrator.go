package policyengine

import (
	"fmt"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// PolicyOrchestrator composes a sequence of policies, each hook a
// left-to-right fold where every policy sees the canonical output of the
// previous one (§4.3). It also drives the BlockAssembler and implements
// AssemblerListener, translating block lifecycle events back into the
// fold over the matching streaming hook.
type PolicyOrchestrator struct {
	policies  []Policy
	assembler *BlockAssembler
	buffers   bool

	// currentCtx is the Context for the transaction currently being fed
	// through ProcessChunk; AssemblerListener callbacks need it but the
	// BlockAssembler interface has no room to carry it through Feed.
	currentCtx *Context

	terminated      bool
	terminateReason string

	// pending accumulates output chunks produced while processing the
	// current call to ProcessChunk; drained by ProcessChunk before
	// returning.
	pending []canonical.Chunk

	// buffer holds output for the currently open block when any policy
	// declares Buffers(); flushed (or discarded, if the block-complete
	// hook suppressed it) at block completion.
	buffer       []canonical.Chunk
	bufferActive bool
}

// NewPolicyOrchestrator builds an orchestrator over policies in
// configured order.
func NewPolicyOrchestrator(policies []Policy) *PolicyOrchestrator {
	o := &PolicyOrchestrator{policies: policies}
	for _, p := range policies {
		if b, ok := p.(Buffering); ok && b.Buffers() {
			o.buffers = true
		}
	}
	o.assembler = NewBlockAssembler(o)
	return o
}

// RunRequestHooks folds on_request over every policy that implements
// RequestHook. An error from any policy (typically a PolicyRejection)
// short-circuits the fold.
func (o *PolicyOrchestrator) RunRequestHooks(ctx *Context, req *canonical.Request) (*canonical.Request, error) {
	cur := req
	for _, p := range o.policies {
		h, ok := p.(RequestHook)
		if !ok {
			continue
		}
		next, err := runRecovered(p, func() (*canonical.Request, error) { return h.OnRequest(ctx, cur) })
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
	}
	return cur, nil
}

// RunResponseHooks folds on_response over every policy that implements
// ResponseHook (non-streaming path).
func (o *PolicyOrchestrator) RunResponseHooks(ctx *Context, resp *canonical.Response) (*canonical.Response, error) {
	cur := resp
	for _, p := range o.policies {
		h, ok := p.(ResponseHook)
		if !ok {
			continue
		}
		next, err := runRecovered(p, func() (*canonical.Response, error) { return h.OnResponse(ctx, cur) })
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
	}
	return cur, nil
}

// ProcessChunk feeds one upstream chunk through on_chunk_received, the
// block assembler, and whichever delta/lifecycle hooks fire as a result.
// It returns the chunks to write to policy_chunks and whether the stream
// should terminate.
func (o *PolicyOrchestrator) ProcessChunk(ctx *Context, chunk canonical.Chunk) (out []canonical.Chunk, terminated bool, err error) {
	if o.terminated {
		return nil, true, nil
	}
	o.currentCtx = ctx
	o.pending = nil
	ctx.recordChunk(chunk)

	toFeed, halt, err := o.foldChunkReceived(ctx, chunk)
	if err != nil {
		return nil, false, err
	}
	if halt {
		return o.drain(), true, nil
	}
	for _, c := range toFeed {
		if o.terminated {
			break
		}
		if err := o.feedSafely(c); err != nil {
			return nil, false, err
		}
	}
	return o.drain(), o.terminated, nil
}

func (o *PolicyOrchestrator) feedSafely(c canonical.Chunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(policyPanic); ok {
				err = pe.err
				return
			}
			panic(r)
		}
	}()
	o.assembler.Feed(c)
	return nil
}

func (o *PolicyOrchestrator) drain() []canonical.Chunk {
	out := o.pending
	o.pending = nil
	return out
}

// emit appends chunks to the output, respecting the active buffer.
func (o *PolicyOrchestrator) emit(chunks ...canonical.Chunk) {
	if len(chunks) == 0 {
		return
	}
	if o.bufferActive {
		o.buffer = append(o.buffer, chunks...)
		return
	}
	o.pending = append(o.pending, chunks...)
}

func (o *PolicyOrchestrator) foldChunkReceived(ctx *Context, chunk canonical.Chunk) (toFeed []canonical.Chunk, halt bool, err error) {
	cur := chunk
	for _, p := range o.policies {
		h, ok := p.(ChunkReceivedHook)
		if !ok {
			continue
		}
		res, hookErr := runRecovered(p, func() (HookResult, error) { return h.OnChunkReceived(ctx, cur) })
		if hookErr != nil {
			return nil, false, hookErr
		}
		switch res.Action {
		case ActionSuppress:
			return nil, false, nil
		case ActionReplace:
			if len(res.Chunks) == 0 {
				return nil, false, nil
			}
			cur = res.Chunks[0]
		case ActionInject:
			o.pending = append(o.pending, res.Chunks...)
		case ActionTerminate:
			o.terminated = true
			o.terminateReason = res.Reason
			o.pending = append(o.pending, res.Chunks...)
			return nil, true, nil
		}
	}
	return []canonical.Chunk{cur}, false, nil
}

// --- AssemblerListener ---

func (o *PolicyOrchestrator) OnBlockStarted(block canonical.Block) {
	if o.buffers {
		o.bufferActive = true
		o.buffer = nil
	}
	o.foldLifecycle(func(p Policy) (HookResult, bool, error) {
		h, ok := p.(BlockStartedHook)
		if !ok {
			return HookResult{}, false, nil
		}
		res, err := h.OnBlockStarted(o.currentCtx, block)
		return res, true, err
	}, nil)
}

func (o *PolicyOrchestrator) OnContentDelta(text string) {
	def := canonical.Chunk{Delta: canonical.Delta{Content: text}}
	o.foldLifecycle(func(p Policy) (HookResult, bool, error) {
		h, ok := p.(ContentDeltaHook)
		if !ok {
			return HookResult{}, false, nil
		}
		res, err := h.OnContentDelta(o.currentCtx, text)
		return res, true, err
	}, &def)
}

func (o *PolicyOrchestrator) OnToolCallDelta(id, name, argsFragment string) {
	def := canonical.Chunk{Delta: canonical.Delta{ToolCallID: id, ToolCallName: name, ToolCallArgsDiff: argsFragment}}
	o.foldLifecycle(func(p Policy) (HookResult, bool, error) {
		h, ok := p.(ToolCallDeltaHook)
		if !ok {
			return HookResult{}, false, nil
		}
		res, err := h.OnToolCallDelta(o.currentCtx, id, name, argsFragment)
		return res, true, err
	}, &def)
}

func (o *PolicyOrchestrator) OnThinkingDelta(text string) {
	def := canonical.Chunk{Delta: canonical.Delta{Thinking: text}}
	o.foldLifecycle(func(p Policy) (HookResult, bool, error) {
		h, ok := p.(ThinkingDeltaHook)
		if !ok {
			return HookResult{}, false, nil
		}
		res, err := h.OnThinkingDelta(o.currentCtx, text)
		return res, true, err
	}, &def)
}

func (o *PolicyOrchestrator) OnBlockComplete(block canonical.Block) {
	o.currentCtx.recordBlock(block)
	wasBuffering := o.bufferActive
	o.bufferActive = false
	flushed := o.buffer
	o.buffer = nil

	replacement := (*[]canonical.Chunk)(nil)
	o.foldLifecycle(func(p Policy) (HookResult, bool, error) {
		h, ok := p.(BlockCompleteHook)
		if !ok {
			return HookResult{}, false, nil
		}
		res, err := h.OnBlockComplete(o.currentCtx, block)
		if err == nil && res.Action == ActionReplace {
			replacement = &res.Chunks
		}
		return res, true, err
	}, nil)

	if wasBuffering && replacement == nil && !o.terminated {
		o.pending = append(o.pending, flushed...)
	}
}

func (o *PolicyOrchestrator) OnResponseComplete(finishReason canonical.FinishReason, usage *canonical.Usage) {
	def := canonical.Chunk{FinishReason: finishReason, Usage: usage}
	o.foldLifecycle(func(p Policy) (HookResult, bool, error) {
		h, ok := p.(ResponseCompleteHook)
		if !ok {
			return HookResult{}, false, nil
		}
		res, err := h.OnResponseComplete(o.currentCtx, finishReason, usage)
		return res, true, err
	}, &def)
	o.currentCtx.resetResponseState()
}

// foldLifecycle runs call against every policy that implements the
// relevant hook, applying the aggregate disposition to def (nil for
// events — block-started, block-complete — that carry no chunk of their
// own unless a policy explicitly replaces/injects one).
func (o *PolicyOrchestrator) foldLifecycle(call func(p Policy) (HookResult, bool, error), def *canonical.Chunk) {
	var cur []canonical.Chunk
	if def != nil {
		cur = []canonical.Chunk{*def}
	}
	suppressed := false
	for _, p := range o.policies {
		res, had, err := call(p)
		if err != nil {
			panic(policyPanic{err: wrapPolicyError(p, err)})
		}
		if !had {
			continue
		}
		switch res.Action {
		case ActionSuppress:
			suppressed = true
			cur = nil
		case ActionReplace:
			suppressed = false
			cur = res.Chunks
		case ActionInject:
			o.emit(res.Chunks...)
		case ActionTerminate:
			o.terminated = true
			o.terminateReason = res.Reason
			o.emit(res.Chunks...)
			return
		}
	}
	if suppressed {
		return
	}
	o.emit(cur...)
}

type policyPanic struct{ err error }

func runRecovered[T any](p Policy, call func() (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrapPolicyError(p, fmt.Errorf("panic: %v", r))
		}
	}()
	res, err = call()
	if err != nil {
		err = wrapPolicyError(p, err)
	}
	return res, err
}

func wrapPolicyError(p Policy, cause error) error {
	if ce, ok := cause.(*canonical.Error); ok {
		return ce
	}
	bestEffort := false
	if be, ok := p.(BestEffort); ok {
		bestEffort = be.BestEffort()
	}
	return canonical.NewPolicyError(p.Name(), cause, bestEffort)
}

// TerminateReason returns why the stream terminated, if it did.
func (o *PolicyOrchestrator) TerminateReason() string { return o.terminateReason }
