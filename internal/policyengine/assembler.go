package policyengine

import (
	"fmt"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// AssemblerListener receives block lifecycle events in the order defined
// by §4.2: on_block_started, exactly one of on_content_delta /
// on_tool_call_delta / on_thinking_delta per delta-bearing chunk,
// on_block_complete, and finally on_response_complete.
type AssemblerListener interface {
	OnBlockStarted(block canonical.Block)
	OnContentDelta(text string)
	OnToolCallDelta(id, name, argsFragment string)
	OnThinkingDelta(text string)
	OnBlockComplete(block canonical.Block)
	OnResponseComplete(finishReason canonical.FinishReason, usage *canonical.Usage)
}

type assemblerState int

const (
	stateIdle assemblerState = iota
	stateOpen
	stateFinished
)

type choiceAssembler struct {
	state       assemblerState
	block       canonical.Block
	thinkingSeq int
}

// BlockAssembler maintains one state machine per choice index, turning a
// Chunk stream into the block lifecycle events a policy or the
// PolicyOrchestrator consumes. It never allows more than one open block
// per choice, and calls OnBlockComplete exactly once for every block
// that ever opened.
type BlockAssembler struct {
	listener AssemblerListener
	choices  map[int]*choiceAssembler
	fired    bool // on_response_complete fired
}

// NewBlockAssembler creates an assembler that reports lifecycle events
// to listener.
func NewBlockAssembler(listener AssemblerListener) *BlockAssembler {
	return &BlockAssembler{listener: listener, choices: make(map[int]*choiceAssembler)}
}

// Feed advances the state machine by one chunk. It panics if called
// after on_response_complete has already fired for this stream — that
// would violate the "exactly one on_response_complete per stream"
// guarantee and indicates a caller bug, not a data problem.
func (a *BlockAssembler) Feed(chunk canonical.Chunk) {
	if a.fired {
		panic("policyengine: BlockAssembler.Feed called after on_response_complete")
	}

	ca, ok := a.choices[chunk.ChoiceIndex]
	if !ok {
		ca = &choiceAssembler{state: stateIdle}
		a.choices[chunk.ChoiceIndex] = ca
	}

	kind, hasDelta := classifyDelta(chunk.Delta)

	if hasDelta {
		if ca.state == stateOpen && ca.block.Type != kind {
			a.completeBlock(ca)
		}
		if ca.state != stateOpen {
			a.startBlock(ca, chunk, kind)
		}
		a.applyDelta(ca, chunk.Delta)
	}

	if chunk.FinishReason != canonical.FinishNone {
		if ca.state == stateOpen {
			a.completeBlock(ca)
		}
		ca.state = stateFinished
		a.maybeFireResponseComplete(chunk.FinishReason, chunk.Usage)
	}
}

func classifyDelta(d canonical.Delta) (canonical.BlockType, bool) {
	switch {
	case d.ToolCallID != "" || d.ToolCallArgsDiff != "":
		return canonical.BlockToolCall, true
	case d.Thinking != "":
		return canonical.BlockThinking, true
	case d.Content != "":
		return canonical.BlockText, true
	default:
		return "", false
	}
}

func (a *BlockAssembler) startBlock(ca *choiceAssembler, chunk canonical.Chunk, kind canonical.BlockType) {
	var id string
	switch kind {
	case canonical.BlockText:
		id = "content"
	case canonical.BlockToolCall:
		id = chunk.Delta.ToolCallID
	case canonical.BlockThinking:
		id = fmt.Sprintf("thinking-%d", ca.thinkingSeq)
		ca.thinkingSeq++
	}
	ca.block = canonical.Block{Type: kind, ID: id}
	if kind == canonical.BlockToolCall {
		ca.block.ToolName = chunk.Delta.ToolCallName
	}
	ca.state = stateOpen
	a.listener.OnBlockStarted(ca.block)
}

func (a *BlockAssembler) applyDelta(ca *choiceAssembler, d canonical.Delta) {
	switch ca.block.Type {
	case canonical.BlockText:
		ca.block.Text += d.Content
		a.listener.OnContentDelta(d.Content)
	case canonical.BlockToolCall:
		if d.ToolCallName != "" && ca.block.ToolName == "" {
			ca.block.ToolName = d.ToolCallName
		}
		ca.block.ArgsJSON += d.ToolCallArgsDiff
		a.listener.OnToolCallDelta(ca.block.ID, d.ToolCallName, d.ToolCallArgsDiff)
	case canonical.BlockThinking:
		ca.block.Text += d.Thinking
		a.listener.OnThinkingDelta(d.Thinking)
	}
}

func (a *BlockAssembler) completeBlock(ca *choiceAssembler) {
	ca.block.Done = true
	a.listener.OnBlockComplete(ca.block)
	ca.state = stateIdle
}

func (a *BlockAssembler) maybeFireResponseComplete(fr canonical.FinishReason, usage *canonical.Usage) {
	if a.fired {
		return
	}
	a.fired = true
	a.listener.OnResponseComplete(fr, usage)
}
