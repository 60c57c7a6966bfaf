package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

type openBlock struct {
	index  int
	typ    canonical.BlockType
	toolID string
}

// Formatter renders a canonical Chunk stream as Anthropic Messages SSE
// frames. It is the single place that knows Anthropic block indexing
// (§4.1 of the design notes) — policies and the rest of the pipeline
// never see indices. One Formatter is created per streaming request and
// is not safe for concurrent use.
type Formatter struct {
	messageID string
	model     string

	nextIndex int
	open      *openBlock

	inputTokens  int
	outputTokens int

	done bool
}

// NewFormatter creates a Formatter for one streaming response.
func NewFormatter(messageID, model string) *Formatter {
	return &Formatter{messageID: messageID, model: model}
}

// MessageStart returns the message_start frame. Callers must emit this
// before any frame returned by FormatChunk.
func (f *Formatter) MessageStart() []byte {
	return sendEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            f.messageID,
			"type":          "message",
			"role":          "assistant",
			"content":       []any{},
			"model":         f.model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

// FormatChunk consumes one canonical Chunk and returns zero or more SSE
// frames. Only choice index 0 is formatted; Anthropic has no concept of
// parallel candidates, so additional choices from an upstream that
// supports n>1 are dropped here.
func (f *Formatter) FormatChunk(c canonical.Chunk) ([][]byte, error) {
	if f.done || c.ChoiceIndex != 0 {
		return nil, nil
	}

	var frames [][]byte

	if c.Usage != nil {
		f.inputTokens = c.Usage.InputTokens
		f.outputTokens = c.Usage.OutputTokens
	}

	kind, toolID := classify(c.Delta)
	if kind != "" {
		if f.open != nil && (f.open.typ != kind || (kind == canonical.BlockToolCall && f.open.toolID != toolID)) {
			frames = append(frames, f.closeOpenBlock())
		}
		if f.open == nil {
			frames = append(frames, f.openBlock(kind, toolID, c.Delta))
		}
		frames = append(frames, f.deltaFrame(kind, c.Delta))
	}

	if c.FinishReason != canonical.FinishNone {
		if f.open != nil {
			frames = append(frames, f.closeOpenBlock())
		}
		stopReason := mapFinishReason(c.FinishReason)
		frames = append(frames, f.messageDelta(stopReason))
		frames = append(frames, f.messageStop())
		f.done = true
	}

	return frames, nil
}

func classify(d canonical.Delta) (canonical.BlockType, string) {
	switch {
	case d.ToolCallID != "" || d.ToolCallArgsDiff != "":
		return canonical.BlockToolCall, d.ToolCallID
	case d.Thinking != "":
		return canonical.BlockThinking, ""
	case d.Content != "":
		return canonical.BlockText, ""
	default:
		return "", ""
	}
}

func (f *Formatter) openBlock(kind canonical.BlockType, toolID string, d canonical.Delta) []byte {
	idx := f.nextIndex
	f.nextIndex++
	f.open = &openBlock{index: idx, typ: kind, toolID: toolID}

	var block map[string]any
	switch kind {
	case canonical.BlockText:
		block = map[string]any{"type": "text", "text": ""}
	case canonical.BlockThinking:
		block = map[string]any{"type": "thinking", "thinking": ""}
	case canonical.BlockToolCall:
		block = map[string]any{"type": "tool_use", "id": toolID, "name": d.ToolCallName, "input": map[string]any{}}
	}
	return sendEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         idx,
		"content_block": block,
	})
}

func (f *Formatter) deltaFrame(kind canonical.BlockType, d canonical.Delta) []byte {
	var delta map[string]any
	switch kind {
	case canonical.BlockText:
		delta = map[string]any{"type": "text_delta", "text": d.Content}
	case canonical.BlockThinking:
		delta = map[string]any{"type": "thinking_delta", "thinking": d.Thinking}
	case canonical.BlockToolCall:
		delta = map[string]any{"type": "input_json_delta", "partial_json": d.ToolCallArgsDiff}
	}
	return sendEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": f.open.index,
		"delta": delta,
	})
}

func (f *Formatter) closeOpenBlock() []byte {
	idx := f.open.index
	f.open = nil
	return sendEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	})
}

func (f *Formatter) messageDelta(stopReason string) []byte {
	return sendEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": f.outputTokens},
	})
}

func (f *Formatter) messageStop() []byte {
	return sendEvent("message_stop", map[string]any{"type": "message_stop"})
}

func mapFinishReason(fr canonical.FinishReason) string {
	switch fr {
	case canonical.FinishStop:
		return "end_turn"
	case canonical.FinishLength:
		return "max_tokens"
	case canonical.FinishToolCalls:
		return "tool_use"
	case canonical.FinishContentFilter:
		return "refusal"
	default:
		return "end_turn"
	}
}

func sendEvent(eventType string, payload map[string]any) []byte {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(`{}`)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, b))
}

// FormatResponse renders a canonical non-streaming Response as an
// Anthropic Messages body.
func FormatResponse(r *canonical.Response) ([]byte, error) {
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	choice := r.Choices[0]
	wr := wireResponse{
		ID:    r.ID,
		Type:  "message",
		Role:  "assistant",
		Model: r.Model,
	}
	for _, p := range choice.Message.Parts {
		wr.Content = append(wr.Content, formatBlock(p))
	}
	if choice.Message.Text != "" {
		wr.Content = append(wr.Content, wireContentBlock{Type: "text", Text: choice.Message.Text})
	}
	if choice.FinishReason != canonical.FinishNone {
		sr := mapFinishReason(choice.FinishReason)
		wr.StopReason = &sr
	}
	if r.Usage != nil {
		wr.Usage = wireUsage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens}
	}
	return json.Marshal(wr)
}

func formatBlock(p canonical.ContentPart) wireContentBlock {
	switch p.Type {
	case canonical.PartText:
		return wireContentBlock{Type: "text", Text: p.Text}
	case canonical.PartToolUse:
		return wireContentBlock{Type: "tool_use", ID: p.ToolUseID, Name: p.ToolName, Input: p.ToolArgsRaw}
	case canonical.PartThinking:
		return wireContentBlock{Type: "thinking", Thinking: p.Thinking}
	case canonical.PartImage:
		return wireContentBlock{Type: "image", Source: &wireImageSource{Type: "url", URL: p.ImageURI, MediaType: p.ImageMime}}
	default:
		return wireContentBlock{Type: "text"}
	}
}
