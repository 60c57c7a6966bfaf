package openai

import (
	"encoding/json"
	"fmt"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// FormatRequest renders a canonical Request back to an OpenAI wire body.
func FormatRequest(r *canonical.Request) ([]byte, error) {
	wr := wireRequest{
		Model:       r.Model,
		Stream:      r.Stream,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
	}
	if len(r.Stop) > 0 {
		b, err := json.Marshal(r.Stop)
		if err != nil {
			return nil, err
		}
		wr.Stop = b
	}
	for _, m := range r.Messages {
		wr.Messages = append(wr.Messages, formatMessage(m))
	}
	for _, t := range r.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireToolSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema,
			},
		})
	}
	return json.Marshal(wr)
}

func formatMessage(m canonical.Message) wireMessage {
	wm := wireMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}
	if !m.HasParts() {
		if m.Text != "" {
			b, _ := json.Marshal(m.Text)
			wm.Content = b
		}
		return wm
	}
	var parts []wireContentPart
	for _, p := range m.Parts {
		switch p.Type {
		case canonical.PartText:
			parts = append(parts, wireContentPart{Type: "text", Text: p.Text})
		case canonical.PartImage:
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURI}})
		case canonical.PartToolUse:
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   p.ToolUseID,
				Type: "function",
				Function: wireToolFunction{
					Name:      p.ToolName,
					Arguments: string(p.ToolArgsRaw),
				},
			})
		case canonical.PartToolResult:
			if b, err := json.Marshal(p.ResultText); err == nil {
				wm.Content = b
			}
		}
	}
	if len(parts) > 0 {
		b, _ := json.Marshal(parts)
		wm.Content = b
	}
	return wm
}

// FormatResponse renders a canonical non-streaming Response to an OpenAI
// wire body.
func FormatResponse(r *canonical.Response) ([]byte, error) {
	wr := wireResponse{
		ID:      r.ID,
		Object:  "chat.completion",
		Model:   r.Model,
		Choices: make([]wireChoice, 0, len(r.Choices)),
	}
	if r.Usage != nil {
		wr.Usage = &wireUsage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		}
	}
	for _, c := range r.Choices {
		fr := formatFinishReason(c.FinishReason)
		wr.Choices = append(wr.Choices, wireChoice{
			Index:        c.Index,
			Message:      formatMessage(c.Message),
			FinishReason: fr,
		})
	}
	return json.Marshal(wr)
}

// FormatChunk renders one canonical streaming Chunk as a complete OpenAI
// SSE frame ("data: {...}\n\n").
func FormatChunk(c canonical.Chunk) ([]byte, error) {
	wc := wireChunk{
		ID:     c.ID,
		Object: "chat.completion.chunk",
		Model:  c.Model,
		Choices: []wireChunkChoice{{
			Index:        c.ChoiceIndex,
			Delta:        formatDelta(c.Delta),
			FinishReason: formatFinishReason(c.FinishReason),
		}},
	}
	if c.Usage != nil {
		wc.Usage = &wireUsage{
			PromptTokens:     c.Usage.InputTokens,
			CompletionTokens: c.Usage.OutputTokens,
			TotalTokens:      c.Usage.InputTokens + c.Usage.OutputTokens,
		}
	}
	b, err := json.Marshal(wc)
	if err != nil {
		return nil, err
	}
	return sseFrame(b), nil
}

// FormatDone renders the terminal OpenAI SSE sentinel.
func FormatDone() []byte {
	return []byte("data: [DONE]\n\n")
}

func sseFrame(data []byte) []byte {
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}

func formatDelta(d canonical.Delta) wireDelta {
	wd := wireDelta{Role: string(d.Role), Content: d.Content}
	if d.ToolCallID != "" || d.ToolCallName != "" || d.ToolCallArgsDiff != "" {
		wd.ToolCalls = []wireToolCallDelta{{
			Index: 0,
			ID:    d.ToolCallID,
			Type:  "function",
			Function: wireToolFuncDelta{
				Name:      d.ToolCallName,
				Arguments: d.ToolCallArgsDiff,
			},
		}}
	}
	return wd
}

func formatFinishReason(fr canonical.FinishReason) *string {
	if fr == canonical.FinishNone {
		return nil
	}
	s := string(fr)
	return &s
}
