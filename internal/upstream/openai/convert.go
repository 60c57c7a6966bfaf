package openai

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

func convertMessages(messages []canonical.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == canonical.RoleTool {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Text,
				ToolCallID: m.ToolCallID,
			})
			continue
		}
		msg := openai.ChatCompletionMessage{Role: role}
		if m.HasParts() {
			var toolCalls []openai.ToolCall
			for _, p := range m.Parts {
				switch p.Type {
				case canonical.PartText:
					msg.Content += p.Text
				case canonical.PartToolUse:
					toolCalls = append(toolCalls, openai.ToolCall{
						ID:   p.ToolUseID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      p.ToolName,
							Arguments: string(p.ToolArgsRaw),
						},
					})
				}
			}
			msg.ToolCalls = toolCalls
		} else {
			msg.Content = m.Text
		}
		out = append(out, msg)
	}
	return out, nil
}

func convertTools(tools []canonical.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.JSONSchema) > 0 {
			_ = json.Unmarshal(t.JSONSchema, &schema)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func convertResponse(resp *openai.ChatCompletionResponse) *canonical.Response {
	out := &canonical.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: &canonical.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, canonical.Choice{
			Index:        choice.Index,
			Message:      convertAssistantMessage(choice.Message),
			FinishReason: mapFinishReason(string(choice.FinishReason)),
		})
	}
	return out
}

func convertAssistantMessage(m openai.ChatCompletionMessage) canonical.Message {
	if len(m.ToolCalls) == 0 {
		return canonical.Message{Role: canonical.RoleAssistant, Text: m.Content}
	}
	parts := make([]canonical.ContentPart, 0, len(m.ToolCalls)+1)
	if m.Content != "" {
		parts = append(parts, canonical.ContentPart{Type: canonical.PartText, Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, canonical.ContentPart{
			Type:        canonical.PartToolUse,
			ToolUseID:   tc.ID,
			ToolName:    tc.Function.Name,
			ToolArgsRaw: json.RawMessage(tc.Function.Arguments),
		})
	}
	return canonical.Message{Role: canonical.RoleAssistant, Parts: parts}
}

func mapFinishReason(reason string) canonical.FinishReason {
	switch reason {
	case "stop":
		return canonical.FinishStop
	case "length":
		return canonical.FinishLength
	case "tool_calls", "function_call":
		return canonical.FinishToolCalls
	case "content_filter":
		return canonical.FinishContentFilter
	default:
		return canonical.FinishStop
	}
}
