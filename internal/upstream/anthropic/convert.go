package anthropic

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// systemText concatenates any system messages into the single system
// prompt string the Anthropic API expects outside the message list.
func systemText(messages []canonical.Message) string {
	var out string
	for _, m := range messages {
		if m.Role != canonical.RoleSystem {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Text
	}
	return out
}

func convertMessages(messages []canonical.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case canonical.RoleSystem:
			continue
		case canonical.RoleUser, canonical.RoleTool:
			blocks, err := convertUserBlocks(m)
			if err != nil {
				return nil, err
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case canonical.RoleAssistant:
			blocks, err := convertAssistantBlocks(m)
			if err != nil {
				return nil, err
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out, nil
}

func convertUserBlocks(m canonical.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if !m.HasParts() {
		if m.ToolCallID != "" {
			return []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(m.ToolCallID, m.Text, false),
			}, nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)}, nil
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch p.Type {
		case canonical.PartText:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case canonical.PartToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(p.ToolCallID, p.ResultText, p.ResultError))
		case canonical.PartImage:
			if p.ImageURI != "" {
				blocks = append(blocks, anthropic.NewImageBlockURL(p.ImageURI))
			}
		}
	}
	return blocks, nil
}

func convertAssistantBlocks(m canonical.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if !m.HasParts() {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)}, nil
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch p.Type {
		case canonical.PartText:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case canonical.PartToolUse:
			var input any
			if len(p.ToolArgsRaw) > 0 {
				if err := json.Unmarshal(p.ToolArgsRaw, &input); err != nil {
					return nil, err
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolUseID, input, p.ToolName))
		}
	}
	return blocks, nil
}

func convertTools(tools []canonical.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.JSONSchema) > 0 {
			_ = json.Unmarshal(t.JSONSchema, &schema)
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func convertResponse(msg *anthropic.Message) *canonical.Response {
	choice := canonical.Choice{Index: 0}
	var parts []canonical.ContentPart
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, canonical.ContentPart{Type: canonical.PartText, Text: variant.Text})
		case anthropic.ThinkingBlock:
			parts = append(parts, canonical.ContentPart{Type: canonical.PartThinking, Thinking: variant.Thinking})
		case anthropic.ToolUseBlock:
			parts = append(parts, canonical.ContentPart{
				Type:        canonical.PartToolUse,
				ToolUseID:   variant.ID,
				ToolName:    variant.Name,
				ToolArgsRaw: json.RawMessage(variant.Input),
			})
		}
	}
	choice.Message = canonical.Message{Role: canonical.RoleAssistant, Parts: parts}
	choice.FinishReason = mapStopReason(string(msg.StopReason))
	return &canonical.Response{
		ID:      msg.ID,
		Model:   string(msg.Model),
		Choices: []canonical.Choice{choice},
		Usage: &canonical.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

func mapStopReason(reason string) canonical.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return canonical.FinishStop
	case "max_tokens":
		return canonical.FinishLength
	case "tool_use":
		return canonical.FinishToolCalls
	default:
		return canonical.FinishStop
	}
}
