package bedrock

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

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

func convertMessages(messages []canonical.Message) ([]types.Message, error) {
	var out []types.Message
	for _, m := range messages {
		switch m.Role {
		case canonical.RoleSystem:
			continue
		case canonical.RoleUser, canonical.RoleTool:
			blocks, err := convertUserBlocks(m)
			if err != nil {
				return nil, err
			}
			out = append(out, types.Message{Role: types.ConversationRoleUser, Content: blocks})
		case canonical.RoleAssistant:
			blocks, err := convertAssistantBlocks(m)
			if err != nil {
				return nil, err
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
		}
	}
	return out, nil
}

func convertUserBlocks(m canonical.Message) ([]types.ContentBlock, error) {
	if m.ToolCallID != "" && !m.HasParts() {
		return []types.ContentBlock{&types.ContentBlockMemberToolResult{
			Value: types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Text}},
			},
		}}, nil
	}
	if !m.HasParts() {
		return []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text}}, nil
	}
	var blocks []types.ContentBlock
	for _, p := range m.Parts {
		switch p.Type {
		case canonical.PartText:
			blocks = append(blocks, &types.ContentBlockMemberText{Value: p.Text})
		case canonical.PartToolResult:
			blocks = append(blocks, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(p.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: p.ResultText}},
				},
			})
		}
	}
	return blocks, nil
}

func convertAssistantBlocks(m canonical.Message) ([]types.ContentBlock, error) {
	if !m.HasParts() {
		return []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text}}, nil
	}
	var blocks []types.ContentBlock
	for _, p := range m.Parts {
		switch p.Type {
		case canonical.PartText:
			blocks = append(blocks, &types.ContentBlockMemberText{Value: p.Text})
		case canonical.PartToolUse:
			var input document.Interface
			if len(p.ToolArgsRaw) > 0 {
				input = document.NewLazyDocument(json.RawMessage(p.ToolArgsRaw))
			}
			blocks = append(blocks, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(p.ToolUseID),
					Name:      aws.String(p.ToolName),
					Input:     input,
				},
			})
		}
	}
	return blocks, nil
}

func convertResponse(out *bedrockruntime.ConverseOutput, model string) *canonical.Response {
	resp := &canonical.Response{Model: model}
	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	var parts []canonical.ContentPart
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			parts = append(parts, canonical.ContentPart{Type: canonical.PartText, Text: v.Value})
		case *types.ContentBlockMemberToolUse:
			raw, _ := json.Marshal(v.Value.Input)
			parts = append(parts, canonical.ContentPart{
				Type:        canonical.PartToolUse,
				ToolUseID:   aws.ToString(v.Value.ToolUseId),
				ToolName:    aws.ToString(v.Value.Name),
				ToolArgsRaw: raw,
			})
		}
	}
	resp.Choices = []canonical.Choice{{
		Message:      canonical.Message{Role: canonical.RoleAssistant, Parts: parts},
		FinishReason: mapStopReason(string(out.StopReason)),
	}}
	if out.Usage != nil {
		resp.Usage = &canonical.Usage{InputTokens: int(aws.ToInt32(out.Usage.InputTokens)), OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens))}
	}
	return resp
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
