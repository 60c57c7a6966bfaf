package anthropic

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// sessionIDPattern extracts the session id from metadata.user_id per §6:
// "user_<hash>_account__session_<uuid>".
var sessionIDPattern = regexp.MustCompile(`^user_[^_]+_account__session_(?P<sid>[0-9a-f-]+)$`)

// ParseRequest decodes an Anthropic Messages request body into the
// canonical shape.
func ParseRequest(body []byte) (*canonical.Request, *canonical.Error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, canonical.NewInvalidRequest("", fmt.Sprintf("malformed JSON: %v", err))
	}
	if wr.Model == "" {
		return nil, canonical.NewInvalidRequest("model", "model is required")
	}
	if wr.MaxTokens <= 0 {
		return nil, canonical.NewInvalidRequest("max_tokens", "max_tokens is required and must be positive")
	}
	if len(wr.Messages) == 0 {
		return nil, canonical.NewInvalidRequest("messages", "messages must be non-empty")
	}

	maxTokens := wr.MaxTokens
	req := &canonical.Request{
		Model:       wr.Model,
		Stream:      wr.Stream,
		MaxTokens:   &maxTokens,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		Stop:        wr.StopSequences,
		SessionID:   extractSessionID(wr.Metadata),
	}

	if len(wr.System) > 0 {
		sysMsg, cErr := parseSystem(wr.System)
		if cErr != nil {
			return nil, cErr
		}
		req.Messages = append(req.Messages, sysMsg)
	}

	for i, wm := range wr.Messages {
		msgs, cErr := parseMessage(i, wm)
		if cErr != nil {
			return nil, cErr
		}
		req.Messages = append(req.Messages, msgs...)
	}

	for i, wt := range wr.Tools {
		if wt.Name == "" {
			return nil, canonical.NewInvalidRequest(fmt.Sprintf("tools[%d].name", i), "tool name is required")
		}
		req.Tools = append(req.Tools, canonical.ToolSpec{
			Name:        wt.Name,
			Description: wt.Description,
			JSONSchema:  wt.InputSchema,
		})
	}

	return req, nil
}

func extractSessionID(md *wireMetadata) string {
	if md == nil || md.UserID == "" {
		return ""
	}
	m := sessionIDPattern.FindStringSubmatch(md.UserID)
	if m == nil {
		return ""
	}
	return m[sessionIDPattern.SubexpIndex("sid")]
}

func parseSystem(raw json.RawMessage) (canonical.Message, *canonical.Error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return canonical.Message{Role: canonical.RoleSystem, Text: text}, nil
	}
	var blocks []wireContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return canonical.Message{}, canonical.NewInvalidRequest("system", "system must be a string or an array of text blocks")
	}
	msg := canonical.Message{Role: canonical.RoleSystem}
	for _, b := range blocks {
		if b.Type == "text" {
			msg.Parts = append(msg.Parts, canonical.ContentPart{Type: canonical.PartText, Text: b.Text})
		}
	}
	return msg, nil
}

// parseMessage may yield more than one canonical Message: a single
// Anthropic "user" turn carrying tool_result blocks maps to one
// canonical tool-role Message per result, since the canonical model
// represents a tool result as its own message keyed by ToolCallID.
func parseMessage(i int, wm wireMessage) ([]canonical.Message, *canonical.Error) {
	role, cErr := parseRole(i, wm.Role)
	if cErr != nil {
		return nil, cErr
	}

	var text string
	if err := json.Unmarshal(wm.Content, &text); err == nil {
		return []canonical.Message{{Role: role, Text: text}}, nil
	}

	var blocks []wireContentBlock
	if err := json.Unmarshal(wm.Content, &blocks); err != nil {
		return nil, canonical.NewInvalidRequest(fmt.Sprintf("messages[%d].content", i), "content must be a string or an array of content blocks")
	}

	var out []canonical.Message
	assistant := canonical.Message{Role: role}
	hasAssistantParts := false

	for _, b := range blocks {
		switch b.Type {
		case "text":
			// A known Anthropic client quirk emits an empty text block
			// alongside tool_use blocks; strip it before policy sees it.
			if b.Text == "" && role == canonical.RoleAssistant {
				continue
			}
			assistant.Parts = append(assistant.Parts, canonical.ContentPart{Type: canonical.PartText, Text: b.Text})
			hasAssistantParts = true
		case "image":
			if b.Source == nil {
				continue
			}
			part := canonical.ContentPart{Type: canonical.PartImage, ImageMime: b.Source.MediaType}
			if b.Source.Type == "url" {
				part.ImageURI = b.Source.URL
			} else {
				part.ImageBytes = []byte(b.Source.Data)
			}
			assistant.Parts = append(assistant.Parts, part)
			hasAssistantParts = true
		case "tool_use":
			assistant.Parts = append(assistant.Parts, canonical.ContentPart{
				Type:        canonical.PartToolUse,
				ToolUseID:   b.ID,
				ToolName:    b.Name,
				ToolArgsRaw: b.Input,
			})
			hasAssistantParts = true
		case "tool_result":
			out = append(out, canonical.Message{
				Role:       canonical.RoleTool,
				ToolCallID: b.ToolUseID,
				Parts: []canonical.ContentPart{{
					Type:        canonical.PartToolResult,
					ToolCallID:  b.ToolUseID,
					ResultText:  b.Content,
					ResultError: b.IsError,
				}},
			})
		case "thinking":
			assistant.Parts = append(assistant.Parts, canonical.ContentPart{Type: canonical.PartThinking, Thinking: b.Thinking})
			hasAssistantParts = true
		}
	}

	if hasAssistantParts {
		out = append([]canonical.Message{assistant}, out...)
	}
	return out, nil
}

func parseRole(i int, r string) (canonical.Role, *canonical.Error) {
	switch r {
	case "user":
		return canonical.RoleUser, nil
	case "assistant":
		return canonical.RoleAssistant, nil
	default:
		return "", canonical.NewInvalidRequest(fmt.Sprintf("messages[%d].role", i), fmt.Sprintf("unknown role %q", r))
	}
}
