package openai

import (
	"encoding/json"
	"fmt"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// ParseRequest decodes an OpenAI chat-completions request body into the
// canonical shape. sessionIDHeader is the raw value of the inbound
// x-session-id header, if any (§6 of the design notes).
func ParseRequest(body []byte, sessionIDHeader string) (*canonical.Request, *canonical.Error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, canonical.NewInvalidRequest("", fmt.Sprintf("malformed JSON: %v", err))
	}
	if wr.Model == "" {
		return nil, canonical.NewInvalidRequest("model", "model is required")
	}
	if len(wr.Messages) == 0 {
		return nil, canonical.NewInvalidRequest("messages", "messages must be non-empty")
	}

	req := &canonical.Request{
		Model:       wr.Model,
		Stream:      wr.Stream,
		MaxTokens:   wr.MaxTokens,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		SessionID:   sessionIDHeader,
	}
	if len(wr.Stop) > 0 {
		stops, err := parseStop(wr.Stop)
		if err != nil {
			return nil, canonical.NewInvalidRequest("stop", err.Error())
		}
		req.Stop = stops
	}

	for i, wm := range wr.Messages {
		msg, cErr := parseMessage(i, wm)
		if cErr != nil {
			return nil, cErr
		}
		req.Messages = append(req.Messages, msg)
	}

	for i, wt := range wr.Tools {
		if wt.Function.Name == "" {
			return nil, canonical.NewInvalidRequest(fmt.Sprintf("tools[%d].function.name", i), "tool name is required")
		}
		req.Tools = append(req.Tools, canonical.ToolSpec{
			Name:        wt.Function.Name,
			Description: wt.Function.Description,
			JSONSchema:  wt.Function.Parameters,
		})
	}

	return req, nil
}

func parseStop(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, fmt.Errorf("stop must be a string or an array of strings")
}

func parseMessage(i int, wm wireMessage) (canonical.Message, *canonical.Error) {
	role, cErr := parseRole(i, wm.Role)
	if cErr != nil {
		return canonical.Message{}, cErr
	}
	msg := canonical.Message{Role: role, ToolCallID: wm.ToolCallID}

	if len(wm.Content) == 0 {
		return msg, nil
	}

	var text string
	if err := json.Unmarshal(wm.Content, &text); err == nil {
		if role == canonical.RoleTool {
			msg.Parts = []canonical.ContentPart{{
				Type:       canonical.PartToolResult,
				ToolCallID: wm.ToolCallID,
				ResultText: text,
			}}
			return msg, nil
		}
		msg.Text = text
		return msg, nil
	}

	var parts []wireContentPart
	if err := json.Unmarshal(wm.Content, &parts); err != nil {
		return canonical.Message{}, canonical.NewInvalidRequest(
			fmt.Sprintf("messages[%d].content", i), "content must be a string or an array of content parts")
	}
	for _, p := range parts {
		switch p.Type {
		case "text":
			msg.Parts = append(msg.Parts, canonical.ContentPart{Type: canonical.PartText, Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			msg.Parts = append(msg.Parts, canonical.ContentPart{Type: canonical.PartImage, ImageURI: p.ImageURL.URL})
		}
	}

	for _, tc := range wm.ToolCalls {
		msg.Parts = append(msg.Parts, canonical.ContentPart{
			Type:        canonical.PartToolUse,
			ToolUseID:   tc.ID,
			ToolName:    tc.Function.Name,
			ToolArgsRaw: json.RawMessage(tc.Function.Arguments),
		})
	}

	return msg, nil
}

func parseRole(i int, r string) (canonical.Role, *canonical.Error) {
	switch r {
	case "system":
		return canonical.RoleSystem, nil
	case "user":
		return canonical.RoleUser, nil
	case "assistant":
		return canonical.RoleAssistant, nil
	case "tool":
		return canonical.RoleTool, nil
	default:
		return "", canonical.NewInvalidRequest(fmt.Sprintf("messages[%d].role", i), fmt.Sprintf("unknown role %q", r))
	}
}
