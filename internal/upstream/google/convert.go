package google

import (
	"encoding/json"

	"google.golang.org/genai"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

func convertMessages(messages []canonical.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range messages {
		if m.Role == canonical.RoleSystem {
			continue
		}
		role := genai.RoleUser
		if m.Role == canonical.RoleAssistant {
			role = genai.RoleModel
		}
		parts, err := convertParts(m)
		if err != nil {
			return nil, err
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out, nil
}

func convertParts(m canonical.Message) ([]*genai.Part, error) {
	if !m.HasParts() {
		if m.ToolCallID != "" {
			return []*genai.Part{genai.NewPartFromFunctionResponse(m.ToolCallID, map[string]any{"result": m.Text})}, nil
		}
		return []*genai.Part{genai.NewPartFromText(m.Text)}, nil
	}
	var parts []*genai.Part
	for _, p := range m.Parts {
		switch p.Type {
		case canonical.PartText:
			parts = append(parts, genai.NewPartFromText(p.Text))
		case canonical.PartToolUse:
			var args map[string]any
			if len(p.ToolArgsRaw) > 0 {
				_ = json.Unmarshal(p.ToolArgsRaw, &args)
			}
			parts = append(parts, genai.NewPartFromFunctionCall(p.ToolName, args))
		case canonical.PartToolResult:
			parts = append(parts, genai.NewPartFromFunctionResponse(p.ToolCallID, map[string]any{"result": p.ResultText}))
		}
	}
	return parts, nil
}

func buildConfig(req *canonical.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if sys := systemText(req.Messages); sys != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(sys)}}
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.TopP != nil {
		t := float32(*req.TopP)
		cfg.TopP = &t
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}
	return cfg
}

func convertTools(tools []canonical.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema *genai.Schema
		if len(t.JSONSchema) > 0 {
			schema = &genai.Schema{}
			_ = json.Unmarshal(t.JSONSchema, schema)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

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

func convertResponse(resp *genai.GenerateContentResponse, model string) *canonical.Response {
	out := &canonical.Response{Model: model}
	if resp.UsageMetadata != nil {
		out.Usage = &canonical.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	for i, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var parts []canonical.ContentPart
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				parts = append(parts, canonical.ContentPart{Type: canonical.PartText, Text: p.Text})
			case p.FunctionCall != nil:
				raw, _ := json.Marshal(p.FunctionCall.Args)
				parts = append(parts, canonical.ContentPart{
					Type:        canonical.PartToolUse,
					ToolUseID:   p.FunctionCall.Name,
					ToolName:    p.FunctionCall.Name,
					ToolArgsRaw: raw,
				})
			}
		}
		out.Choices = append(out.Choices, canonical.Choice{
			Index:        i,
			Message:      canonical.Message{Role: canonical.RoleAssistant, Parts: parts},
			FinishReason: mapFinishReason(string(cand.FinishReason)),
		})
	}
	return out
}

func emitChunks(resp *genai.GenerateContentResponse, chunks chan<- canonical.Chunk, model string) {
	for i, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				chunks <- canonical.Chunk{Model: model, ChoiceIndex: i, Delta: canonical.Delta{Content: p.Text}}
			case p.FunctionCall != nil:
				raw, _ := json.Marshal(p.FunctionCall.Args)
				chunks <- canonical.Chunk{Model: model, ChoiceIndex: i, Delta: canonical.Delta{
					ToolCallID:       p.FunctionCall.Name,
					ToolCallName:     p.FunctionCall.Name,
					ToolCallArgsDiff: string(raw),
				}}
			}
		}
		if cand.FinishReason != "" {
			var usage *canonical.Usage
			if resp.UsageMetadata != nil {
				usage = &canonical.Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			chunks <- canonical.Chunk{Model: model, ChoiceIndex: i, FinishReason: mapFinishReason(string(cand.FinishReason)), Usage: usage}
		}
	}
}

func mapFinishReason(reason string) canonical.FinishReason {
	switch reason {
	case "STOP":
		return canonical.FinishStop
	case "MAX_TOKENS":
		return canonical.FinishLength
	case "SAFETY", "RECITATION":
		return canonical.FinishContentFilter
	default:
		return canonical.FinishStop
	}
}
