// Package canonical defines the internal representation the gateway uses
// for requests, responses, and streaming chunks regardless of which client
// or upstream dialect is in play. Format adapters convert to and from this
// shape; the policy engine and orchestrator never see dialect-specific
// types.
package canonical

import "encoding/json"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType tags the variant held by a ContentPart.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
	PartThinking   PartType = "thinking"
)

// ContentPart is one tagged unit of message content. Only the fields
// relevant to Type are populated.
type ContentPart struct {
	Type PartType `json:"type"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartImage. Exactly one of ImageURI / ImageBytes is set; the core
	// never decodes the image, it is carried as an opaque reference.
	ImageURI   string `json:"image_uri,omitempty"`
	ImageBytes []byte `json:"image_bytes,omitempty"`
	ImageMime  string `json:"image_mime,omitempty"`

	// PartToolUse
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolArgsRaw json.RawMessage `json:"tool_args_json,omitempty"`

	// PartToolResult. May only appear in a user or tool Message.
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ResultText  string `json:"result_text,omitempty"`
	ResultError bool   `json:"result_error,omitempty"`

	// PartThinking
	Thinking string `json:"thinking,omitempty"`
}

// Message is one turn in the canonical conversation. Content is either a
// bare string (Text) or a sequence of ContentParts; exactly one is set.
type Message struct {
	Role       Role          `json:"role"`
	Text       string        `json:"text,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// HasParts reports whether the message carries structured content parts
// rather than a plain text body.
func (m Message) HasParts() bool {
	return len(m.Parts) > 0
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	JSONSchema  json.RawMessage `json:"json_schema,omitempty"`
}

// Request is the canonical request shape every policy and upstream client
// operates on.
type Request struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Tools       []ToolSpec     `json:"tools,omitempty"`
	Stream      bool           `json:"stream"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// SessionID is extracted from the wire per dialect (§6 of the spec)
	// and is not part of either wire format's request body.
	SessionID string `json:"-"`
}

// Clone returns a deep-enough copy of r suitable for a policy to mutate
// without affecting the caller's copy. Policies must never mutate their
// input; callers that need a starting point for on_request return values
// should clone first.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Messages = append([]Message(nil), r.Messages...)
	cp.Tools = append([]ToolSpec(nil), r.Tools...)
	cp.Stop = append([]string(nil), r.Stop...)
	if r.MaxTokens != nil {
		v := *r.MaxTokens
		cp.MaxTokens = &v
	}
	if r.Temperature != nil {
		v := *r.Temperature
		cp.Temperature = &v
	}
	if r.TopP != nil {
		v := *r.TopP
		cp.TopP = &v
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
