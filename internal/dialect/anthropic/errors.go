package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

type wireErrorEnvelope struct {
	Type  string         `json:"type"`
	Error wireErrorBody `json:"error"`
}

type wireErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FormatError renders a canonical.Error as an Anthropic-native error
// body (for a non-streaming response).
func FormatError(e *canonical.Error) []byte {
	b, _ := json.Marshal(wireErrorEnvelope{
		Type:  "error",
		Error: wireErrorBody{Type: string(e.Kind), Message: e.Reason},
	})
	return b
}

// FormatErrorEvent renders a canonical.Error as a mid-stream Anthropic
// SSE `error` event, used when a policy timeout or error truncates a
// stream already in flight.
func FormatErrorEvent(e *canonical.Error) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":  "error",
		"error": map[string]any{"type": string(e.Kind), "message": e.Reason},
	})
	return []byte(fmt.Sprintf("event: error\ndata: %s\n\n", b))
}
