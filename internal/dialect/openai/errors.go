package openai

import (
	"encoding/json"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

type wireError struct {
	Error wireErrorBody `json:"error"`
}

type wireErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// FormatError renders a canonical.Error as an OpenAI-native error body.
func FormatError(e *canonical.Error) []byte {
	b, _ := json.Marshal(wireError{Error: wireErrorBody{
		Message: e.Reason,
		Type:    string(e.Kind),
		Code:    string(e.Kind),
	}})
	return b
}

// FormatErrorChunk renders a canonical.Error as a mid-stream SSE error
// frame, used when a policy timeout or error truncates an OpenAI stream
// already in flight. OpenAI has no dedicated error event type, so this
// degrades to a final chunk whose delta carries the message and a
// synthetic finish_reason, followed by the usual [DONE] sentinel.
func FormatErrorChunk(e *canonical.Error) []byte {
	wc := wireChunk{
		Object: "chat.completion.chunk",
		Choices: []wireChunkChoice{{
			Delta:        wireDelta{Content: e.Reason},
			FinishReason: formatFinishReason(canonical.FinishStop),
		}},
	}
	b, _ := json.Marshal(wc)
	return sseFrame(b)
}
