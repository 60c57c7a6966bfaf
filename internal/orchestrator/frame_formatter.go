package orchestrator

import (
	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/dialect/anthropic"
	"github.com/luthienresearch/luthien-gateway/internal/dialect/openai"
)

// FrameFormatter renders canonical chunks as dialect wire frames. It is
// the abstraction the ClientFormatter task is generic over; each dialect
// adapter package supplies one implementation, and the Anthropic one
// carries the block-index state the dialect's formatting is stateful on
// (§4.1).
type FrameFormatter interface {
	// Preamble returns any frame(s) that must precede the first chunk
	// (Anthropic's message_start; OpenAI has none).
	Preamble() [][]byte
	FormatChunk(c canonical.Chunk) ([][]byte, error)
	FormatTerminal() [][]byte
	FormatErrorFrame(e *canonical.Error) [][]byte
}

type openAIFrameFormatter struct{}

// NewOpenAIFrameFormatter returns a FrameFormatter for the OpenAI dialect.
func NewOpenAIFrameFormatter() FrameFormatter { return openAIFrameFormatter{} }

func (openAIFrameFormatter) Preamble() [][]byte { return nil }

func (openAIFrameFormatter) FormatChunk(c canonical.Chunk) ([][]byte, error) {
	b, err := openai.FormatChunk(c)
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

func (openAIFrameFormatter) FormatTerminal() [][]byte {
	return [][]byte{openai.FormatDone()}
}

func (openAIFrameFormatter) FormatErrorFrame(e *canonical.Error) [][]byte {
	return [][]byte{openai.FormatErrorChunk(e), openai.FormatDone()}
}

type anthropicFrameFormatter struct {
	f *anthropic.Formatter
}

// NewAnthropicFrameFormatter returns a FrameFormatter for the Anthropic
// dialect, keyed to one message id and model for the life of the request.
func NewAnthropicFrameFormatter(messageID, model string) FrameFormatter {
	return &anthropicFrameFormatter{f: anthropic.NewFormatter(messageID, model)}
}

func (a *anthropicFrameFormatter) Preamble() [][]byte {
	return [][]byte{a.f.MessageStart()}
}

func (a *anthropicFrameFormatter) FormatChunk(c canonical.Chunk) ([][]byte, error) {
	return a.f.FormatChunk(c)
}

func (a *anthropicFrameFormatter) FormatTerminal() [][]byte {
	return nil
}

func (a *anthropicFrameFormatter) FormatErrorFrame(e *canonical.Error) [][]byte {
	return [][]byte{anthropic.FormatErrorEvent(e)}
}
