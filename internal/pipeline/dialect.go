package pipeline

import (
	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/dialect/anthropic"
	"github.com/luthienresearch/luthien-gateway/internal/dialect/openai"
	"github.com/luthienresearch/luthien-gateway/internal/orchestrator"
)

// Dialect is the uniform surface the Processor drives regardless of which
// wire format a request arrived on. It exists because the two dialect
// packages don't share a signature: OpenAI's session id rides a header,
// Anthropic's rides the request body's metadata block, so ParseRequest
// here always takes the header and the Anthropic adapter just ignores it.
type Dialect interface {
	Format() canonical.ClientFormat
	ContentType() string

	ParseRequest(body []byte, sessionIDHeader string) (*canonical.Request, *canonical.Error)
	FormatResponse(resp *canonical.Response) ([]byte, error)
	FormatError(e *canonical.Error) []byte
	FormatErrorChunk(e *canonical.Error) []byte

	// NewFrameFormatter returns a fresh streaming frame formatter for one
	// response. messageID is only used by dialects whose wire format names
	// the message (Anthropic); OpenAI ignores it.
	NewFrameFormatter(messageID, model string) orchestrator.FrameFormatter
}

type openAIDialect struct{}

// OpenAI is the Dialect adapter for /v1/chat/completions.
var OpenAI Dialect = openAIDialect{}

func (openAIDialect) Format() canonical.ClientFormat { return canonical.ClientFormatOpenAI }
func (openAIDialect) ContentType() string            { return "application/json" }

func (openAIDialect) ParseRequest(body []byte, sessionIDHeader string) (*canonical.Request, *canonical.Error) {
	return openai.ParseRequest(body, sessionIDHeader)
}

func (openAIDialect) FormatResponse(resp *canonical.Response) ([]byte, error) {
	return openai.FormatResponse(resp)
}

func (openAIDialect) FormatError(e *canonical.Error) []byte      { return openai.FormatError(e) }
func (openAIDialect) FormatErrorChunk(e *canonical.Error) []byte { return openai.FormatErrorChunk(e) }

func (openAIDialect) NewFrameFormatter(messageID, model string) orchestrator.FrameFormatter {
	return orchestrator.NewOpenAIFrameFormatter()
}

type anthropicDialect struct{}

// Anthropic is the Dialect adapter for /v1/messages.
var Anthropic Dialect = anthropicDialect{}

func (anthropicDialect) Format() canonical.ClientFormat { return canonical.ClientFormatAnthropic }
func (anthropicDialect) ContentType() string            { return "application/json" }

func (anthropicDialect) ParseRequest(body []byte, _ string) (*canonical.Request, *canonical.Error) {
	return anthropic.ParseRequest(body)
}

func (anthropicDialect) FormatResponse(resp *canonical.Response) ([]byte, error) {
	return anthropic.FormatResponse(resp)
}

func (anthropicDialect) FormatError(e *canonical.Error) []byte { return anthropic.FormatError(e) }
func (anthropicDialect) FormatErrorChunk(e *canonical.Error) []byte {
	return anthropic.FormatErrorEvent(e)
}

func (anthropicDialect) NewFrameFormatter(messageID, model string) orchestrator.FrameFormatter {
	return orchestrator.NewAnthropicFrameFormatter(messageID, model)
}
