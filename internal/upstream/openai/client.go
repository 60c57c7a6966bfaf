// Package openai wraps sashabaranov/go-openai as an upstream.Client
// over the canonical request/response/chunk types.
package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// Config configures one OpenAI-dialect upstream provider entry.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Client is an upstream.Client backed by the OpenAI Chat Completions API.
type Client struct {
	sdk          *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// New builds a Client from Config. APIKey is required.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: APIKey is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Client{
		sdk:          openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
	}, nil
}

func (c *Client) model(req *canonical.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

func (c *Client) buildRequest(req *canonical.Request, stream bool) (openai.ChatCompletionRequest, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	out := openai.ChatCompletionRequest{
		Model:    c.model(req),
		Messages: messages,
		Stream:   stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}
	if len(req.Stop) > 0 {
		out.Stop = req.Stop
	}
	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools)
	}
	return out, nil
}

// Complete sends a non-streaming request and waits for the full response.
func (c *Client) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, *canonical.Error) {
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, canonical.NewInvalidRequest("", err.Error())
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if !sleepBackoff(ctx, c.retryDelay, attempt) {
				return nil, canonical.NewClientDisconnected()
			}
		}
		resp, lastErr = c.sdk.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, wrapError(lastErr)
		}
	}
	if lastErr != nil {
		return nil, wrapError(lastErr)
	}
	return convertResponse(&resp), nil
}

// Stream sends a streaming request and translates SSE deltas into
// canonical chunks as they arrive.
func (c *Client) Stream(ctx context.Context, req *canonical.Request) (<-chan canonical.Chunk, <-chan *canonical.Error) {
	chunks := make(chan canonical.Chunk)
	errs := make(chan *canonical.Error, 1)

	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		close(chunks)
		errs <- canonical.NewInvalidRequest("", err.Error())
		close(errs)
		return chunks, errs
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		var stream *openai.ChatCompletionStream
		var lastErr error
		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			if attempt > 0 {
				if !sleepBackoff(ctx, c.retryDelay, attempt) {
					errs <- canonical.NewClientDisconnected()
					return
				}
			}
			stream, lastErr = c.sdk.CreateChatCompletionStream(ctx, chatReq)
			if lastErr == nil {
				break
			}
			if !isRetryable(lastErr) {
				errs <- wrapError(lastErr)
				return
			}
		}
		if lastErr != nil {
			errs <- wrapError(lastErr)
			return
		}
		defer stream.Close()
		processStream(ctx, stream, chunks, errs, c.model(req))
	}()

	return chunks, errs
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(base * time.Duration(attempt)):
		return true
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, io.EOF) {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"429", "500", "502", "503", "504", "rate limit", "timeout", "connection reset"} {
		if strings.Contains(strings.ToLower(msg), needle) {
			return true
		}
	}
	return false
}

func wrapError(err error) *canonical.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return canonical.NewUpstreamUnavailable(err.Error(), err)
		}
		return canonical.NewUpstreamError(err.Error(), err)
	}
	return canonical.NewUpstreamError(err.Error(), err)
}
