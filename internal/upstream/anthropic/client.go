// Package anthropic wraps the official Anthropic SDK as an
// upstream.Client over the canonical request/response/chunk types.
package anthropic

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// Config configures one Anthropic upstream provider entry.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Client is an upstream.Client backed by the Anthropic Messages API.
type Client struct {
	sdk          anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// New builds a Client from Config. APIKey is required.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: APIKey is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
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
		sdk:          anthropic.NewClient(opts...),
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

func (c *Client) buildParams(req *canonical.Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	maxTokens := int64(4096)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model(req)),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if sys := systemText(req.Messages); sys != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: sys}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	return params, nil
}

// Complete sends a non-streaming request and waits for the full response.
func (c *Client) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, *canonical.Error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, canonical.NewInvalidRequest("", err.Error())
	}

	var msg *anthropic.Message
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if !sleepBackoff(ctx, c.retryDelay, attempt) {
				return nil, canonical.NewClientDisconnected()
			}
		}
		msg, lastErr = c.sdk.Messages.New(ctx, params)
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
	return convertResponse(msg), nil
}

// Stream sends a streaming request and translates SSE events into
// canonical chunks as they arrive.
func (c *Client) Stream(ctx context.Context, req *canonical.Request) (<-chan canonical.Chunk, <-chan *canonical.Error) {
	chunks := make(chan canonical.Chunk)
	errs := make(chan *canonical.Error, 1)

	params, err := c.buildParams(req)
	if err != nil {
		close(chunks)
		errs <- canonical.NewInvalidRequest("", err.Error())
		close(errs)
		return chunks, errs
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := c.sdk.Messages.NewStreaming(ctx, params)
		processStream(stream, chunks, c.model(req))
		if err := stream.Err(); err != nil {
			errs <- wrapError(err)
		}
	}()

	return chunks, errs
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) bool {
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(backoff):
		return true
	}
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"rate_limit", "429", "timeout", "connection reset", "connection refused"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func wrapError(err error) *canonical.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return canonical.NewUpstreamUnavailable(err.Error(), err)
		}
		return canonical.NewUpstreamError(err.Error(), err)
	}
	return canonical.NewUpstreamError(err.Error(), err)
}
