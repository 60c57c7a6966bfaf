// Package google wraps google.golang.org/genai as an upstream.Client
// for Gemini models.
package google

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// Config configures one Google upstream provider entry.
type Config struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Client is an upstream.Client backed by the Gemini GenerateContent API.
type Client struct {
	sdk          *genai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// New builds a Client from Config. APIKey is required.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: APIKey is required")
	}
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Client{sdk: sdk, defaultModel: defaultModel, maxRetries: maxRetries, retryDelay: retryDelay}, nil
}

func (c *Client) model(req *canonical.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

// Complete sends a non-streaming GenerateContent request.
func (c *Client) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, *canonical.Error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, canonical.NewInvalidRequest("", err.Error())
	}
	cfg := buildConfig(req)
	model := c.model(req)

	var resp *genai.GenerateContentResponse
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if !sleepBackoff(ctx, c.retryDelay, attempt) {
				return nil, canonical.NewClientDisconnected()
			}
		}
		resp, lastErr = c.sdk.Models.GenerateContent(ctx, model, contents, cfg)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, canonical.NewUpstreamError(lastErr.Error(), lastErr)
		}
	}
	if lastErr != nil {
		return nil, canonical.NewUpstreamError(lastErr.Error(), lastErr)
	}
	return convertResponse(resp, model), nil
}

// Stream sends a GenerateContentStream request and translates the
// iterator into canonical chunks.
func (c *Client) Stream(ctx context.Context, req *canonical.Request) (<-chan canonical.Chunk, <-chan *canonical.Error) {
	chunks := make(chan canonical.Chunk)
	errs := make(chan *canonical.Error, 1)

	contents, err := convertMessages(req.Messages)
	if err != nil {
		close(chunks)
		errs <- canonical.NewInvalidRequest("", err.Error())
		close(errs)
		return chunks, errs
	}
	cfg := buildConfig(req)
	model := c.model(req)

	go func() {
		defer close(chunks)
		defer close(errs)

		iterSeq := c.sdk.Models.GenerateContentStream(ctx, model, contents, cfg)
		for resp, err := range iterSeq {
			if err != nil {
				errs <- canonical.NewUpstreamError(err.Error(), err)
				return
			}
			emitChunks(resp, chunks, model)
		}
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
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
