// Package bedrock wraps the AWS Bedrock Converse API as an
// upstream.Client, for Anthropic/Titan/Llama/Mistral/Cohere models
// served through a customer's own AWS account.
package bedrock

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// Config configures one Bedrock upstream provider entry.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// Client is an upstream.Client backed by the Bedrock Converse API.
type Client struct {
	sdk          *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// New loads AWS credentials (explicit, or the default chain) and builds
// a Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
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
		sdk:          bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: defaultModel,
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

func (c *Client) buildInput(req *canonical.Request) (*bedrockruntime.ConverseInput, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model(req)),
		Messages: messages,
	}
	if sys := systemText(req.Messages); sys != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: sys}}
	}
	if req.MaxTokens != nil {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(*req.MaxTokens))}
	}
	return in, nil
}

// Complete sends a non-streaming Converse request.
func (c *Client) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, *canonical.Error) {
	in, err := c.buildInput(req)
	if err != nil {
		return nil, canonical.NewInvalidRequest("", err.Error())
	}
	var out *bedrockruntime.ConverseOutput
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if !sleepBackoff(ctx, c.retryDelay, attempt) {
				return nil, canonical.NewClientDisconnected()
			}
		}
		out, lastErr = c.sdk.Converse(ctx, in)
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
	return convertResponse(out, c.model(req)), nil
}

// Stream sends a ConverseStream request and translates events into
// canonical chunks as they arrive.
func (c *Client) Stream(ctx context.Context, req *canonical.Request) (<-chan canonical.Chunk, <-chan *canonical.Error) {
	chunks := make(chan canonical.Chunk)
	errs := make(chan *canonical.Error, 1)

	in, err := c.buildInput(req)
	if err != nil {
		close(chunks)
		errs <- canonical.NewInvalidRequest("", err.Error())
		close(errs)
		return chunks, errs
	}
	streamIn := &bedrockruntime.ConverseStreamInput{ModelId: in.ModelId, Messages: in.Messages, System: in.System, InferenceConfig: in.InferenceConfig}

	go func() {
		defer close(chunks)
		defer close(errs)

		out, err := c.sdk.ConverseStream(ctx, streamIn)
		if err != nil {
			errs <- wrapError(err)
			return
		}
		processStream(ctx, out, chunks, errs, c.model(req))
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
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "InternalServerException":
			return true
		}
	}
	return false
}

func wrapError(err error) *canonical.Error {
	if isRetryable(err) {
		return canonical.NewUpstreamUnavailable(err.Error(), err)
	}
	return canonical.NewUpstreamError(err.Error(), err)
}
