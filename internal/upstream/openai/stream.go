package openai

import (
	"context"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// processStream reads one OpenAI chat completion stream, forwarding a
// canonical chunk for each content or tool-call delta, following the
// same per-index tool-call correlation the non-streaming provider uses.
func processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- canonical.Chunk, errs chan<- *canonical.Error, model string) {
	toolNames := make(map[int]string)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return
			}
			errs <- wrapError(err)
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			chunks <- canonical.Chunk{Model: model, ChoiceIndex: choice.Index, Delta: canonical.Delta{Content: delta.Content}}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if tc.Function.Name != "" {
				toolNames[index] = tc.Function.Name
			}
			chunks <- canonical.Chunk{
				Model:       model,
				ChoiceIndex: choice.Index,
				Delta: canonical.Delta{
					ToolCallID:       tc.ID,
					ToolCallName:     toolNames[index],
					ToolCallArgsDiff: tc.Function.Arguments,
				},
			}
		}
		if choice.FinishReason != "" {
			var usage *canonical.Usage
			if resp.Usage != nil {
				usage = &canonical.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
			}
			chunks <- canonical.Chunk{
				Model:        model,
				ChoiceIndex:  choice.Index,
				FinishReason: mapFinishReason(string(choice.FinishReason)),
				Usage:        usage,
			}
		}
	}
}
