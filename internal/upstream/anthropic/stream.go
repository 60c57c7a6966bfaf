package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// processStream drains one Anthropic SSE stream, emitting a canonical
// Chunk for each text/thinking/tool-call delta and a final chunk
// carrying FinishReason and Usage on message_stop.
func processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- canonical.Chunk, model string) {
	var toolID, toolName string
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			inputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if tu := block.AsToolUse(); tu.Type == "tool_use" {
				toolID, toolName = tu.ID, tu.Name
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- canonical.Chunk{Model: model, Delta: canonical.Delta{Content: delta.Text}}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- canonical.Chunk{Model: model, Delta: canonical.Delta{Thinking: delta.Thinking}}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					chunks <- canonical.Chunk{Model: model, Delta: canonical.Delta{
						ToolCallID:       toolID,
						ToolCallName:     toolName,
						ToolCallArgsDiff: delta.PartialJSON,
					}}
				}
			}

		case "content_block_stop":
			toolID, toolName = "", ""

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			chunks <- canonical.Chunk{
				Model:        model,
				FinishReason: mapStopReason(string(md.Delta.StopReason)),
				Usage:        &canonical.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
			}

		case "message_stop":
			return
		}
	}
}
