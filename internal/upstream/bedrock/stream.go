package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// processStream drains one Bedrock ConverseStream output, forwarding a
// canonical chunk per text/tool-input delta. The finish reason from
// message_stop is held until the metadata event that follows it, so one
// final chunk carries both finish reason and usage (or the finish reason
// alone, if the stream ends without metadata).
func processStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, chunks chan<- canonical.Chunk, errs chan<- *canonical.Error, model string) {
	stream := out.GetStream()
	defer stream.Close()

	var toolID, toolName string
	var finish canonical.FinishReason

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					errs <- wrapError(err)
				} else if finish != canonical.FinishNone {
					chunks <- canonical.Chunk{Model: model, FinishReason: finish}
				}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolID = aws.ToString(tu.Value.ToolUseId)
					toolName = aws.ToString(tu.Value.Name)
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if d.Value != "" {
						chunks <- canonical.Chunk{Model: model, Delta: canonical.Delta{Content: d.Value}}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if d.Value.Input != nil {
						chunks <- canonical.Chunk{Model: model, Delta: canonical.Delta{
							ToolCallID:       toolID,
							ToolCallName:     toolName,
							ToolCallArgsDiff: aws.ToString(d.Value.Input),
						}}
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				toolID, toolName = "", ""

			case *types.ConverseStreamOutputMemberMessageStop:
				finish = mapStopReason(string(ev.Value.StopReason))

			case *types.ConverseStreamOutputMemberMetadata:
				var usage *canonical.Usage
				if ev.Value.Usage != nil {
					usage = &canonical.Usage{
						InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					}
				}
				if finish != canonical.FinishNone || usage != nil {
					chunks <- canonical.Chunk{Model: model, FinishReason: finish, Usage: usage}
				}
				finish = canonical.FinishNone
			}
		}
	}
}
