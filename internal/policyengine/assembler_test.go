package policyengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

type recordingListener struct {
	events []string
}

func (l *recordingListener) OnBlockStarted(b canonical.Block) {
	l.events = append(l.events, "start:"+string(b.Type))
}
func (l *recordingListener) OnContentDelta(text string) {
	l.events = append(l.events, "content:"+text)
}
func (l *recordingListener) OnToolCallDelta(id, name, frag string) {
	l.events = append(l.events, "tool:"+id+":"+frag)
}
func (l *recordingListener) OnThinkingDelta(text string) {
	l.events = append(l.events, "thinking:"+text)
}
func (l *recordingListener) OnBlockComplete(b canonical.Block) {
	l.events = append(l.events, "complete:"+string(b.Type))
}
func (l *recordingListener) OnResponseComplete(fr canonical.FinishReason, usage *canonical.Usage) {
	l.events = append(l.events, "done:"+string(fr))
}

func TestBlockAssembler_TextThenFinish(t *testing.T) {
	l := &recordingListener{}
	a := NewBlockAssembler(l)

	a.Feed(canonical.Chunk{ChoiceIndex: 0, Delta: canonical.Delta{Content: "hi"}})
	a.Feed(canonical.Chunk{ChoiceIndex: 0, Delta: canonical.Delta{Content: " there"}})
	a.Feed(canonical.Chunk{ChoiceIndex: 0, FinishReason: canonical.FinishStop})

	assert.Equal(t, []string{
		"start:text",
		"content:hi",
		"content: there",
		"complete:text",
		"done:stop",
	}, l.events)
}

func TestBlockAssembler_ZeroChunkStream(t *testing.T) {
	l := &recordingListener{}
	a := NewBlockAssembler(l)

	a.Feed(canonical.Chunk{ChoiceIndex: 0, FinishReason: canonical.FinishStop})

	assert.Equal(t, []string{"done:stop"}, l.events)
}

func TestBlockAssembler_TextThenToolCall(t *testing.T) {
	l := &recordingListener{}
	a := NewBlockAssembler(l)

	a.Feed(canonical.Chunk{Delta: canonical.Delta{Content: "checking"}})
	a.Feed(canonical.Chunk{Delta: canonical.Delta{ToolCallID: "call_1", ToolCallName: "search", ToolCallArgsDiff: `{"q":`}})
	a.Feed(canonical.Chunk{Delta: canonical.Delta{ToolCallID: "call_1", ToolCallArgsDiff: `"x"}`}})
	a.Feed(canonical.Chunk{FinishReason: canonical.FinishToolCalls})

	require.Equal(t, []string{
		"start:text",
		"content:checking",
		"complete:text",
		"start:tool_call",
		`tool:call_1:{"q":`,
		`tool:call_1:"x"}`,
		"complete:tool_call",
		"done:tool_calls",
	}, l.events)
}

func TestBlockAssembler_FeedAfterResponseCompletePanics(t *testing.T) {
	l := &recordingListener{}
	a := NewBlockAssembler(l)
	a.Feed(canonical.Chunk{FinishReason: canonical.FinishStop})

	assert.Panics(t, func() {
		a.Feed(canonical.Chunk{Delta: canonical.Delta{Content: "late"}})
	})
}
