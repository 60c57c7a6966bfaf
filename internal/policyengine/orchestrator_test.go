package policyengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

func newTestContext() *Context {
	return NewContext(context.Background(), "txn-1", &canonical.Request{Model: "m"}, nil, nil)
}

func TestPolicyOrchestrator_NoPolicyIsPassThrough(t *testing.T) {
	o := NewPolicyOrchestrator(nil)
	ctx := newTestContext()

	chunks := []canonical.Chunk{
		{ChoiceIndex: 0, Delta: canonical.Delta{Content: "hi"}},
		{ChoiceIndex: 0, FinishReason: canonical.FinishStop},
	}
	var out []canonical.Chunk
	for _, c := range chunks {
		res, terminated, err := o.ProcessChunk(ctx, c)
		require.NoError(t, err)
		out = append(out, res...)
		if terminated {
			break
		}
	}
	require.Len(t, out, 2)
	assert.Equal(t, "hi", out[0].Delta.Content)
	assert.Equal(t, canonical.FinishStop, out[1].FinishReason)
}

type upperCaseContentPolicy struct{}

func (upperCaseContentPolicy) Name() string { return "uppercase" }
func (upperCaseContentPolicy) OnContentDelta(_ *Context, text string) (HookResult, error) {
	return Replace(canonical.Chunk{Delta: canonical.Delta{Content: upper(text)}}), nil
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestPolicyOrchestrator_TransformUppercasesText(t *testing.T) {
	o := NewPolicyOrchestrator([]Policy{upperCaseContentPolicy{}})
	ctx := newTestContext()

	res, _, err := o.ProcessChunk(ctx, canonical.Chunk{Delta: canonical.Delta{Content: "hello"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "HELLO", res[0].Delta.Content)
}

type rejectingPolicy struct{}

func (rejectingPolicy) Name() string { return "rejector" }
func (rejectingPolicy) OnRequest(_ *Context, _ *canonical.Request) (*canonical.Request, error) {
	return nil, canonical.NewPolicyRejection("rejector", "blocked")
}

func TestPolicyOrchestrator_RequestRejection(t *testing.T) {
	o := NewPolicyOrchestrator([]Policy{rejectingPolicy{}})
	ctx := newTestContext()

	_, err := o.RunRequestHooks(ctx, ctx.Request)
	require.Error(t, err)
	cerr, ok := err.(*canonical.Error)
	require.True(t, ok)
	assert.Equal(t, canonical.ErrPolicyRejection, cerr.Kind)
	assert.Contains(t, cerr.Reason, "blocked")
}

// bufferedReplacePolicy buffers the tool_use block and replaces it with
// an error text block once complete, mirroring end-to-end scenario 3.
type bufferedReplacePolicy struct{}

func (bufferedReplacePolicy) Name() string   { return "judge" }
func (bufferedReplacePolicy) Buffers() bool { return true }
func (bufferedReplacePolicy) OnBlockComplete(_ *Context, b canonical.Block) (HookResult, error) {
	if b.Type != canonical.BlockToolCall {
		return PassThrough(), nil
	}
	return Replace(canonical.Chunk{Delta: canonical.Delta{Content: "blocked tool call"}}), nil
}

func TestPolicyOrchestrator_BufferedToolCallReplaced(t *testing.T) {
	o := NewPolicyOrchestrator([]Policy{bufferedReplacePolicy{}})
	ctx := newTestContext()

	var out []canonical.Chunk
	feed := func(c canonical.Chunk) {
		res, _, err := o.ProcessChunk(ctx, c)
		require.NoError(t, err)
		out = append(out, res...)
	}

	feed(canonical.Chunk{Delta: canonical.Delta{Content: "looking it up"}})
	feed(canonical.Chunk{Delta: canonical.Delta{ToolCallID: "call_1", ToolCallName: "search", ToolCallArgsDiff: `{}`}})
	feed(canonical.Chunk{FinishReason: canonical.FinishToolCalls})

	// The text block is buffered too and flushed unchanged when it
	// completes; the tool call's own bytes never reach the client,
	// replaced by the judge's verdict.
	require.Len(t, out, 3)
	assert.Equal(t, "looking it up", out[0].Delta.Content)
	assert.Equal(t, "blocked tool call", out[1].Delta.Content)
	assert.Equal(t, canonical.FinishToolCalls, out[2].FinishReason)
}
