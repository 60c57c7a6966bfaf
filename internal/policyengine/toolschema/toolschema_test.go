package toolschema

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
)

func newTestContext(tools []canonical.ToolSpec) *policyengine.Context {
	req := &canonical.Request{Tools: tools}
	return policyengine.NewContext(context.Background(), "txn-1", req, nil, nil)
}

func weatherTool() canonical.ToolSpec {
	return canonical.ToolSpec{
		Name: "get_weather",
		JSONSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}`),
	}
}

func TestToolSchema_PassThroughWhenNoSchema(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	policy := p.(*Policy)

	ctx := newTestContext(nil)
	block := canonical.Block{Type: canonical.BlockToolCall, ToolName: "get_weather", ArgsJSON: `{}`}

	result, err := policy.OnBlockComplete(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, policyengine.ActionPassThrough, result.Action)
}

func TestToolSchema_ValidArguments(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	policy := p.(*Policy)

	ctx := newTestContext([]canonical.ToolSpec{weatherTool()})
	block := canonical.Block{Type: canonical.BlockToolCall, ToolName: "get_weather", ArgsJSON: `{"city":"Boston"}`}

	result, err := policy.OnBlockComplete(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, policyengine.ActionPassThrough, result.Action)
}

func TestToolSchema_InvalidArgumentsNonStrictPassesThrough(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	policy := p.(*Policy)

	ctx := newTestContext([]canonical.ToolSpec{weatherTool()})
	block := canonical.Block{Type: canonical.BlockToolCall, ToolName: "get_weather", ArgsJSON: `{}`}

	result, err := policy.OnBlockComplete(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, policyengine.ActionPassThrough, result.Action)
}

func TestToolSchema_InvalidArgumentsStrictTerminates(t *testing.T) {
	p, err := New(json.RawMessage(`{"strict":true}`))
	require.NoError(t, err)
	policy := p.(*Policy)

	ctx := newTestContext([]canonical.ToolSpec{weatherTool()})
	block := canonical.Block{Type: canonical.BlockToolCall, ToolName: "get_weather", ArgsJSON: `{}`}

	result, err := policy.OnBlockComplete(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, policyengine.ActionTerminate, result.Action)
	assert.NotEmpty(t, result.Reason)
}

func TestToolSchema_NonToolCallBlockPassesThrough(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	policy := p.(*Policy)

	ctx := newTestContext([]canonical.ToolSpec{weatherTool()})
	block := canonical.Block{Type: canonical.BlockText, Text: "hello"}

	result, err := policy.OnBlockComplete(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, policyengine.ActionPassThrough, result.Action)
}
