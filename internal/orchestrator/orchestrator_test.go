package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
)

func newTestPolicyContext() *policyengine.Context {
	return policyengine.NewContext(context.Background(), "txn-1", &canonical.Request{Model: "m"}, nil, nil)
}

// drainFrames reads from ch until it closes, with a generous timeout so a
// hung test fails instead of blocking the suite forever.
func drainFrames(t *testing.T, ch <-chan []byte) [][]byte {
	t.Helper()
	var out [][]byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, b)
		case <-timeout:
			t.Fatal("timed out draining wire frames")
		}
	}
}

func TestOrchestrator_OpenAIPassThrough(t *testing.T) {
	queues := NewQueues(8)
	pctx := newTestPolicyContext()
	policy := policyengine.NewPolicyOrchestrator(nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	o := New(queues, policy, pctx, NewOpenAIFrameFormatter(), cancel, DefaultStallThreshold, DefaultOverallDeadline)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- o.Run(ctx) }()

	queues.UpstreamChunks <- canonical.Chunk{ChoiceIndex: 0, Delta: canonical.Delta{Content: "hi"}}
	queues.UpstreamChunks <- canonical.Chunk{ChoiceIndex: 0, FinishReason: canonical.FinishStop}
	close(queues.UpstreamChunks)

	frames := drainFrames(t, queues.WireFrames)
	require.NotEmpty(t, frames)
	assert.Contains(t, string(frames[0]), `"hi"`)
	assert.Contains(t, string(frames[len(frames)-1]), "[DONE]")

	select {
	case res := <-resultCh:
		assert.Nil(t, res.Err)
		assert.Empty(t, res.TerminateReason)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestOrchestrator_StallTriggersPolicyTimeout(t *testing.T) {
	queues := NewQueues(8)
	pctx := newTestPolicyContext()
	policy := policyengine.NewPolicyOrchestrator(nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	o := New(queues, policy, pctx, NewOpenAIFrameFormatter(), cancel, 20*time.Millisecond, DefaultOverallDeadline)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- o.Run(ctx) }()

	// Never send anything and never close the queue: the stall threshold
	// must fire and unblock Run on its own.
	select {
	case res := <-resultCh:
		require.NotNil(t, res.Err)
		assert.Equal(t, canonical.ErrPolicyTimeout, res.Err.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stall")
	}
}

type terminatingPolicy struct{}

func (terminatingPolicy) Name() string { return "terminator" }
func (terminatingPolicy) OnChunkReceived(_ *policyengine.Context, _ canonical.Chunk) (policyengine.HookResult, error) {
	return policyengine.Terminate("blocked"), nil
}

func TestOrchestrator_PolicyTerminateStopsStream(t *testing.T) {
	queues := NewQueues(8)
	pctx := newTestPolicyContext()
	policy := policyengine.NewPolicyOrchestrator([]policyengine.Policy{terminatingPolicy{}})
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	o := New(queues, policy, pctx, NewOpenAIFrameFormatter(), cancel, DefaultStallThreshold, DefaultOverallDeadline)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- o.Run(ctx) }()

	queues.UpstreamChunks <- canonical.Chunk{Delta: canonical.Delta{Content: "hi"}}

	select {
	case res := <-resultCh:
		assert.Nil(t, res.Err)
		assert.Equal(t, "blocked", res.TerminateReason)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after terminate")
	}
}

func TestOrchestrator_AnthropicFramePreamble(t *testing.T) {
	queues := NewQueues(8)
	pctx := newTestPolicyContext()
	policy := policyengine.NewPolicyOrchestrator(nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	o := New(queues, policy, pctx, NewAnthropicFrameFormatter("msg_1", "claude-x"), cancel, DefaultStallThreshold, DefaultOverallDeadline)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- o.Run(ctx) }()

	queues.UpstreamChunks <- canonical.Chunk{ChoiceIndex: 0, Delta: canonical.Delta{Content: "hi"}}
	queues.UpstreamChunks <- canonical.Chunk{ChoiceIndex: 0, FinishReason: canonical.FinishStop}
	close(queues.UpstreamChunks)

	frames := drainFrames(t, queues.WireFrames)
	require.NotEmpty(t, frames)
	assert.Contains(t, string(frames[0]), "message_start")

	<-resultCh
}
