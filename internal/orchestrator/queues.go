// Package orchestrator implements the Streaming Orchestrator (§4.4): the
// three explicit bounded queues and the PolicyExecutor, ClientFormatter,
// and TimeoutMonitor tasks that cooperate over them, plus the cancellation
// signal shared by all per-request tasks.
package orchestrator

import "github.com/luthienresearch/luthien-gateway/internal/canonical"

// DefaultQueueCapacity is the bounded size of each queue absent an
// explicit `queues.capacity` configuration value.
const DefaultQueueCapacity = 64

// Queues holds the three typed channels the pipeline wires together:
// upstream_chunks -> PolicyExecutor -> policy_chunks -> ClientFormatter
// -> wire_frames.
type Queues struct {
	UpstreamChunks chan canonical.Chunk
	PolicyChunks   chan canonical.Chunk
	WireFrames     chan []byte
}

// NewQueues allocates the three bounded queues with the given capacity.
func NewQueues(capacity int) *Queues {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queues{
		UpstreamChunks: make(chan canonical.Chunk, capacity),
		PolicyChunks:   make(chan canonical.Chunk, capacity),
		WireFrames:     make(chan []byte, capacity),
	}
}
