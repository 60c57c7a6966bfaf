package orchestrator

import (
	"errors"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
)

// ErrStalled is the context cancellation cause when the TimeoutMonitor's
// stall_threshold trips. ErrDeadlineExceeded is the cause when the
// overall_deadline_ms trips instead. Orchestrator.Run maps both to
// canonical.ErrPolicyTimeout.
var (
	ErrStalled          = errors.New("orchestrator: stall threshold exceeded")
	ErrDeadlineExceeded = errors.New("orchestrator: overall deadline exceeded")
)

// upstreamFailureCause carries a taxonomy error as a context cancellation
// cause, letting the pipeline's upstream-chunk feeder report a mid-stream
// provider failure through the same cancellation path the timeout
// monitor uses, instead of defaulting to ErrClientDisconnected.
type upstreamFailureCause struct{ err *canonical.Error }

func (u *upstreamFailureCause) Error() string { return u.err.Error() }

// NewUpstreamFailureCause wraps err for use as a context.CancelCauseFunc
// cause when an upstream provider fails mid-stream.
func NewUpstreamFailureCause(err *canonical.Error) error {
	return &upstreamFailureCause{err: err}
}
