package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luthienresearch/luthien-gateway/internal/canonical"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
)

// Result summarizes how a streaming request's pipeline ended.
type Result struct {
	// Err is non-nil if the stream ended abnormally (policy timeout,
	// policy error, or an upstream error surfaced mid-stream).
	Err *canonical.Error
	// TerminateReason is set when a policy used the terminate action.
	TerminateReason string
}

// Orchestrator runs the three per-request tasks described in §4.4 over a
// set of Queues: PolicyExecutor, ClientFormatter, and TimeoutMonitor. The
// caller supplies a fourth task, the upstream reader, which pushes
// canonical chunks into Queues.UpstreamChunks and closes it at
// end-of-stream — that task lives in internal/pipeline since it owns the
// upstream client.
type Orchestrator struct {
	queues  *Queues
	policy  *policyengine.PolicyOrchestrator
	ctx     *policyengine.Context
	frames  FrameFormatter
	timeout *TimeoutMonitor
}

// New builds an Orchestrator ready to Run. cancel must cancel the same
// context passed to Run, via context.WithCancelCause, so the
// TimeoutMonitor can distinguish stall/deadline from an external cancel
// (e.g. client disconnect).
func New(queues *Queues, policy *policyengine.PolicyOrchestrator, pctx *policyengine.Context, frames FrameFormatter, cancel context.CancelCauseFunc, stallThreshold, overallDeadline time.Duration) *Orchestrator {
	return &Orchestrator{
		queues:  queues,
		policy:  policy,
		ctx:     pctx,
		frames:  frames,
		timeout: NewTimeoutMonitor(cancel, stallThreshold, overallDeadline),
	}
}

// Run starts PolicyExecutor, ClientFormatter, and TimeoutMonitor, and
// blocks until all three exit (following a client disconnect, a policy
// terminate/error, or successful stream completion). It returns the
// Result describing how the stream ended; Queues.WireFrames has already
// been closed by the time Run returns.
func (o *Orchestrator) Run(ctx context.Context) Result {
	var wg sync.WaitGroup
	var result Result
	var resultMu sync.Mutex
	setResult := func(r Result) {
		resultMu.Lock()
		defer resultMu.Unlock()
		if result.Err == nil && result.TerminateReason == "" {
			result = r
		}
	}

	// The monitor runs on its own child context so it can be stopped once
	// both stages have exited; otherwise it would keep polling until the
	// stall threshold tripped on a stream that already finished.
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go func() {
		defer monitorWG.Done()
		o.timeout.Run(monitorCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(o.queues.PolicyChunks)
		if err := o.runPolicyExecutor(ctx); err != nil {
			if ce, ok := err.(*canonical.Error); ok {
				setResult(Result{Err: ce})
			} else {
				setResult(Result{Err: canonical.NewInternal(err)})
			}
		} else if o.policy.TerminateReason() != "" {
			setResult(Result{TerminateReason: o.policy.TerminateReason()})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(o.queues.WireFrames)
		o.runClientFormatter(ctx)
	}()

	wg.Wait()
	stopMonitor()
	monitorWG.Wait()

	if ctx.Err() != nil {
		resultMu.Lock()
		already := result.Err != nil || result.TerminateReason != ""
		resultMu.Unlock()
		if !already {
			cause := context.Cause(ctx)
			var uf *upstreamFailureCause
			switch {
			case errors.As(cause, &uf):
				setResult(Result{Err: uf.err})
			case cause == ErrStalled, cause == ErrDeadlineExceeded:
				setResult(Result{Err: canonical.NewPolicyTimeout("")})
			default:
				setResult(Result{Err: canonical.NewClientDisconnected()})
			}
		}
	}

	resultMu.Lock()
	defer resultMu.Unlock()
	return result
}

func (o *Orchestrator) runPolicyExecutor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-o.queues.UpstreamChunks:
			if !ok {
				return nil
			}
			o.timeout.Kick()
			out, terminated, err := o.policy.ProcessChunk(o.ctx, chunk)
			if err != nil {
				return err
			}
			for _, c := range out {
				select {
				case <-ctx.Done():
					return nil
				case o.queues.PolicyChunks <- c:
				}
			}
			o.timeout.Kick()
			if terminated {
				return nil
			}
		}
	}
}

func (o *Orchestrator) runClientFormatter(ctx context.Context) {
	for _, b := range o.frames.Preamble() {
		if !o.writeFrame(ctx, b) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-o.queues.PolicyChunks:
			if !ok {
				for _, b := range o.frames.FormatTerminal() {
					if !o.writeFrame(ctx, b) {
						return
					}
				}
				return
			}
			frames, err := o.frames.FormatChunk(chunk)
			if err != nil {
				return
			}
			for _, b := range frames {
				if !o.writeFrame(ctx, b) {
					return
				}
			}
			o.timeout.Kick()
		}
	}
}

func (o *Orchestrator) writeFrame(ctx context.Context, b []byte) bool {
	if b == nil {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case o.queues.WireFrames <- b:
		return true
	}
}
