package orchestrator

import (
	"context"
	"sync/atomic"
	"time"
)

const pollInterval = 100 * time.Millisecond

// DefaultStallThreshold and DefaultOverallDeadline are the §6 config
// defaults (`limits.stall_threshold_ms`, `limits.overall_deadline_ms`).
const (
	DefaultStallThreshold  = 30 * time.Second
	DefaultOverallDeadline = 10 * time.Minute
)

// TimeoutMonitor watches a request's forward-progress keepalive and its
// overall wall-clock budget, cancelling the request's tasks if either is
// exceeded. Any task makes forward progress by calling Kick.
type TimeoutMonitor struct {
	stallThreshold  time.Duration
	overallDeadline time.Duration

	lastProgress atomic.Int64 // unix nanos
	start        time.Time

	cancel  context.CancelCauseFunc
	stalled atomic.Bool
}

// NewTimeoutMonitor creates a monitor that calls cancel with
// ErrStalled or ErrDeadlineExceeded when the corresponding limit trips.
func NewTimeoutMonitor(cancel context.CancelCauseFunc, stallThreshold, overallDeadline time.Duration) *TimeoutMonitor {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	if overallDeadline <= 0 {
		overallDeadline = DefaultOverallDeadline
	}
	m := &TimeoutMonitor{
		stallThreshold:  stallThreshold,
		overallDeadline: overallDeadline,
		start:           time.Now(),
		cancel:          cancel,
	}
	m.Kick()
	return m
}

// Kick records forward progress: a chunk read, a chunk written, or a
// policy hook completing.
func (m *TimeoutMonitor) Kick() {
	m.lastProgress.Store(time.Now().UnixNano())
}

// Stalled reports whether this monitor cancelled the request for a
// stall (as opposed to the overall deadline or an external cancel).
func (m *TimeoutMonitor) Stalled() bool {
	return m.stalled.Load()
}

// Run polls every 100ms until ctx is done, cancelling ctx itself via the
// stored cancel function if the stall threshold or overall deadline
// trips first. Callers run this as one of the per-request tasks.
func (m *TimeoutMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if now.Sub(m.start) > m.overallDeadline {
				m.cancel(ErrDeadlineExceeded)
				return
			}
			last := time.Unix(0, m.lastProgress.Load())
			if now.Sub(last) > m.stallThreshold {
				m.stalled.Store(true)
				m.cancel(ErrStalled)
				return
			}
		}
	}
}
