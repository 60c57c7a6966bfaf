package canonical

import "fmt"

// ErrorKind enumerates the taxonomy the pipeline and dialect adapters map
// to HTTP status codes and dialect-native error bodies.
type ErrorKind string

const (
	ErrInvalidRequest     ErrorKind = "invalid_request"
	ErrUnauthorized       ErrorKind = "unauthorized"
	ErrRequestTooLarge    ErrorKind = "request_too_large"
	ErrPolicyRejection    ErrorKind = "policy_rejection"
	ErrPolicyTimeout      ErrorKind = "policy_timeout"
	ErrPolicyError        ErrorKind = "policy_error"
	ErrUpstreamError      ErrorKind = "upstream_error"
	ErrUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrClientDisconnected ErrorKind = "client_disconnected"
	ErrInternal           ErrorKind = "internal"
)

// HTTPStatus returns the status code this kind maps to at the external
// interface layer.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrInvalidRequest:
		return 400
	case ErrUnauthorized:
		return 401
	case ErrRequestTooLarge:
		return 413
	case ErrPolicyRejection:
		return 403
	case ErrPolicyTimeout:
		return 504
	case ErrPolicyError:
		return 500
	case ErrUpstreamError:
		return 502
	case ErrUpstreamUnavailable:
		return 503
	case ErrClientDisconnected:
		return 499
	default:
		return 500
	}
}

// Error is the structured error type carried through the pipeline and
// surfaced at the external interface layer. It wraps Cause (if any) so
// errors.Is/errors.As still see through to the original failure.
type Error struct {
	Kind ErrorKind

	// Path identifies the offending field for ErrInvalidRequest, e.g.
	// "messages[2].content".
	Path string

	// Reason is a human-readable explanation safe to return to the client.
	Reason string

	// PolicyName identifies the offending policy for ErrPolicyRejection,
	// ErrPolicyTimeout and ErrPolicyError.
	PolicyName string

	// Retryable is set on ErrUpstreamUnavailable. No caller retries on
	// it: the upstream clients retry their own provider calls, without
	// jitter, before they return an error. For ErrPolicyError it carries
	// the best-effort flag that BestEffort reports.
	Retryable bool

	Cause error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Reason, e.Path)
	}
	if e.PolicyName != "" {
		return fmt.Sprintf("%s: %s (policy %q)", e.Kind, e.Reason, e.PolicyName)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewInvalidRequest(path, reason string) *Error {
	return &Error{Kind: ErrInvalidRequest, Path: path, Reason: reason}
}

func NewUnauthorized(reason string) *Error {
	return &Error{Kind: ErrUnauthorized, Reason: reason}
}

func NewRequestTooLarge(reason string) *Error {
	return &Error{Kind: ErrRequestTooLarge, Reason: reason}
}

func NewPolicyRejection(policyName, reason string) *Error {
	return &Error{Kind: ErrPolicyRejection, PolicyName: policyName, Reason: reason}
}

func NewPolicyTimeout(policyName string) *Error {
	return &Error{Kind: ErrPolicyTimeout, PolicyName: policyName, Reason: "hook did not return before deadline"}
}

// NewPolicyError wraps a hook panic or unexpected error. bestEffort marks
// hooks declared observation-only; it is recorded for BestEffort and does
// not change how the error is handled.
func NewPolicyError(policyName string, cause error, bestEffort bool) *Error {
	return &Error{
		Kind:       ErrPolicyError,
		PolicyName: policyName,
		Reason:     cause.Error(),
		Retryable:  bestEffort,
		Cause:      cause,
	}
}

func NewUpstreamError(reason string, cause error) *Error {
	return &Error{Kind: ErrUpstreamError, Reason: reason, Cause: cause}
}

func NewUpstreamUnavailable(reason string, cause error) *Error {
	return &Error{Kind: ErrUpstreamUnavailable, Reason: reason, Cause: cause, Retryable: true}
}

func NewClientDisconnected() *Error {
	return &Error{Kind: ErrClientDisconnected, Reason: "client closed the connection"}
}

func NewInternal(cause error) *Error {
	return &Error{Kind: ErrInternal, Reason: "internal error", Cause: cause}
}

// BestEffort reports whether a PolicyError came from a hook declared
// observation-only. Such an error still ends the transaction like any
// other PolicyError; neither the orchestrator nor the pipeline fails open
// on it.
func (e *Error) BestEffort() bool {
	return e.Kind == ErrPolicyError && e.Retryable
}
