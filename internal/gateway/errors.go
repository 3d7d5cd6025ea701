package gateway

import (
	"errors"
	"fmt"
)

// FailureKind classifies a provider failure for the retry policy.
type FailureKind string

const (
	FailureAuth          FailureKind = "auth"
	FailureRateLimited   FailureKind = "rate_limited"
	FailureTimeout       FailureKind = "timeout"
	FailureProvider      FailureKind = "provider"
	FailureBadRequest    FailureKind = "bad_request"
	FailureContentPolicy FailureKind = "content_policy"
)

// Transient reports whether a failure of this kind is worth retrying.
// Auth failures, malformed requests, and policy rejections never recover
// on retry.
func (k FailureKind) Transient() bool {
	switch k {
	case FailureRateLimited, FailureTimeout, FailureProvider:
		return true
	default:
		return false
	}
}

// CallError is a classified provider failure.
type CallError struct {
	Kind FailureKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError wraps a provider error with its classification.
func NewCallError(kind FailureKind, err error) *CallError {
	return &CallError{Kind: kind, Err: err}
}

// ErrCallFailed is the terminal gateway error: all retry attempts were
// exhausted, or the failure was permanent. It always wraps the last cause.
var ErrCallFailed = errors.New("llm call failed")

// IsTransient reports whether err is a classified transient failure.
// Unclassified errors are treated as transient provider failures so that a
// flaky network path still gets its retries.
func IsTransient(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind.Transient()
	}
	return true
}
