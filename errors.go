package agentcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrKind classifies an error for retry and circuit-breaker decisions.
// Named kinds let callers branch on failure category without parsing
// error strings or depending on a specific provider's error type.
type ErrKind string

const (
	// ErrKindTransient covers failures expected to succeed on retry:
	// rate limits, timeouts, connection resets.
	ErrKindTransient ErrKind = "transient"
	// ErrKindPermanent covers failures that will not succeed on retry:
	// malformed requests, auth failures, schema violations.
	ErrKindPermanent ErrKind = "permanent"
	// ErrKindCancelled covers context cancellation and deadline exceeded.
	ErrKindCancelled ErrKind = "cancelled"
	// ErrKindBudget covers resource budget exhaustion (suspend snapshot
	// budget, attachment budget, token budget).
	ErrKindBudget ErrKind = "budget"
)

// AgentError is the runtime's general-purpose typed error. Components that
// need richer error detail (tool invocation, hook pipeline, checkpoint
// store) wrap an underlying cause with a Kind and optional Code.
type AgentError struct {
	Kind    ErrKind
	Code    string // stable machine-readable identifier, e.g. "tool_timeout"
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// Retryable reports whether the error kind justifies a retry attempt.
func (e *AgentError) Retryable() bool { return e.Kind == ErrKindTransient }

// ErrLLM wraps a provider-level failure with the provider's name.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP wraps a non-2xx HTTP response from a provider or tool backend.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// isTransientStatus reports whether an HTTP status code is worth retrying.
func isTransientStatus(status int) bool {
	return status == 429 || status == 503
}

// ErrContextLength indicates a model call failed because the accumulated
// message history exceeded the provider's context window. The run loop
// treats this as a one-shot emergency-compaction-then-retry condition when
// WithErrorFallback is set.
type ErrContextLength struct {
	Provider string
	Message  string
}

func (e *ErrContextLength) Error() string {
	return fmt.Sprintf("%s: context length exceeded: %s", e.Provider, e.Message)
}

// ErrToolTimeout indicates a tool invocation exceeded its configured timeout.
type ErrToolTimeout struct {
	Tool    string
	Timeout string
}

func (e *ErrToolTimeout) Error() string {
	return fmt.Sprintf("tool %q exceeded timeout %s", e.Tool, e.Timeout)
}

// ErrToolDenied indicates the hook pipeline denied a tool invocation.
type ErrToolDenied struct {
	Tool   string
	Reason string
}

func (e *ErrToolDenied) Error() string {
	return fmt.Sprintf("tool %q denied: %s", e.Tool, e.Reason)
}

// ErrCircuitOpen indicates a call was rejected because its circuit breaker
// is open following repeated transient failures.
type ErrCircuitOpen struct {
	Name string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit %q open", e.Name)
}

// classify inspects an error and returns its ErrKind, defaulting to
// ErrKindPermanent for errors that carry no other classification signal.
func classify(err error) ErrKind {
	if err == nil {
		return ""
	}
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrKindCancelled
	}
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) && isTransientStatus(httpErr.Status) {
		return ErrKindTransient
	}
	return ErrKindPermanent
}
