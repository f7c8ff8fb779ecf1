// File: internal/faults/faults.go
// Description: The error taxonomy that drives retry and abort decisions.
// Every failure that reaches the orchestrator is classified as exactly one of
// Validation, Retryable or Fatal.

package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class partitions failures by how the orchestrator must react.
type Class string

const (
	// Validation marks rejected input. Never retried, surfaced immediately,
	// guaranteed to carry no session side effects.
	Validation Class = "validation"
	// Retryable marks transient provider or network failures. Retried up to
	// a bounded count with backoff; exhaustion converts to Fatal.
	Retryable Class = "retryable"
	// Fatal marks session or game failures that abort the run. Surfaced
	// only after cleanup has run.
	Fatal Class = "fatal"
)

// Fault is a classified error. It wraps the underlying cause so callers can
// still errors.Is/As through it.
type Fault struct {
	Class Class
	// Rule names the violated constraint for Validation faults, or the
	// failing operation otherwise (e.g. "session_acquire").
	Rule     string
	Attempts int // populated when a Retryable was exhausted into a Fatal
	cause    error
}

func (f *Fault) Error() string {
	switch {
	case f.cause == nil:
		return fmt.Sprintf("%s: %s", f.Class, f.Rule)
	case f.Attempts > 0:
		return fmt.Sprintf("%s: %s after %d attempts: %v", f.Class, f.Rule, f.Attempts, f.cause)
	default:
		return fmt.Sprintf("%s: %s: %v", f.Class, f.Rule, f.cause)
	}
}

func (f *Fault) Unwrap() error { return f.cause }

// NewValidation builds a Validation fault. The message names the violated
// rule so the caller can tell bad scheme from forbidden host from malformed
// structure.
func NewValidation(rule string, cause error) *Fault {
	return &Fault{Class: Validation, Rule: rule, cause: cause}
}

// NewRetryable builds a Retryable fault for the named operation.
func NewRetryable(op string, cause error) *Fault {
	return &Fault{Class: Retryable, Rule: op, cause: cause}
}

// NewFatal builds a Fatal fault for the named operation.
func NewFatal(op string, cause error) *Fault {
	return &Fault{Class: Fatal, Rule: op, cause: cause}
}

// Exhausted converts a Retryable fault into a Fatal one after the retry
// budget ran out, preserving the cause and recording the attempt count.
func Exhausted(f *Fault, attempts int) *Fault {
	return &Fault{Class: Fatal, Rule: f.Rule, Attempts: attempts, cause: f.cause}
}

// ClassOf reports the classification of err, defaulting to Fatal for
// unclassified errors so that nothing unknown is silently retried.
func ClassOf(err error) Class {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return Fatal
}

// Classify wraps an arbitrary error from the named operation into a Fault.
// Already-classified errors pass through unchanged; timeouts and transient
// network failures become Retryable; everything else is Fatal.
func Classify(op string, err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	if isTransient(err) {
		return NewRetryable(op, err)
	}
	return NewFatal(op, err)
}

// isTransient recognizes the failure shapes worth retrying: network timeouts,
// DNS hiccups and context deadlines hit inside a bounded sub-operation.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
