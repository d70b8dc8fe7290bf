// Package errors defines the error taxonomy shared by the graph, index and
// retrieval layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind is the category of an error.
type Kind string

const (
	// KindInput marks a missing or malformed argument (empty query, bad depth).
	KindInput Kind = "input"
	// KindNotFound marks a lookup that found nothing. Traversal and retrieval
	// report not-found as empty results; this kind is for direct lookups only.
	KindNotFound Kind = "not_found"
	// KindUnavailable marks a missing dependency (index file, embedder, access log).
	KindUnavailable Kind = "unavailable"
	// KindConflict marks a duplicate or contradiction raised by the write gate.
	KindConflict Kind = "conflict"
	// KindProjection marks a failed projection step.
	KindProjection Kind = "projection"
)

// Error is the base error type with common fields
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Timestamp time.Time
	Err       error
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Input reports a caller mistake.
func Input(op, format string, args ...any) *Error {
	return New(KindInput, op, fmt.Sprintf(format, args...), nil)
}

// NotFound reports a missing entity.
func NotFound(op, what string) *Error {
	return New(KindNotFound, op, fmt.Sprintf("not found: %s", what), nil)
}

// Unavailable reports a dependency that could not be used.
func Unavailable(op, dependency string, err error) *Error {
	return New(KindUnavailable, op, fmt.Sprintf("%s unavailable", dependency), err)
}

// Conflict reports an advisory conflict that the caller chose to enforce.
func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, fmt.Sprintf(format, args...), nil)
}

// Projection reports a failed projection step.
func Projection(step string, err error) *Error {
	return New(KindProjection, "projection."+step, "step failed", err)
}

// Is reports whether err or anything it wraps is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}

// KindOf returns the kind of the outermost *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}
