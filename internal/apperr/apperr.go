// Package apperr defines the error kinds surfaced by the sync layer.
//
// Errors are classified where the failure is detected (transport, store
// precondition, retry timeout) and carried as *Error. Callers inspect them
// with KindOf, never by matching message text.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	// Unknown is the kind reported for errors that were never classified.
	Unknown Kind = iota
	Unreachable
	Timeout
	RemoteRejected
	IntegrityViolation
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Timeout:
		return "timeout"
	case RemoteRejected:
		return "remote_rejected"
	case IntegrityViolation:
		return "integrity_violation"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Status is the HTTP status returned by the backend, when there was one.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Rejected(op string, status int, message string) *Error {
	return &Error{Kind: RemoteRejected, Op: op, Status: status, Message: message}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromContext classifies a context failure. Deadline expiry becomes Timeout;
// other errors are returned unchanged.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Op: op, Message: "timed out", Err: err}
	}
	return err
}

// Retryable reports whether a retry loop may attempt the operation again.
// Connectivity failures and unclassified errors are retryable; explicit
// rejections and local precondition failures are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case RemoteRejected, IntegrityViolation, NotFound:
		return false
	default:
		return true
	}
}

// UserMessage renders err for display in the connection banner or a form
// error. Each kind produces a distinguishable prefix.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "server error: " + err.Error()
	}
	switch e.Kind {
	case Timeout:
		return "timed out"
	case Unreachable:
		return "network unreachable"
	case RemoteRejected:
		if e.Message != "" {
			return "server error: " + e.Message
		}
		return "server error: " + e.Error()
	case IntegrityViolation, NotFound:
		if e.Message != "" {
			return e.Message
		}
		return e.Error()
	default:
		return "server error: " + e.Error()
	}
}
