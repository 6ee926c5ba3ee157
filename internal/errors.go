package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrorKind is the stable error taxonomy surfaced to callers.
type ErrorKind string

const (
	KindInvalidRequest  ErrorKind = "INVALID_REQUEST"
	KindNotReady        ErrorKind = "NOT_READY"
	KindRateLimited     ErrorKind = "RATE_LIMITED"
	KindBudgetExceeded  ErrorKind = "BUDGET_EXCEEDED"
	KindNoModel         ErrorKind = "NO_MODEL"
	KindTimeout         ErrorKind = "TIMEOUT"
	KindUpstreamFailure ErrorKind = "UPSTREAM_FAILURE"
	KindInternal        ErrorKind = "INTERNAL"
)

// Error is the tagged failure variant returned by the gateway pipeline.
// Dimensions carries the failing limit names on budget rejections.
type Error struct {
	Kind       ErrorKind
	Message    string
	Dimensions []string
	cause      error
}

// Error formats the kind, message, and any failing dimensions.
func (e *Error) Error() string {
	if len(e.Dimensions) > 0 {
		return fmt.Sprintf("%s: %s (limits exceeded: %s)", e.Kind, e.Message, strings.Join(e.Dimensions, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// NewError builds a gateway Error of the given kind.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WrapError builds a gateway Error wrapping an underlying cause.
func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// KindOf returns the error kind for err, or KindInternal when err is not a
// gateway Error.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}
