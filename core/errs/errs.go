// Package errs defines the error taxonomy shared by the pipeline.
//
// Every error crossing a package boundary is an *Error carrying a Kind. HTTP
// handlers map the kind to a status code and message handlers use it to decide
// between retrying and dead-lettering.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindDownstream
	KindMessaging
	KindRoutingProvider
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDownstream:
		return "downstream"
	case KindMessaging:
		return "messaging"
	case KindRoutingProvider:
		return "routing_provider"
	default:
		return "internal"
	}
}

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with the given kind and operation. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a validation error with a formatted message.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotFound returns a not-found error with a formatted message.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// Conflict returns a conflict error with a formatted message.
func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Err: fmt.Errorf(format, args...)}
}

// Downstream wraps a failed collaborator call.
func Downstream(op string, err error) error { return E(KindDownstream, op, err) }

// Routing wraps a mapping provider failure.
func Routing(op string, err error) error { return E(KindRoutingProvider, op, err) }

// Messaging wraps a broker failure.
func Messaging(op string, err error) error { return E(KindMessaging, op, err) }

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// HTTPStatus maps err to the status code returned by the HTTP surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a failed message should be retried. Malformed
// input never succeeds on a second attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation:
		return false
	default:
		return true
	}
}
