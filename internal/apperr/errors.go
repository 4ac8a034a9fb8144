// Package apperr defines the machine-readable error taxonomy surfaced by the
// control API. Validation, conflict, not-found, forbidden and rate-limit
// errors carry a stable code and a human message; internal errors are logged
// with full detail server-side and surfaced only as a generic failure plus a
// correlation id.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Any time this set changes, the control API documentation for
// the error envelope must be updated as well.
const (
	EInvalid           = "invalid"            // validation failed
	EConflict          = "conflict"           // duplicate slug, duplicate membership
	ENotFound          = "not_found"          // unknown tenant or job
	EUnauthorized      = "unauthorized"       // missing or invalid credentials
	EForbidden         = "forbidden"          // no membership, insufficient role, missing reauth proof
	ERateLimited       = "rate_limited"       // export cooldown window
	ETenantNotReady    = "tenant_not_ready"   // tenant exists but is not in ready status
	EInvalidTransition = "invalid_transition" // lifecycle transition not on the graph
	EInternal          = "internal"           // DDL failure, storage failure, anything transient
)

// Error is a control-plane error with a code targeted at automated handlers
// and a message targeted at the caller. Err chains the underlying cause for
// server-side logs; it is never rendered to the caller.
type Error struct {
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	if e.Msg == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error with the given code and caller-facing message.
func New(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf returns an error with a formatted caller-facing message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an internal error carrying the underlying cause. The message
// shown to callers stays generic; cause goes to the logs only.
func Wrap(msg string, err error) *Error {
	return &Error{Code: EInternal, Msg: msg, Err: err}
}

// ErrCode extracts the code from err, or EInternal when err carries none.
func ErrCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EInternal
}

// ErrMessage extracts the caller-facing message from err. Internal errors
// always map to a generic message regardless of what they wrap.
func ErrMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != EInternal {
		return e.Msg
	}
	return "an internal error occurred"
}

// HTTPStatus maps an error code to the HTTP status the control API responds with.
func HTTPStatus(err error) int {
	switch ErrCode(err) {
	case EInvalid:
		return http.StatusBadRequest
	case EConflict, EInvalidTransition:
		return http.StatusConflict
	case ENotFound:
		return http.StatusNotFound
	case EUnauthorized:
		return http.StatusUnauthorized
	case EForbidden:
		return http.StatusForbidden
	case ERateLimited:
		return http.StatusTooManyRequests
	case ETenantNotReady:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
