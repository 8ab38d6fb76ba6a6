package backend

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a remote call failure.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrNetworkUnavailable
	ErrInvalidArgument
	ErrRateLimited
	ErrAuthExpired
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetworkUnavailable:
		return "network unavailable"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrRateLimited:
		return "rate limited"
	case ErrAuthExpired:
		return "auth expired"
	default:
		return "unknown"
	}
}

// Error is a typed remote call failure. RetryAfter is set for
// ErrRateLimited; Code carries the raw backend code for ErrUnknown.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Code       int
	Cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrRateLimited:
		return fmt.Sprintf("backend: rate limited, retry after %s", e.RetryAfter)
	case ErrUnknown:
		if e.Code != 0 {
			return fmt.Sprintf("backend: unknown error (code %d)", e.Code)
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("backend: %s: %v", e.Kind, e.Cause)
	}
	return "backend: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps cause as a typed backend error.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// RateLimited builds an ErrRateLimited error with its retry delay.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: ErrRateLimited, RetryAfter: retryAfter}
}

// AsError extracts a *Error from err, wrapping foreign errors as
// ErrUnknown so callers always see the typed taxonomy.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: ErrUnknown, Cause: err}
}

// IsKind reports whether err is a backend error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}
