// Package remote implements the outbound side of the sync engine: the
// method-call transport, the rate-limited request gateway with its response
// cache, and the batch scheduler that coalesces logical calls into composite
// invocations.
package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies remote failures into the closed set the rest of the
// engine dispatches on.
type ErrorKind string

const (
	// KindAuth means the bearer token was rejected. Never retried here;
	// token refresh is the token provider's concern.
	KindAuth ErrorKind = "auth"
	// KindQuota means the remote reported a rate/quota violation. Retried
	// with bounded backoff inside the gateway.
	KindQuota ErrorKind = "quota"
	// KindRemoteAPI is a method-specific failure, propagated as-is.
	KindRemoteAPI ErrorKind = "remote_api"
	// KindNetwork is a transient transport failure.
	KindNetwork ErrorKind = "network"
	// KindStaleCursor is long-poll specific: the event cursor is no longer
	// usable and the session must be re-acquired.
	KindStaleCursor ErrorKind = "stale_cursor"
)

// Error is a remote failure with its kind and, for API errors, the numeric
// code and message from the wire envelope.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("remote: %s: %v", e.Kind, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("remote: %s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is a remote Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

// Remote API error codes carried in the wire envelope.
const (
	codeAuthFailed      = 5
	codeTooManyRequests = 6
	codeFloodControl    = 9
	codeRateLimit       = 29
)

func kindForCode(code int) ErrorKind {
	switch code {
	case codeAuthFailed:
		return KindAuth
	case codeTooManyRequests, codeFloodControl, codeRateLimit:
		return KindQuota
	default:
		return KindRemoteAPI
	}
}

func apiError(code int, message string) *Error {
	return &Error{Kind: kindForCode(code), Code: code, Message: message}
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}
