package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies exchange failures.
type Kind string

const (
	// KindAuthExpired: the bearer credential was rejected twice in a row.
	KindAuthExpired Kind = "auth_expired"

	// KindSessionStale: the transport session stayed stale after a refresh.
	KindSessionStale Kind = "session_stale"

	// KindTransportFailure: a non-retryable status or a broken stream
	// before any data arrived.
	KindTransportFailure Kind = "transport_failure"

	// KindTimeout: the call's timeout elapsed.
	KindTimeout Kind = "timeout"

	// KindCanceled: the caller canceled the call.
	KindCanceled Kind = "canceled"
)

var (
	ErrAuthExpired      = &Error{Kind: KindAuthExpired}
	ErrSessionStale     = &Error{Kind: KindSessionStale}
	ErrTransportFailure = &Error{Kind: KindTransportFailure}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrCanceled         = &Error{Kind: KindCanceled}
)

// Error is the terminal failure of an exchange.
type Error struct {
	Kind       Kind
	StatusCode int
	StatusText string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := "exchange: " + string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%d %s)", e.StatusCode, e.StatusText)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrAuthExpired)
// holds regardless of status details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
