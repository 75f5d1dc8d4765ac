package engine

import (
	errs "github.com/rndebug/rndebug/internal/errors"
)

// Error is a typed failure returned by every Engine operation.
// Kind is one of the sentinels in internal/errors so callers can use errors.Is,
// while Message is what gets shown to the user.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func notConnected(message string) *Error {
	return newError(errs.ErrNotConnected, message)
}
