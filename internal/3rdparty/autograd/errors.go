package autograd

import (
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
)

// ErrorKind classifies request failures.
type ErrorKind string

const (
	// TransportError means no response was received (DNS, refused connection, timeout, cancellation).
	TransportError ErrorKind = "transport"
	// StatusError means the response status code was not accepted.
	StatusError ErrorKind = "status"
	// ParseError means the response body could not be decoded.
	ParseError ErrorKind = "parse"
	// RequestError means the request could not be built.
	RequestError ErrorKind = "request"
	// CallError means the RPC service returned an error envelope.
	CallError ErrorKind = "call"
)

// Error is the failure returned by RPC operations.
// Its text is meant to be shown to users as is.
type Error struct {
	Kind ErrorKind
	// StatusCode is the HTTP status code if a response was received.
	StatusCode int
	// Code is the RPC error code for CallError.
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

// asError converts an arbitrary error into *Error.
// Context errors are considered transport errors, other errors are considered request errors.
func asError(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case syncf.IsContextRelated(err):
		return newError(TransportError, err)
	default:
		return newError(RequestError, err)
	}
}
