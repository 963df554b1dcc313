// Package failure classifies the ways a queued image can fail. Every stage of
// the workflow converts its errors into a *Error so that the item's error
// detail is a short human-readable message while logs keep the full cause.
package failure

import (
	"errors"
	"fmt"
	"net/url"
)

// Kind identifies the stage and nature of a failure.
type Kind string

const (
	// KindValidation means the input is not something the service accepts.
	KindValidation Kind = "validation"
	// KindConfiguration means the API key is missing or unusable.
	KindConfiguration Kind = "configuration"
	// KindTransport means the request never produced an HTTP response.
	KindTransport Kind = "transport"
	// KindService means the service answered with a non-2xx status.
	KindService Kind = "service"
	// KindProtocol means a 2xx response could not be understood.
	KindProtocol Kind = "protocol"
	// KindLocalIO means the downloaded result could not replace the source file.
	KindLocalIO Kind = "local_io"
	// KindInternal covers bugs such as a panicking task.
	KindInternal Kind = "internal"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Message is shown to users as the item's error detail.
	Message string
	// StatusCode is the HTTP status for KindService failures.
	StatusCode int
	// Code is the service-supplied error identifier, e.g. "BadSignature".
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind reports the classification as a string.
func (e *Error) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

// Detail returns the user-facing message.
func (e *Error) Detail() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// Transport wraps a connection-level error. The message drops the
// method and URL prefix that net/http adds.
func Transport(err error) *Error {
	msg := "network request failed"
	if err != nil {
		msg = err.Error()
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			msg = urlErr.Err.Error()
		}
	}
	return &Error{Kind: KindTransport, Message: msg, Err: err}
}

func Service(statusCode int, code, message string) *Error {
	return &Error{Kind: KindService, Message: message, StatusCode: statusCode, Code: code}
}

func Protocol(message string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Err: err}
}

func LocalIO(message string, err error) *Error {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &Error{Kind: KindLocalIO, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// From returns err as a *Error, wrapping unclassified errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Internal(err.Error(), err)
}

// KindOf reports the classification of err, or "" when err is nil.
func KindOf(err error) Kind {
	if fe := From(err); fe != nil {
		return fe.Kind
	}
	return ""
}
