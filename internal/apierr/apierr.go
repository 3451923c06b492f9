// Package apierr defines the control API's error kinds and their mapping
// onto HTTP status codes at the API boundary: a Code/Message/Err error
// type plus a switch from code to status.
package apierr

import "net/http"

// Code names one of the error kinds a subsystem boundary can return.
type Code string

const (
	InvalidArgs       Code = "INVALID_ARGUMENT"
	InvalidState      Code = "INVALID_STATE"
	Busy              Code = "BUSY"
	Timeout           Code = "TIMEOUT"
	ResourceExhausted Code = "RESOURCE_EXHAUSTED"
	NotFound          Code = "NOT_FOUND"
	TransportFail     Code = "TRANSPORT_FAIL"
	Internal          Code = "INTERNAL"
)

// Error is the error type every subsystem boundary returns, wrapping an
// underlying cause when one exists.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error { return &Error{Code: code, Message: message} }

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func InvalidArg(message string) *Error       { return New(InvalidArgs, message) }
func NotFoundf(message string) *Error        { return New(NotFound, message) }
func Conflict(message string) *Error         { return New(InvalidState, message) }
func BusyErr(message string) *Error          { return New(Busy, message) }
func TimeoutErr(message string) *Error       { return New(Timeout, message) }
func Exhausted(message string) *Error        { return New(ResourceExhausted, message) }
func Transport(message string, err error) *Error {
	return Wrap(TransportFail, message, err)
}

// HTTPStatus maps a Code to the HTTP status code a client should see.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidArgs:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InvalidState, ResourceExhausted:
		return http.StatusConflict
	case Busy:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusRequestTimeout
	case TransportFail:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
