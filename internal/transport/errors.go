package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Service error codes carried in {"code": n, "error": "..."} bodies.
const (
	CodeInternalServerError = 1
	CodeObjectNotFound      = 101
	CodeInvalidQuery        = 102
	CodeInvalidClassName    = 103
	CodeMissingObjectID     = 104
	CodeInvalidKeyName      = 105
	CodeInvalidJSON         = 107
	CodeIncorrectType       = 111
	CodeUsernameMissing     = 200
	CodePasswordMissing     = 201
	CodeUsernameTaken       = 202
	CodeSessionMissing      = 206
	CodeInvalidSessionToken = 209
)

// RemoteRequestError is a failed exchange with the service: a non-2xx
// response, an unreadable body, or a transport failure (Status 0, Err set).
type RemoteRequestError struct {
	// Method and Path identify the request.
	Method string
	Path   string

	// Status is the HTTP status code, 0 when no response arrived.
	Status int

	// Code is the service error code, 0 when the body had none.
	Code int

	// Message is the service error message or a description of the failure.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *RemoteRequestError) Error() string {
	target := e.Method + " " + e.Path
	switch {
	case e.Status != 0 && e.Code != 0:
		return fmt.Sprintf("%s: status %d, code %d: %s", target, e.Status, e.Code, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("%s: code %d: %s", target, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", target, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: %s", target, e.Message)
	}
}

// Unwrap returns the transport error.
func (e *RemoteRequestError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a remote "object not found" failure:
// service code 101, or an HTTP 404 whatever its body.
func IsNotFound(err error) bool {
	var re *RemoteRequestError
	if errors.As(err, &re) {
		return re.Code == CodeObjectNotFound || re.Status == http.StatusNotFound
	}
	return false
}

// HasCode reports whether err is a RemoteRequestError with one of codes.
func HasCode(err error, codes ...int) bool {
	var re *RemoteRequestError
	if !errors.As(err, &re) {
		return false
	}
	for _, c := range codes {
		if re.Code == c {
			return true
		}
	}
	return false
}

// NewServiceError builds the error for a service-level failure, such as
// one entry of a batch response.
func NewServiceError(method, path string, code int, message string) *RemoteRequestError {
	return &RemoteRequestError{Method: method, Path: path, Code: code, Message: message}
}
