package devserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/parsekit/internal/transport"
)

// apiError is a failure reported to the client as {"code": n, "error": msg}.
type apiError struct {
	Status  int
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

func badRequest(code int, format string, args ...any) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *apiError {
	return &apiError{Status: http.StatusNotFound, Code: transport.CodeObjectNotFound, Message: fmt.Sprintf(format, args...)}
}

func internalError(err error) *apiError {
	return &apiError{Status: http.StatusInternalServerError, Code: transport.CodeInternalServerError, Message: err.Error()}
}

var errUnauthorized = &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"}

// asAPIError converts any error to an apiError. Missing objects become
// code 101; anything unexpected is an internal error.
func asAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, ErrNoObject) {
		return notFound("object not found")
	}
	return internalError(err)
}

// body returns the wire form of the error.
func (e *apiError) body() map[string]any {
	if e.Code == 0 {
		return map[string]any{"error": e.Message}
	}
	return map[string]any{"code": e.Code, "error": e.Message}
}
