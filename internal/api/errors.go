package api

import (
	"fmt"
	"net/http"
)

// Error is the body of every non-2xx response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// NewError creates an API error with the given HTTP status.
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func badRequest(format string, args ...interface{}) *Error {
	return NewError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

var (
	errLookupFailed = NewError(http.StatusInternalServerError, "lookup failed")
	errUnknownUser  = NewError(http.StatusNotFound, "unknown user")
)

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}
