package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by backends.
var (
	// ErrTransport indicates the backend could not be reached.
	ErrTransport = errors.New("backend unreachable")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported indicates the backend does not implement an operation.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrInvalidRequest indicates a request failed validation before being sent.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidResponse indicates the backend answered with an unexpected body.
	ErrInvalidResponse = errors.New("invalid response from backend")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Path       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (status %d) on %s: %s", e.StatusCode, e.Path, e.Message)
	}
	return fmt.Sprintf("backend error (status %d) on %s", e.StatusCode, e.Path)
}

// IsTransport returns true for failures that leave the backend's state unknown
// and are worth retrying later: network errors, an open circuit, and 5xx answers.
func IsTransport(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}
