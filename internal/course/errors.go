package course

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when a course does not exist.
var ErrNotFound = errors.New("course: not found")

// HTTPError is a non-2xx response from the remote service.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("course: %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("course: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps 404 responses onto ErrNotFound.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}
