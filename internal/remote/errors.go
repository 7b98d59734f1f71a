package remote

import (
	"errors"
	"fmt"
)

// APIError reports a non-2xx reply from a remote platform.
type APIError struct {
	Service string
	Method  string
	Path    string
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s %s: status %d", e.Service, e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Service, e.Method, e.Path, e.Status, e.Body)
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not an APIError.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
