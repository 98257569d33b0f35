package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidBaseURL = errors.New("transport: invalid base url")
	ErrInvalidInput   = errors.New("transport: invalid input")
)

// StatusError is returned by Client for any non-2xx response.
type StatusError struct {
	Client     string
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %s: %d %s", e.Client, e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unauthorized reports whether the server rejected the credential.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsUnauthorized reports whether err carries a credential rejection.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Unauthorized()
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
