package logsieve

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped from API error codes.
var (
	// ErrOverloaded means the server buffers are full; back off and resend
	// the records that were not accepted.
	ErrOverloaded = errors.New("logsieve: server overloaded")
	// ErrBadCursor means the continuation token is invalid or belongs to a
	// different query.
	ErrBadCursor = errors.New("logsieve: bad continuation token")
	// ErrUnauthorized means the API key was missing or rejected.
	ErrUnauthorized = errors.New("logsieve: unauthorized")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("logsieve: api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps well-known API codes onto sentinel errors so callers can use
// errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "overloaded":
		return ErrOverloaded
	case "bad_cursor":
		return ErrBadCursor
	case "unauthorized":
		return ErrUnauthorized
	default:
		return nil
	}
}
