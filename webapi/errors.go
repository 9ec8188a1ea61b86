package webapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable wraps transport-level failures: the server could not
	// be reached at all. Callers treat it as a signal to go offline.
	ErrUnavailable = errors.New("webapi: server unavailable")

	// ErrUnauthorized is returned for 401 responses. Deliberately generic;
	// the server never distinguishes unknown users from wrong passwords.
	ErrUnauthorized = errors.New("webapi: unauthorized")

	// ErrConflict is returned when a vault push is rejected because its
	// base revision no longer matches the server's current revision.
	ErrConflict = errors.New("webapi: vault revision conflict")
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("webapi: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("webapi: status %d", e.StatusCode)
}

// Unwrap maps well-known statuses onto sentinel errors so that callers
// can use errors.Is without inspecting status codes.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrConflict
	default:
		return nil
	}
}

// IsUnreachable reports whether err means the server could not be
// contacted (as opposed to the server answering with an error).
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
