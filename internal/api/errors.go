package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrStatus marks a non-2xx HTTP response.
var ErrStatus = errors.New("api: unexpected status")

// Error is a structured failure from the backend or from the job lifecycle
// built on top of it. Err identifies the kind for errors.Is.
type Error struct {
	Message string
	Status  int
	// Body is the raw error response, kept for diagnostics.
	Body    []byte
	Context map[string]any
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// newStatusError builds an Error from a non-2xx response.
func newStatusError(status int, body []byte) *Error {
	return &Error{
		Message: detailMessage(status, body),
		Status:  status,
		Body:    body,
		Err:     ErrStatus,
	}
}

// detailMessage extracts the backend's "detail" string. Any other body
// shape falls back to a generic status message.
func detailMessage(status int, body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		if raw, ok := payload["detail"]; ok {
			var detail string
			if err := json.Unmarshal(raw, &detail); err == nil && strings.TrimSpace(detail) != "" {
				return detail
			}
		}
	}
	return fmt.Sprintf("API error: %d", status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}
