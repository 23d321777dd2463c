package gitlab

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is wrapped by API errors with status 401 or 403.
var ErrUnauthorized = errors.New("gitlab: unauthorized")

// APIError represents a failed GitLab API call.
type APIError struct {
	Op       string // Operation that failed (e.g., "Tags")
	Resource string // Endpoint or file path
	Status   int    // HTTP status, 0 when no response was received
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("gitlab %s %s: %s", e.Op, e.Resource, msg)
}

func (e *APIError) Unwrap() error {
	if e.Err == nil && (e.Status == 401 || e.Status == 403) {
		return ErrUnauthorized
	}
	return e.Err
}

// NewAPIError creates a new APIError.
func NewAPIError(op, resource string, status int, message string, err error) *APIError {
	return &APIError{
		Op:       op,
		Resource: resource,
		Status:   status,
		Message:  message,
		Err:      err,
	}
}
