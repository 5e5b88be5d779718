package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTimeout indicates an upstream or geocoder call ran out of time.
	ErrTimeout = errors.New("upstream request timed out")
	// ErrSiteNotFound is returned by GetSite for an unknown id.
	ErrSiteNotFound = errors.New("site not found")
	// ErrInvalidResponse indicates a payload that could not be parsed or had
	// an unexpected shape.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// maxResponseSnippet bounds the body kept on an UpdateFailedError.
const maxResponseSnippet = 2048

// UpdateFailedError is a classified upstream failure.
type UpdateFailedError struct {
	Provider string
	Status   int
	Response string
	Headers  http.Header
}

// Error implements the error interface.
func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("%s: update failed with status %d", e.Provider, e.Status)
}

// Retryable reports whether the upstream is expected to recover on its own.
func (e *UpdateFailedError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

// ServiceBlockedError is an UpdateFailedError where the upstream has blocked
// this client (e.g. an IP ban).
type ServiceBlockedError struct {
	*UpdateFailedError
}

// Error implements the error interface.
func (e *ServiceBlockedError) Error() string {
	return fmt.Sprintf("%s: service blocked this client (status %d)", e.Provider, e.Status)
}

// Unwrap exposes the underlying UpdateFailedError to errors.As.
func (e *ServiceBlockedError) Unwrap() error {
	return e.UpdateFailedError
}

// NewUpdateFailedError creates an UpdateFailedError, truncating the body.
func NewUpdateFailedError(provider string, status int, body string, headers http.Header) *UpdateFailedError {
	if len(body) > maxResponseSnippet {
		body = body[:maxResponseSnippet] + "..."
	}
	return &UpdateFailedError{
		Provider: provider,
		Status:   status,
		Response: body,
		Headers:  headers,
	}
}

// ClassifyStatus returns nil for 2xx responses and an UpdateFailedError otherwise.
func ClassifyStatus(provider string, status int, body string, headers http.Header) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return NewUpdateFailedError(provider, status, body, headers)
}

// IsTimeout reports whether err is a timeout of any kind.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// InvalidResponse wraps err with ErrInvalidResponse.
func InvalidResponse(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrInvalidResponse, err)
}
