package assistant

import (
	"errors"
	"fmt"
)

// ErrNoCredentials means the pool had nothing available to dispatch with.
// Maps to a 503-class condition in a serving context.
var ErrNoCredentials = errors.New("no credentials available in pool")

// ErrUnauthorized means the backend rejected the access token.
var ErrUnauthorized = errors.New("credential unauthorized")

// ErrForbidden means the backend refused the request outright.
var ErrForbidden = errors.New("access forbidden")

// ErrQuotaExceeded means the credential is rate limited. Recoverable at
// the quota reset boundary; not a ban.
var ErrQuotaExceeded = errors.New("rate limited: quota exceeded")

// APIError is any other non-200 response from the generation endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("assistant API error %d: %s", e.StatusCode, e.Body)
}
