package portal

import (
	"errors"
	"fmt"
)

// ErrSuspended means the backend declared the account banned (HTTP 423 or
// an AccountSuspendedException body). Sticky: the caller should report it
// to the pool, never retry.
var ErrSuspended = errors.New("account suspended")

// ErrUnauthorized means the access token is expired or invalid.
var ErrUnauthorized = errors.New("token expired or invalid")

// RPCError is any other non-2xx portal response, carrying the decoded (or
// raw) error body as detail.
type RPCError struct {
	Operation  string
	StatusCode int
	Detail     string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Operation, e.StatusCode, e.Detail)
}

// DecodeError is a malformed envelope on an otherwise successful response.
// Not the credential's fault; the caller must not penalize it.
type DecodeError struct {
	Operation string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Operation, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
