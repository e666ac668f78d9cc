package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by the synchronous send path when the
	// client was never set up with a host and API key.
	ErrNotConfigured = errors.New("shiplog: client not configured")

	// ErrRateLimited is terminal for the process: once observed, the
	// circuit breaker opens and every later send fails fast with it.
	ErrRateLimited = errors.New("shiplog: rate limited by collector")
)

// EncodingError marks an event that cannot be serialized. It is dropped,
// never persisted or retried.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode event: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// TransportError marks a send attempt that never received a response.
// Events failing this way are retryable and eligible for persistence.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send event: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerRejectionError marks a received non-2xx, non-429 response. The
// event is dropped permanently.
type ServerRejectionError struct {
	StatusCode int
}

func (e *ServerRejectionError) Error() string {
	return fmt.Sprintf("collector rejected event: status %d", e.StatusCode)
}
