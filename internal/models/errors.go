package models

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInvalidRequest is a caller error, such as a completion request
	// without any messages. Not retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthenticated is returned when a credential required by the
	// provider is missing. Not retried, the user has to fix the configuration.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ProviderError is a non 2xx reply. Body is kept verbatim so it can be
// surfaced to the user.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%v responded with status code: %v, body: %v", e.Provider, e.Status, e.Body)
}

// DecodeError is a reply which could not be understood.
type DecodeError struct {
	Provider string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %v response: %v", e.Provider, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TransportError is a failure to reach the provider at all, including
// timeouts. It is safe to retry but nothing in ergon does so automatically.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to reach %v: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports if the underlying failure was a timeout.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func NewInvalidRequest(format string, a ...any) error {
	return fmt.Errorf("%w: %v", ErrInvalidRequest, fmt.Sprintf(format, a...))
}

func NewUnauthenticated(provider string) error {
	return fmt.Errorf("%w: no api key configured for %v", ErrUnauthenticated, provider)
}
