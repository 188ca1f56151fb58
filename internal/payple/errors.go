package payple

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ExternalServiceError is a transport level failure talking to Payple.
// Transient errors (network failures, 429 and 5xx) are retried and counted by
// the circuit breaker.
type ExternalServiceError struct {
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payple %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payple %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// APIError is a business rejection reported in a Payple result code. It is
// never retried and does not count as a breaker failure.
type APIError struct {
	Op      string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payple %s rejected: %s %s", e.Op, e.Code, e.Message)
}

// IsTransient reports whether err is a transient transport failure.
func IsTransient(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Transient
}
