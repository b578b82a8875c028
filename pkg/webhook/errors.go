package webhook

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL           = errors.New("invalid webhook URL")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrCircuitOpen          = errors.New("webhook circuit breaker is open")
	ErrTimeout              = errors.New("webhook request timeout")
	ErrPermanentFailure     = errors.New("permanent webhook failure")
	ErrTemporaryFailure     = errors.New("temporary webhook failure")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
)

// StatusError is returned when the endpoint answers with a non-2xx status.
// It wraps ErrPermanentFailure for client errors that will not change on
// retry and ErrTemporaryFailure otherwise.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if IsPermanentStatus(e.StatusCode) {
		return ErrPermanentFailure
	}
	return ErrTemporaryFailure
}

// IsPermanentStatus reports whether a response status means retrying is pointless.
// Most 4xx codes qualify; 408, 425 and 429 are transient.
func IsPermanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case 408, 425, 429:
		return false
	}
	return true
}

// IsCircuitOpen checks if an error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsPermanent reports whether err is a delivery failure that should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFailure)
}
