package scorer

import (
	"errors"
	"fmt"
)

// ErrorCategory normalizes scorer failures.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorOutage         ErrorCategory = "scorer_outage"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorRejected       ErrorCategory = "rejected"
	ErrorUnknownKey     ErrorCategory = "unknown_scorer_key"
	ErrorInternal       ErrorCategory = "internal"
)

// ErrUnknownKey is returned when no secret is configured for a scorer key.
var ErrUnknownKey = errors.New("unknown scorer key")

// Error wraps a failed scorer call. Reply is set when the scorer answered with
// its error payload.
type Error struct {
	Category   ErrorCategory
	Message    string
	Reply      *ErrorReply
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("scorer [%s]: %s: %v", e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("scorer [%s]: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func newError(category ErrorCategory, message string, underlying error) *Error {
	return &Error{Category: category, Message: message, Underlying: underlying}
}

// Transient reports whether the failure says something about scorer health
// rather than about this particular request.
func (e *Error) Transient() bool {
	switch e.Category {
	case ErrorTimeout, ErrorOutage, ErrorRateLimited:
		return true
	}
	return false
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var se *Error
	if errors.As(err, &se) {
		return se.Category
	}
	return ErrorInternal
}

func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return ErrorAuthentication
	case status == 429:
		return ErrorRateLimited
	case status >= 500:
		return ErrorOutage
	default:
		return ErrorRejected
	}
}
