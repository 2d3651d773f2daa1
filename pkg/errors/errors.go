package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an operation failure for retry and reporting decisions.
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindNetwork       Kind = "network"
	KindRateLimited   Kind = "rate_limited"
	KindBlocked       Kind = "blocked"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindDataQuality   Kind = "data_quality"
)

// Error is the structured error carried across the governor packages.
// StatusCode is zero when the failure did not come from an HTTP response.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	URL        string
	Context    map[string]interface{}
	Timestamp  time.Time
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext attaches a key/value pair to the error and returns it.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewNetworkError reports a transient transport or remote failure.
func NewNetworkError(message string, statusCode int, url string) *Error {
	e := newError(KindNetwork, message)
	e.StatusCode = statusCode
	e.URL = url
	return e
}

// NewRateLimitError reports remote throttling. retryAfter is the server
// supplied hint in seconds, zero when the header was absent.
func NewRateLimitError(message string, retryAfter int) *Error {
	e := newError(KindRateLimited, message)
	e.StatusCode = 429
	if retryAfter > 0 {
		e.WithContext("retry_after_seconds", retryAfter)
	}
	return e
}

// NewBlockedError reports that the remote has identified and rejected the
// caller. Blocked failures are terminal, retrying makes them worse.
func NewBlockedError(message string, detectionType string) *Error {
	e := newError(KindBlocked, message)
	if detectionType != "" {
		e.WithContext("detection_type", detectionType)
	}
	return e
}

func NewValidationError(message string) *Error {
	return newError(KindValidation, message)
}

func NewConfigurationError(message string) *Error {
	return newError(KindConfiguration, message)
}

func NewDataQualityError(message string) *Error {
	return newError(KindDataQuality, message)
}

// Wrap attaches a kind to an existing error, preserving it for errors.Is/As.
func Wrap(err error, kind Kind, message string) *Error {
	e := newError(kind, message)
	e.Err = err
	return e
}

// KindOf extracts the classification from err, walking the wrap chain.
// Errors that do not carry a Kind report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf extracts the HTTP status from err when present.
func StatusOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
