package helpers

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type MarketStreamError struct {
	Message string
	Cause   error
}

func (e *MarketStreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *MarketStreamError) Unwrap() error {
	return e.Cause
}

// ConnectionError: upstream dial, read, write or heartbeat failure. Retried with backoff.
type ConnectionError struct{ MarketStreamError }

// ProtocolError: malformed upstream or client message. Dropped and logged.
type ProtocolError struct{ MarketStreamError }

// ConfigurationError: invalid subscription or indicator parameters. Surfaced to the caller.
type ConfigurationError struct{ MarketStreamError }

// BackfillError: REST history fetch failed.
type BackfillError struct{ MarketStreamError }

// OverflowError: a client could not keep up with its outbound queue.
type OverflowError struct{ MarketStreamError }

// -----------------------------------------------------------------------------

func NewConnectionError(cause error, format string, args ...interface{}) error {
	return &ConnectionError{MarketStreamError{Message: fmt.Sprintf(format, args...), Cause: cause}}
}

func NewProtocolError(cause error, format string, args ...interface{}) error {
	return &ProtocolError{MarketStreamError{Message: fmt.Sprintf(format, args...), Cause: cause}}
}

func NewConfigurationError(format string, args ...interface{}) error {
	return &ConfigurationError{MarketStreamError{Message: fmt.Sprintf(format, args...)}}
}

func NewBackfillError(cause error, format string, args ...interface{}) error {
	return &BackfillError{MarketStreamError{Message: fmt.Sprintf(format, args...), Cause: cause}}
}

func NewOverflowError(format string, args ...interface{}) error {
	return &OverflowError{MarketStreamError{Message: fmt.Sprintf(format, args...)}}
}

// -----------------------------------------------------------------------------

// IsConfigurationError reports whether err (or anything it wraps) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsProtocolError reports whether err (or anything it wraps) is a ProtocolError.
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}
