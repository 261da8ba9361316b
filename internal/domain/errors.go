package domain

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid portfolio or run configuration. It is
// fatal and surfaces to the caller before any schedule expansion, price
// resolution or simulation work happens.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for the given field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// InsufficientDataError reports that performance metrics could not be
// computed, typically because no capital was ever invested. The ledger and
// equity curve of the run remain valid.
type InsufficientDataError struct {
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return "insufficient data for metrics: " + e.Reason
}

// IsInsufficientData reports whether err is (or wraps) an
// InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	return errors.As(err, &ie)
}

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// ErrOutOfRange is returned when a price is requested outside the
// resolved date range.
var ErrOutOfRange = errors.New("date outside resolved range")

// ErrPriceUnavailable is returned when no price exists for a (symbol, date)
// pair inside the resolved range, e.g. a weekend date on a real series.
var ErrPriceUnavailable = errors.New("price unavailable")
