package daytime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two failure classes. Wrapped errors carry the
// offending input; callers classify with errors.Is or the helpers below.
var (
	// ErrFormat reports text that does not match the "HH:MM:SS" shape.
	ErrFormat = errors.New("malformed clock time")

	// ErrRange reports a well-formed value outside the 24-hour domain.
	ErrRange = errors.New("clock time out of range")
)

// FormatError wraps ErrFormat with the offending input text.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("daytime: invalid time format %q, expected HH:MM:SS", e.Input)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// RangeError wraps ErrRange with the component that failed validation.
// Component is "hour", "minute", or "second" for Parse failures and
// "instant" for Format failures; Input is empty for Format failures.
type RangeError struct {
	Component string
	Value     float64
	Input     string
}

func (e *RangeError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("daytime: %s out of range in %q", e.Component, e.Input)
	}
	return fmt.Sprintf("daytime: %s %v outside [0,%d)", e.Component, e.Value, SecondsPerDay)
}

func (e *RangeError) Unwrap() error { return ErrRange }

// IsFormatError reports whether err is a clock-text format failure.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormat)
}

// IsRangeError reports whether err is a clock-domain range failure.
func IsRangeError(err error) bool {
	return errors.Is(err, ErrRange)
}
