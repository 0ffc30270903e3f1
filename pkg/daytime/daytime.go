// Package daytime converts between wall-clock "HH:MM:SS" text and an
// integer count of seconds since midnight.
//
// The codec is bounded to a single 24-hour window: it does not model
// timezones, cross-day spans, or leap seconds. Both directions validate
// strictly and perform no partial conversion.
package daytime

import (
	"fmt"
	"math"
	"regexp"
)

// SecondsPerDay bounds the codec's domain: valid instants are integers
// in [0, SecondsPerDay).
const SecondsPerDay = 24 * 60 * 60

// clockPattern is checked before any numeric conversion, so range
// failures are only ever reported against well-formed text.
var clockPattern = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)

// Parse converts zero-padded "HH:MM:SS" text to seconds since midnight.
//
// Text that does not match the two-digit colon-separated shape fails
// with a *FormatError. Well-formed text with hour outside [0,24) or
// minute or second outside [0,60) fails with a *RangeError.
func Parse(text string) (int64, error) {
	if !clockPattern.MatchString(text) {
		return 0, &FormatError{Input: text}
	}

	// Fixed byte offsets are safe after the pattern match.
	h := int64(text[0]-'0')*10 + int64(text[1]-'0')
	m := int64(text[3]-'0')*10 + int64(text[4]-'0')
	s := int64(text[6]-'0')*10 + int64(text[7]-'0')

	switch {
	case h >= 24:
		return 0, &RangeError{Component: "hour", Value: float64(h), Input: text}
	case m >= 60:
		return 0, &RangeError{Component: "minute", Value: float64(m), Input: text}
	case s >= 60:
		return 0, &RangeError{Component: "second", Value: float64(s), Input: text}
	}

	return h*3600 + m*60 + s, nil
}

// Format converts seconds since midnight to zero-padded "HH:MM:SS"
// text. Instants outside [0, SecondsPerDay) fail with a *RangeError.
func Format(instant int64) (string, error) {
	if instant < 0 || instant >= SecondsPerDay {
		return "", &RangeError{Component: "instant", Value: float64(instant)}
	}

	h := instant / 3600
	m := (instant % 3600) / 60
	s := instant % 60

	return fmt.Sprintf("%02d:%02d:%02d", h, m, s), nil
}

// FormatFloat is Format for callers holding floating-point instants.
// Fractional values are rejected with a *RangeError, never truncated.
func FormatFloat(instant float64) (string, error) {
	if instant != math.Trunc(instant) {
		return "", &RangeError{Component: "instant", Value: instant}
	}
	return Format(int64(instant))
}
