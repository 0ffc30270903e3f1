package logline

import (
	"errors"
	"fmt"
)

// Reason identifies why a line could not be decoded.
type Reason string

const (
	// ReasonTooLong marks a line over the configured byte bound.
	ReasonTooLong Reason = "line_too_long"
	// ReasonFieldCount marks a line without exactly four fields.
	ReasonFieldCount Reason = "field_count"
	// ReasonMissingField marks a line with an empty required field.
	ReasonMissingField Reason = "missing_field"
	// ReasonBadTime marks a line whose time field failed the codec.
	ReasonBadTime Reason = "bad_time"
)

// LineError reports a malformed log line. Every LineError is
// skippable: the decoder has already advanced past the offending line,
// and Next may be called again.
type LineError struct {
	Line   int64
	Reason Reason
	Raw    string
	Err    error
}

func (e *LineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("logline: line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("logline: line %d: %s", e.Line, e.Reason)
}

func (e *LineError) Unwrap() error { return e.Err }

// IsSkippable reports whether err is a recoverable per-line failure,
// as opposed to a failure of the stream itself.
func IsSkippable(err error) bool {
	var le *LineError
	return errors.As(err, &le)
}
