package correlate

import (
	"errors"
	"fmt"
)

// ErrInvalidKind reports an event kind outside {START, END}. This is a
// producer contract violation rather than transient bad data: the call
// fails, nothing is mutated, and callers should halt the stream instead
// of skipping.
var ErrInvalidKind = errors.New("invalid event kind")

// KindError wraps ErrInvalidKind with the offending kind and pid.
type KindError struct {
	Kind Kind
	PID  string
}

func (e *KindError) Error() string {
	return fmt.Sprintf("correlate: invalid event kind %q for pid %q", string(e.Kind), e.PID)
}

func (e *KindError) Unwrap() error { return ErrInvalidKind }

// MissingFieldError reports an event with a required field absent. The
// event is droppable: the correlator mutates no state, and callers skip
// it and continue with the next event.
type MissingFieldError struct {
	Field string
	PID   string
}

func (e *MissingFieldError) Error() string {
	if e.PID != "" {
		return fmt.Sprintf("correlate: missing field %s for pid %q", e.Field, e.PID)
	}
	return fmt.Sprintf("correlate: missing field %s", e.Field)
}

// IsMissingField reports whether err is a droppable missing-field
// failure, as opposed to a fatal contract violation.
func IsMissingField(err error) bool {
	var mfe *MissingFieldError
	return errors.As(err, &mfe)
}
