package correlate

// Kind identifies the lifecycle edge a log event records.
type Kind string

const (
	// KindStart marks the beginning of a job's execution.
	KindStart Kind = "START"
	// KindEnd marks the end of a job's execution.
	KindEnd Kind = "END"
)

// Severity classifies a closed job.
type Severity string

const (
	// SeverityNormal marks a completed job under the warning threshold.
	SeverityNormal Severity = "normal"
	// SeverityWarning marks a duration at or over the warning threshold.
	SeverityWarning Severity = "warning"
	// SeverityError marks a duration at or over the error threshold.
	SeverityError Severity = "error"
	// SeverityIncomplete marks a job closed without a recorded start.
	// No duration exists; this class is for observability, not
	// threshold comparison.
	SeverityIncomplete Severity = "incomplete"
)

// Descriptor carries the structured job metadata observed alongside an
// event: the cron category, the action kind, and the action identifier.
// The correlator stores and reports it without interpretation.
type Descriptor struct {
	Category string
	Action   string
	ActionID string
}

// Label composes the human-readable display form of the descriptor.
func (d Descriptor) Label() string {
	return d.Category + " " + d.Action + " " + d.ActionID
}

// IsZero reports a fully-absent descriptor.
func (d Descriptor) IsZero() bool {
	return d.Category == "" && d.Action == "" && d.ActionID == ""
}

// Event is one parsed log entry, supplied in delivery order.
//
// Timestamp is any totally-ordered numeric instant; for delimited cron
// logs it is seconds since midnight from daytime.Parse. Zero is a valid
// instant (midnight); a negative value marks the field as absent.
type Event struct {
	Timestamp  int64
	Descriptor Descriptor
	Kind       Kind
	PID        string
}

// Record is the in-progress state held for one pid between its first
// observed event and the End that closes it. The descriptor and label
// are captured on first observation and kept for the record's lifetime.
type Record struct {
	Descriptor Descriptor
	Label      string
	StartTime  *int64
	EndTime    *int64
	Completed  bool
}

// Result is the outcome emitted when a record closes.
//
// Duration is end minus start, present only when the record completed;
// absence is semantically distinct from a zero-length job. Swept is
// true when the close came from a stale-record sweep rather than an
// observed End event.
type Result struct {
	PID        string
	Descriptor Descriptor
	Label      string
	Completed  bool
	StartTime  *int64
	EndTime    *int64
	Duration   *int64
	Severity   Severity
	Swept      bool
}

// OpenJob is a point-in-time copy of a still-open record for status
// reporting. Age is relative to the instant supplied to OpenJobs and is
// zero when no start was recorded.
type OpenJob struct {
	PID        string
	Descriptor Descriptor
	Label      string
	StartTime  *int64
	EndTime    *int64
	Age        int64
}
