// Package output provides JSONL output for monitor results.
//
// Output is structured as typed record envelopes containing job
// results, skipped lines, progress updates, and run summaries. Each
// line is a self-contained JSON object that can be parsed
// independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/gotempus/pkg/correlate"
	"github.com/3leaps/gotempus/pkg/daytime"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: gotempus.<type>.v<version>
const (
	// TypeResult identifies closed-job result records.
	TypeResult = "gotempus.result.v1"

	// TypeSkip identifies skipped-line diagnostic records.
	TypeSkip = "gotempus.skip.v1"

	// TypeError identifies error records.
	TypeError = "gotempus.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "gotempus.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "gotempus.summary.v1"

	// TypePreflight identifies preflight check records.
	TypePreflight = "gotempus.preflight.v1"

	// TypeOpen identifies still-open job records reported at run end.
	TypeOpen = "gotempus.open.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "gotempus.result.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this monitor run.
	RunID string `json:"run_id"`

	// Source identifies the log source kind (e.g., "file", "s3").
	Source string `json:"source"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ResultRecord is the data payload for a closed job.
//
// Numeric times are seconds since midnight; the clock fields carry the
// same instants re-encoded as "HH:MM:SS" for human consumption and are
// omitted when the instant is absent or out of the codec's window.
type ResultRecord struct {
	// PID is the process id the job was correlated under.
	PID string `json:"pid"`

	// Category, Action, and ActionID are the decomposed job
	// description; Label is their composed display form.
	Category string `json:"category"`
	Action   string `json:"action"`
	ActionID string `json:"action_id"`
	Label    string `json:"label"`

	// Completed is true when a start was observed before the close.
	Completed bool `json:"completed"`

	// StartSeconds and EndSeconds are the recorded instants.
	StartSeconds *int64 `json:"start_seconds,omitempty"`
	EndSeconds   *int64 `json:"end_seconds,omitempty"`

	// StartClock and EndClock are the instants as wall-clock text.
	StartClock string `json:"start_time,omitempty"`
	EndClock   string `json:"end_time,omitempty"`

	// DurationSeconds is end minus start, present only for completed
	// jobs. Absence is distinct from zero.
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`

	// Severity is the threshold classification.
	Severity string `json:"severity"`

	// Swept is true when the close came from a stale-record sweep
	// rather than an observed END event.
	Swept bool `json:"swept,omitempty"`
}

// NewResultRecord converts a correlation result to its output payload.
func NewResultRecord(res *correlate.Result) ResultRecord {
	rec := ResultRecord{
		PID:             res.PID,
		Category:        res.Descriptor.Category,
		Action:          res.Descriptor.Action,
		ActionID:        res.Descriptor.ActionID,
		Label:           res.Label,
		Completed:       res.Completed,
		StartSeconds:    res.StartTime,
		EndSeconds:      res.EndTime,
		DurationSeconds: res.Duration,
		Severity:        string(res.Severity),
		Swept:           res.Swept,
	}
	rec.StartClock = clockText(res.StartTime)
	rec.EndClock = clockText(res.EndTime)
	return rec
}

// OpenRecord is the data payload for a job still open when a one-shot
// run ends. Reporting only: the record itself is discarded with the
// run, never persisted.
type OpenRecord struct {
	PID          string `json:"pid"`
	Category     string `json:"category"`
	Action       string `json:"action"`
	ActionID     string `json:"action_id"`
	Label        string `json:"label"`
	StartSeconds *int64 `json:"start_seconds,omitempty"`
	StartClock   string `json:"start_time,omitempty"`
	AgeSeconds   int64  `json:"age_seconds"`
}

// NewOpenRecord converts an open-job snapshot to its output payload.
func NewOpenRecord(job correlate.OpenJob) OpenRecord {
	return OpenRecord{
		PID:          job.PID,
		Category:     job.Descriptor.Category,
		Action:       job.Descriptor.Action,
		ActionID:     job.Descriptor.ActionID,
		Label:        job.Label,
		StartSeconds: job.StartTime,
		StartClock:   clockText(job.StartTime),
		AgeSeconds:   job.Age,
	}
}

// SkipRecord is the data payload for a line dropped with a diagnostic.
//
// Skips are emitted as records rather than failing the run, keeping a
// long-running log stream alive through transient bad rows.
type SkipRecord struct {
	// Key is the object key of the log being read.
	Key string `json:"key,omitempty"`

	// Line is the 1-based line number within the object.
	Line int64 `json:"line"`

	// Reason is the machine-readable skip classification.
	Reason string `json:"reason"`

	// Message is the human-readable cause.
	Message string `json:"message,omitempty"`

	// Raw is a bounded sample of the offending line.
	Raw string `json:"raw,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Non-fatal errors are emitted as records, allowing partial results
// when some sources fail; fatal errors additionally abort the run.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Op is the operation that failed, if applicable.
	Op string `json:"op,omitempty"`

	// Key is the object key related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Fatal marks errors that aborted the run.
	Fatal bool `json:"fatal,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the object or bucket was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeUnavailable indicates the source was temporarily
	// unreachable.
	ErrCodeUnavailable = "SOURCE_UNAVAILABLE"

	// ErrCodeInvalidEvent indicates a producer contract violation in
	// the event stream.
	ErrCodeInvalidEvent = "INVALID_EVENT"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted periodically during runs to provide
// visibility into long log streams.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	// LinesRead is the number of physical lines consumed so far.
	LinesRead int64 `json:"lines_read"`

	// EventsApplied is the number of events accepted by the correlator.
	EventsApplied int64 `json:"events_applied"`

	// ResultsEmitted is the number of closed-job results so far.
	ResultsEmitted int64 `json:"results_emitted"`

	// Skipped is the number of lines dropped with diagnostics.
	Skipped int64 `json:"skipped"`

	// OpenJobs is the number of records currently open.
	OpenJobs int `json:"open_jobs"`

	// Key is the object currently being read, if applicable.
	Key string `json:"key,omitempty"`
}

// Progress phase constants.
const (
	// PhaseStarting indicates the run is initializing.
	PhaseStarting = "starting"

	// PhaseReading indicates log lines are being consumed.
	PhaseReading = "reading"

	// PhaseFollowing indicates the run is tailing for appends.
	PhaseFollowing = "following"

	// PhaseComplete indicates the run has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a run with aggregate
// statistics, including per-severity result counts.
type SummaryRecord struct {
	// LinesRead is the total number of physical lines consumed.
	LinesRead int64 `json:"lines_read"`

	// EventsApplied is the number of events the correlator accepted.
	EventsApplied int64 `json:"events_applied"`

	// ResultsEmitted is the number of closed-job results.
	ResultsEmitted int64 `json:"results_emitted"`

	// Skipped is the number of lines dropped with diagnostics.
	Skipped int64 `json:"skipped"`

	// Per-severity result counts.
	Normal     int64 `json:"normal"`
	Warnings   int64 `json:"warnings"`
	Errors     int64 `json:"errors"`
	Incomplete int64 `json:"incomplete"`

	// Swept is the number of stale records force-closed in follow mode.
	Swept int64 `json:"swept,omitempty"`

	// OpenAtEnd is the number of records still open when the run ended.
	OpenAtEnd int `json:"open_at_end"`

	// Objects is the number of log objects processed.
	Objects int64 `json:"objects"`

	// Keys lists the object keys processed.
	Keys []string `json:"keys,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Status is the overall run outcome: success, partial, or failed.
	Status string `json:"status"`
}

// PreflightRecord is the data payload for source preflight checks.
//
// Preflight records are emitted early, before the run consumes any
// lines. They provide an explicit contract for what was checked and
// whether the source appears reachable and readable.
type PreflightRecord struct {
	Mode    string                 `json:"mode"`
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single preflight check result.
type PreflightCheckResult struct {
	Check     string `json:"check"`
	Target    string `json:"target,omitempty"`
	Allowed   bool   `json:"allowed"`
	ErrorCode string `json:"error_code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// clockText renders an optional instant as "HH:MM:SS", or empty when
// the instant is absent or outside the codec's window.
func clockText(instant *int64) string {
	if instant == nil {
		return ""
	}
	text, err := daytime.Format(*instant)
	if err != nil {
		return ""
	}
	return text
}
