// Package manifest provides loading and validation of gotempus monitor manifests.
//
// A monitor manifest is a YAML or JSON file that configures all aspects of a
// monitor run: log source, pattern matching, correlation behavior, follow mode,
// run history, and output.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	source:
//	  type: s3
//	  bucket: my-log-bucket
//	  region: us-east-1
//	match:
//	  includes:
//	    - "logs/2026/**/*.log"
//	  excludes:
//	    - "**/_rotating/**"
//	monitor:
//	  warn_after_seconds: 300
//	  error_after_seconds: 900
//	output:
//	  destination: stdout
//	  progress: true
package manifest

// Manifest represents a validated monitor manifest.
//
// A manifest configures all aspects of a monitor run. Required fields are
// Version, Source, and Match. Monitor, Follow, History, and Output are
// optional with sensible defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.3leaps.dev/gotempus/v1.0.0/monitor-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Source configures where log objects are read from.
	Source SourceConfig `json:"source" yaml:"source"`

	// Match configures object filtering by glob patterns.
	Match MatchConfig `json:"match" yaml:"match"`

	// Monitor configures correlation and classification behavior (optional).
	Monitor MonitorConfig `json:"monitor,omitempty" yaml:"monitor,omitempty"`

	// Follow configures tail mode for live log files (optional).
	Follow FollowConfig `json:"follow,omitempty" yaml:"follow,omitempty"`

	// History configures the run history store (optional, off by default).
	History HistoryConfig `json:"history,omitempty" yaml:"history,omitempty"`

	// Output configures output destination and format (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// SourceConfig configures the log source backend.
type SourceConfig struct {
	// Type is the source backend. One of "file", "s3", "stdin".
	Type string `json:"type" yaml:"type"`

	// Path is the root directory or single log file (file sources).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Bucket is the bucket name to read from (s3 sources).
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`

	// Prefix narrows s3 listing to keys under this prefix. Optional.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Region is the AWS region (e.g., "us-east-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage. Optional.
	// Example: "https://s3.wasabisys.com"
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ForcePathStyle forces path-style addressing (MinIO etc.). Optional.
	ForcePathStyle bool `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
}

// MatchConfig configures object filtering by glob patterns and metadata filters.
type MatchConfig struct {
	// Includes is a list of glob patterns for objects to include.
	// At least one pattern is required.
	Includes []string `json:"includes" yaml:"includes"`

	// Excludes is a list of glob patterns for objects to exclude. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// IncludeHidden includes hidden files (starting with .). Default: false.
	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`

	// Filters specifies additional metadata-based filters. Optional.
	// Filters are applied after glob pattern matching with AND semantics.
	Filters *FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// FilterConfig specifies metadata-based object filters.
// All filters are optional and compose with AND semantics.
type FilterConfig struct {
	// Size specifies min/max size constraints.
	// Supports human-readable values: "1KB", "100MiB", "1GB".
	Size *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`

	// Modified specifies last-modified date range constraints.
	// Dates are in ISO 8601 format: "2026-01-15" or "2026-01-15T10:30:00Z".
	Modified *DateFilterConfig `json:"modified,omitempty" yaml:"modified,omitempty"`

	// KeyRegex is a regex pattern applied to object keys after glob matching.
	// Use for patterns not expressible with globs, e.g., "cron-\\d{8}".
	KeyRegex string `json:"key_regex,omitempty" yaml:"key_regex,omitempty"`
}

// SizeFilterConfig specifies size constraints.
type SizeFilterConfig struct {
	// Min is the minimum size (inclusive).
	// Supports: raw bytes "1024", base-10 "1KB", base-2 "1KiB".
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum size (inclusive).
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig specifies date range constraints.
type DateFilterConfig struct {
	// After filters to objects modified at or after this time (inclusive).
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// Before filters to objects modified before this time (exclusive end).
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// MonitorConfig configures correlation and classification behavior.
//
// All fields are optional with sensible defaults applied during loading.
type MonitorConfig struct {
	// WarnAfterSeconds is the duration at or above which a completed job
	// classifies as a warning. Default: 300 (5 minutes).
	WarnAfterSeconds int64 `json:"warn_after_seconds,omitempty" yaml:"warn_after_seconds,omitempty"`

	// ErrorAfterSeconds is the duration at or above which a completed job
	// classifies as an error. Default: 900 (15 minutes).
	ErrorAfterSeconds int64 `json:"error_after_seconds,omitempty" yaml:"error_after_seconds,omitempty"`

	// Delimiter separates the fields of a log line. Default: ",".
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`

	// MaxLineBytes bounds a single log line. Default: 1 MiB.
	MaxLineBytes int `json:"max_line_bytes,omitempty" yaml:"max_line_bytes,omitempty"`

	// ProgressEvery controls progress record frequency.
	// A progress record is emitted every N lines read.
	// Default: 1000.
	ProgressEvery int `json:"progress_every,omitempty" yaml:"progress_every,omitempty"`

	// RateLimit is the maximum lines per second (0 = unlimited).
	// Default: 0.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// FollowConfig configures tail mode for live log files.
//
// Follow mode is only supported for file and stdin sources.
type FollowConfig struct {
	// Enabled turns on follow mode. Default: false.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// PollInterval is the fallback poll frequency in seconds when
	// filesystem notification is unavailable. Default: 2.
	PollInterval float64 `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`

	// StaleAfterSeconds sweeps open jobs with no end event after this many
	// seconds of log time. 0 disables sweeping. Default: 0.
	StaleAfterSeconds int64 `json:"stale_after_seconds,omitempty" yaml:"stale_after_seconds,omitempty"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	// Enabled turns on run history recording. Default: false.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Path is the history database location. Empty selects the
	// per-user default location.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// OutputConfig configures output destination and format.
//
// All fields are optional with sensible defaults applied during loading.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Progress enables progress record emission during the run.
	// Default: true.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultWarnAfterSeconds is the default warning threshold (5 minutes).
	DefaultWarnAfterSeconds = 300

	// DefaultErrorAfterSeconds is the default error threshold (15 minutes).
	DefaultErrorAfterSeconds = 900

	// DefaultDelimiter is the default log line field delimiter.
	DefaultDelimiter = ","

	// DefaultMaxLineBytes is the default per-line byte bound.
	DefaultMaxLineBytes = 1 << 20

	// DefaultProgressEvery is the default progress emission frequency.
	DefaultProgressEvery = 1000

	// DefaultRateLimit is the default rate limit (0 = unlimited).
	DefaultRateLimit = 0.0

	// DefaultPollInterval is the default follow poll frequency in seconds.
	DefaultPollInterval = 2.0

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"

	// DefaultProgress is the default value for progress emission.
	DefaultProgress = true
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest to ensure
// all optional fields have sensible values.
func (m *Manifest) ApplyDefaults() {
	// Monitor defaults
	if m.Monitor.WarnAfterSeconds == 0 {
		m.Monitor.WarnAfterSeconds = DefaultWarnAfterSeconds
	}
	if m.Monitor.ErrorAfterSeconds == 0 {
		m.Monitor.ErrorAfterSeconds = DefaultErrorAfterSeconds
	}
	if m.Monitor.Delimiter == "" {
		m.Monitor.Delimiter = DefaultDelimiter
	}
	if m.Monitor.MaxLineBytes == 0 {
		m.Monitor.MaxLineBytes = DefaultMaxLineBytes
	}
	if m.Monitor.ProgressEvery == 0 {
		m.Monitor.ProgressEvery = DefaultProgressEvery
	}
	// RateLimit: 0 is a valid value (unlimited), so no default needed

	// Follow defaults
	if m.Follow.PollInterval == 0 {
		m.Follow.PollInterval = DefaultPollInterval
	}
	// StaleAfterSeconds: 0 is a valid value (no sweeping), so no default needed

	// Output defaults
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		defaultProgress := DefaultProgress
		m.Output.Progress = &defaultProgress
	}
}

// ProgressEnabled returns whether progress records should be emitted.
// Returns the configured value, or DefaultProgress if not set.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}
