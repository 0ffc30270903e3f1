// Package logline decodes delimited cron-log lines into correlation
// events.
//
// Each line carries four fields: clock time, job description, event
// kind, and process id. The decoder reads lines with a bounded buffer,
// reports malformed lines as skippable per-line errors, and keeps
// going, so one bad row never stops a long stream. The kind field is
// passed through verbatim; enforcing the START/END contract belongs to
// the correlator.
package logline

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/3leaps/gotempus/pkg/correlate"
	"github.com/3leaps/gotempus/pkg/daytime"
)

const (
	// DefaultMaxLineBytes bounds a single log line.
	DefaultMaxLineBytes = 1 << 20

	// DefaultDelimiter separates the four fields of a log line.
	DefaultDelimiter = ","

	// rawSampleBytes caps the raw text carried on a LineError.
	rawSampleBytes = 256
)

// Decoder reads delimited log lines from a stream and yields one
// correlate.Event per well-formed line, in file order.
type Decoder struct {
	r            *bufio.Reader
	delimiter    string
	maxLineBytes int
	line         int64
}

// NewDecoder returns a Decoder with the default comma delimiter and
// line bound.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:            bufio.NewReader(r),
		delimiter:    DefaultDelimiter,
		maxLineBytes: DefaultMaxLineBytes,
	}
}

// SetDelimiter overrides the field delimiter. Empty input is ignored.
func (d *Decoder) SetDelimiter(delim string) {
	if delim != "" {
		d.delimiter = delim
	}
}

// SetMaxLineBytes overrides the per-line byte bound. Non-positive input
// restores the default.
func (d *Decoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
		return
	}
	d.maxLineBytes = n
}

// Line returns the 1-based number of the most recently consumed line.
func (d *Decoder) Line() int64 {
	return d.line
}

// Next returns the event decoded from the next non-blank line.
//
// Malformed lines fail with a *LineError; the decoder has already
// advanced past them, so callers skip, report, and call Next again.
// io.EOF signals a cleanly exhausted stream; any other error is a
// failure of the underlying reader.
func (d *Decoder) Next() (correlate.Event, error) {
	for {
		line, truncated, err := d.readLine()
		if err != nil {
			return correlate.Event{}, err
		}
		d.line++

		if truncated {
			return correlate.Event{}, &LineError{
				Line:   d.line,
				Reason: ReasonTooLong,
				Raw:    sample(line),
				Err:    fmt.Errorf("line exceeds %d bytes", d.maxLineBytes),
			}
		}
		if len(bytes.TrimSpace(line)) == 0 {
			// Blank lines carry no event and no diagnostic.
			continue
		}
		return d.parseLine(string(line))
	}
}

// readLine returns the next physical line without its terminator.
// Over-long lines are drained to the next newline and reported with
// truncated=true so the caller can skip them and keep the stream
// position consistent.
func (d *Decoder) readLine() (line []byte, truncated bool, err error) {
	var out []byte
	for {
		frag, err := d.r.ReadSlice('\n')
		if !truncated {
			out = append(out, frag...)
			if len(out) > d.maxLineBytes {
				out = out[:d.maxLineBytes]
				truncated = true
			}
		}

		switch {
		case err == nil:
			return trimEOL(out), truncated, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(out) == 0 && !truncated {
				return nil, false, io.EOF
			}
			return trimEOL(out), truncated, nil
		default:
			return nil, false, err
		}
	}
}

func (d *Decoder) parseLine(line string) (correlate.Event, error) {
	fields := strings.Split(line, d.delimiter)
	if len(fields) != 4 {
		return correlate.Event{}, &LineError{
			Line:   d.line,
			Reason: ReasonFieldCount,
			Raw:    sample([]byte(line)),
			Err:    fmt.Errorf("expected 4 fields, got %d", len(fields)),
		}
	}

	timeText := strings.TrimSpace(fields[0])
	descText := strings.TrimSpace(fields[1])
	kindText := strings.TrimSpace(fields[2])
	pid := strings.TrimSpace(fields[3])

	// The kind field is deliberately absent here: an empty or unknown
	// kind is a producer contract violation for the correlator to
	// reject, not bad row data to skip.
	for _, f := range []struct{ name, value string }{
		{"time", timeText},
		{"description", descText},
		{"pid", pid},
	} {
		if f.value == "" {
			return correlate.Event{}, &LineError{
				Line:   d.line,
				Reason: ReasonMissingField,
				Raw:    sample([]byte(line)),
				Err:    fmt.Errorf("empty %s field", f.name),
			}
		}
	}

	ts, err := daytime.Parse(timeText)
	if err != nil {
		return correlate.Event{}, &LineError{
			Line:   d.line,
			Reason: ReasonBadTime,
			Raw:    sample([]byte(line)),
			Err:    err,
		}
	}

	return correlate.Event{
		Timestamp:  ts,
		Descriptor: ParseDescriptor(descText),
		Kind:       correlate.Kind(kindText),
		PID:        pid,
	}, nil
}

// ParseDescriptor decomposes a job description of the form
// "category action action-id" into its parts. Text with fewer than
// three space-separated components falls back to "unknown" for every
// part rather than failing; descriptions are display metadata, not
// correlation keys.
func ParseDescriptor(text string) correlate.Descriptor {
	parts := strings.SplitN(text, " ", 3)
	if len(parts) < 3 {
		return correlate.Descriptor{
			Category: "unknown",
			Action:   "unknown",
			ActionID: "unknown",
		}
	}
	return correlate.Descriptor{
		Category: parts[0],
		Action:   parts[1],
		ActionID: parts[2],
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

func sample(line []byte) string {
	if len(line) > rawSampleBytes {
		line = line[:rawSampleBytes]
	}
	return string(line)
}
