package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gotempus/pkg/correlate"
)

func i64(v int64) *int64 { return &v }

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	assert.NotNil(t, w)
	assert.Equal(t, "run-123", w.runID)
	assert.Equal(t, "file", w.source)
}

func TestJSONLWriter_WriteResult(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	res := &ResultRecord{
		PID:             "81258",
		Category:        "scheduled",
		Action:          "cron_job",
		ActionID:        "185",
		Label:           "scheduled cron_job 185",
		Completed:       true,
		StartSeconds:    i64(85461),
		EndSeconds:      i64(85533),
		StartClock:      "23:44:21",
		EndClock:        "23:45:33",
		DurationSeconds: i64(72),
		Severity:        "normal",
	}

	err := w.WriteResult(context.Background(), res)
	require.NoError(t, err)

	// Parse the output
	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeResult, record.Type)
	assert.Equal(t, "run-123", record.RunID)
	assert.Equal(t, "file", record.Source)
	assert.False(t, record.TS.IsZero())

	// Parse the data payload
	var resData ResultRecord
	err = json.Unmarshal(record.Data, &resData)
	require.NoError(t, err)

	assert.Equal(t, "81258", resData.PID)
	assert.Equal(t, "scheduled cron_job 185", resData.Label)
	assert.True(t, resData.Completed)
	assert.Equal(t, i64(72), resData.DurationSeconds)
	assert.Equal(t, "normal", resData.Severity)
	assert.Equal(t, "23:44:21", resData.StartClock)
}

func TestNewResultRecord(t *testing.T) {
	res := &correlate.Result{
		PID:        "7",
		Descriptor: correlate.Descriptor{Category: "daily", Action: "backup", ActionID: "123"},
		Label:      "daily backup 123",
		Completed:  true,
		StartTime:  i64(1000),
		EndTime:    i64(1910),
		Duration:   i64(910),
		Severity:   correlate.SeverityError,
	}

	rec := NewResultRecord(res)
	assert.Equal(t, "7", rec.PID)
	assert.Equal(t, "daily", rec.Category)
	assert.Equal(t, "backup", rec.Action)
	assert.Equal(t, "123", rec.ActionID)
	assert.Equal(t, i64(1000), rec.StartSeconds)
	assert.Equal(t, "00:16:40", rec.StartClock)
	assert.Equal(t, "00:31:50", rec.EndClock)
	assert.Equal(t, "error", rec.Severity)
	assert.False(t, rec.Swept)
}

func TestNewResultRecord_Incomplete(t *testing.T) {
	res := &correlate.Result{
		PID:        "9",
		Descriptor: correlate.Descriptor{Category: "daily", Action: "backup", ActionID: "9"},
		Label:      "daily backup 9",
		Completed:  false,
		EndTime:    i64(500),
		Severity:   correlate.SeverityIncomplete,
	}

	rec := NewResultRecord(res)
	assert.False(t, rec.Completed)
	assert.Nil(t, rec.StartSeconds)
	assert.Empty(t, rec.StartClock, "no clock text for an absent instant")
	assert.Equal(t, "00:08:20", rec.EndClock)
	assert.Nil(t, rec.DurationSeconds)

	// Absent instants must be absent in JSON, not zero.
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "duration_seconds")
	assert.NotContains(t, string(data), "start_seconds")
}

func TestNewOpenRecord(t *testing.T) {
	job := correlate.OpenJob{
		PID:        "42",
		Descriptor: correlate.Descriptor{Category: "adhoc", Action: "import", ActionID: "x"},
		Label:      "adhoc import x",
		StartTime:  i64(3600),
		Age:        250,
	}

	rec := NewOpenRecord(job)
	assert.Equal(t, "42", rec.PID)
	assert.Equal(t, "01:00:00", rec.StartClock)
	assert.Equal(t, int64(250), rec.AgeSeconds)
}

func TestJSONLWriter_WriteSkip(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	skip := &SkipRecord{
		Key:     "jobs/cron.log",
		Line:    17,
		Reason:  "field_count",
		Message: "expected 4 fields, got 3",
		Raw:     "one,two,three",
	}

	err := w.WriteSkip(context.Background(), skip)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeSkip, record.Type)

	var skipData SkipRecord
	err = json.Unmarshal(record.Data, &skipData)
	require.NoError(t, err)

	assert.Equal(t, int64(17), skipData.Line)
	assert.Equal(t, "field_count", skipData.Reason)
	assert.Equal(t, "one,two,three", skipData.Raw)
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	errRec := &ErrorRecord{
		Code:    ErrCodeAccessDenied,
		Message: "Access denied to bucket",
		Key:     "secret/cron.log",
	}

	err := w.WriteError(context.Background(), errRec)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeError, record.Type)

	var errData ErrorRecord
	err = json.Unmarshal(record.Data, &errData)
	require.NoError(t, err)

	assert.Equal(t, ErrCodeAccessDenied, errData.Code)
	assert.Equal(t, "Access denied to bucket", errData.Message)
	assert.Equal(t, "secret/cron.log", errData.Key)
	assert.False(t, errData.Fatal)
}

func TestJSONLWriter_WriteProgress(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	prog := &ProgressRecord{
		Phase:          PhaseReading,
		LinesRead:      1000,
		EventsApplied:  950,
		ResultsEmitted: 400,
		Skipped:        50,
		OpenJobs:       150,
		Key:            "jobs/cron.log",
	}

	err := w.WriteProgress(context.Background(), prog)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeProgress, record.Type)

	var progData ProgressRecord
	err = json.Unmarshal(record.Data, &progData)
	require.NoError(t, err)

	assert.Equal(t, PhaseReading, progData.Phase)
	assert.Equal(t, int64(1000), progData.LinesRead)
	assert.Equal(t, int64(950), progData.EventsApplied)
	assert.Equal(t, int64(400), progData.ResultsEmitted)
	assert.Equal(t, int64(50), progData.Skipped)
	assert.Equal(t, 150, progData.OpenJobs)
	assert.Equal(t, "jobs/cron.log", progData.Key)
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	sum := &SummaryRecord{
		LinesRead:      5000,
		EventsApplied:  4900,
		ResultsEmitted: 2400,
		Skipped:        100,
		Normal:         2000,
		Warnings:       300,
		Errors:         80,
		Incomplete:     20,
		OpenAtEnd:      100,
		Objects:        2,
		Keys:           []string{"jobs/a.log", "jobs/b.log"},
		Duration:       30 * time.Second,
		DurationHuman:  "30s",
		Status:         "partial",
	}

	err := w.WriteSummary(context.Background(), sum)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeSummary, record.Type)

	var sumData SummaryRecord
	err = json.Unmarshal(record.Data, &sumData)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), sumData.LinesRead)
	assert.Equal(t, int64(2400), sumData.ResultsEmitted)
	assert.Equal(t, int64(300), sumData.Warnings)
	assert.Equal(t, int64(80), sumData.Errors)
	assert.Equal(t, 100, sumData.OpenAtEnd)
	assert.Equal(t, 30*time.Second, sumData.Duration)
	assert.Equal(t, "30s", sumData.DurationHuman)
	assert.Equal(t, []string{"jobs/a.log", "jobs/b.log"}, sumData.Keys)
	assert.Equal(t, "partial", sumData.Status)
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	err := w.WriteResult(context.Background(), &ResultRecord{PID: "1"})
	require.NoError(t, err)

	err = w.WriteResult(context.Background(), &ResultRecord{PID: "2"})
	require.NoError(t, err)

	// Output should be two lines
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	// Each line should be valid JSON
	for _, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err)
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	err := w.Close()
	require.NoError(t, err)

	// Writing after close should fail
	err = w.WriteResult(context.Background(), &ResultRecord{PID: "1"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				res := &ResultRecord{
					PID:      "p",
					Severity: "normal",
				}
				_ = w.WriteResult(context.Background(), res)
			}
		}(i)
	}

	wg.Wait()

	// Verify all lines are complete JSON objects (no interleaving)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := w.WriteResult(ctx, &ResultRecord{PID: "1"})
	assert.ErrorIs(t, err, context.Canceled)

	// Buffer should be empty (nothing written)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	// Create a writer that always fails
	failWriter := &failingWriter{err: errors.New("disk full")}
	w := NewJSONLWriter(failWriter, "run-123", "file")

	err := w.WriteResult(context.Background(), &ResultRecord{PID: "1"})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	// Create a writer that simulates short writes (returns n < len(p) with nil error)
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "run-123", "file")

	res := &ResultRecord{
		PID:             "81258",
		Label:           "scheduled cron_job 185",
		Completed:       true,
		DurationSeconds: i64(72),
		Severity:        "normal",
	}

	err := w.WriteResult(context.Background(), res)
	require.NoError(t, err)

	// Verify complete output despite short writes
	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	err = json.Unmarshal([]byte(lines[0]), &record)
	assert.NoError(t, err, "output should be valid JSON despite short writes")
	assert.Equal(t, TypeResult, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	// Create a writer that returns 0 bytes written with nil error (pathological case)
	zeroWriter := &zeroWriteWriter{}
	w := NewJSONLWriter(zeroWriter, "run-123", "file")

	err := w.WriteResult(context.Background(), &ResultRecord{PID: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter simulates an io.Writer that performs short writes.
// It writes at most bytesPerWrite bytes per call, returning nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestRecord_JSONSerialization(t *testing.T) {
	// Test that records serialize correctly
	record := Record{
		Type:   TypeResult,
		TS:     time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC),
		RunID:  "abc123",
		Source: "file",
		Data:   json.RawMessage(`{"pid":"1","severity":"normal"}`),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	// Verify JSON structure
	var parsed map[string]any
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, TypeResult, parsed["type"])
	assert.Equal(t, "abc123", parsed["run_id"])
	assert.Equal(t, "file", parsed["source"])
	assert.NotNil(t, parsed["ts"])
	assert.NotNil(t, parsed["data"])
}

func TestResultRecord_OmitEmpty(t *testing.T) {
	// Optional instants and the swept flag should be omitted when unset
	res := ResultRecord{
		PID:      "1",
		Label:    "unknown unknown unknown",
		Severity: "incomplete",
	}

	data, err := json.Marshal(res)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "start_seconds")
	assert.NotContains(t, string(data), "end_seconds")
	assert.NotContains(t, string(data), "start_time")
	assert.NotContains(t, string(data), "end_time")
	assert.NotContains(t, string(data), "duration_seconds")
	assert.NotContains(t, string(data), "swept")
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	// Op, Key, Fatal should be omitted when empty
	errRec := ErrorRecord{
		Code:    ErrCodeInternal,
		Message: "Something went wrong",
	}

	data, err := json.Marshal(errRec)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "\"op\"")
	assert.NotContains(t, string(data), "\"key\"")
	assert.NotContains(t, string(data), "fatal")
}

func TestProgressRecord_OmitEmpty(t *testing.T) {
	// Key should be omitted when empty
	prog := ProgressRecord{
		Phase:          PhaseComplete,
		LinesRead:      100,
		EventsApplied:  90,
		ResultsEmitted: 40,
	}

	data, err := json.Marshal(prog)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "\"key\"")
}

// Benchmark for write performance
func BenchmarkJSONLWriter_WriteResult(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "run-123", "file")
	res := &ResultRecord{
		PID:             "81258",
		Category:        "scheduled",
		Action:          "cron_job",
		ActionID:        "185",
		Label:           "scheduled cron_job 185",
		Completed:       true,
		StartSeconds:    i64(85461),
		EndSeconds:      i64(85533),
		StartClock:      "23:44:21",
		EndClock:        "23:45:33",
		DurationSeconds: i64(72),
		Severity:        "normal",
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteResult(ctx, res)
	}
}

func BenchmarkJSONLWriter_WriteSkip(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "run-123", "file")
	skip := &SkipRecord{
		Key:     "jobs/cron.log",
		Line:    17,
		Reason:  "bad_time",
		Message: "daytime: invalid time format \"9:00:00\", expected HH:MM:SS",
		Raw:     "9:00:00,scheduled cron_job 185,START,81258",
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteSkip(ctx, skip)
	}
}
