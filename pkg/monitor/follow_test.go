package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/gotempus/pkg/correlate"
	"github.com/3leaps/gotempus/pkg/match"
	"github.com/3leaps/gotempus/pkg/source/file"
)

type runResult struct {
	summary *Summary
	err     error
}

func followConfig() Config {
	cfg := DefaultConfig()
	cfg.Follow = true
	cfg.PollInterval = 25 * time.Millisecond
	return cfg
}

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func appendLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
}

func startFollow(t *testing.T, dir string, cfg Config, w *captureWriter) (context.CancelFunc, <-chan runResult) {
	t.Helper()
	src, err := file.New(file.Config{Root: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	m := New(src, correlate.New(correlate.DefaultConfig()), allMatcher(t), w, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() {
		summary, runErr := m.Run(ctx)
		done <- runResult{summary: summary, err: runErr}
	}()
	return cancel, done
}

func stopFollow(t *testing.T, cancel context.CancelFunc, done <-chan runResult) runResult {
	t.Helper()
	cancel()
	select {
	case rr := <-done:
		return rr
	case <-time.After(5 * time.Second):
		t.Fatal("follow run did not stop after cancellation")
		return runResult{}
	}
}

func TestMonitor_Follow_AppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.log")
	writeLog(t, path,
		"10:00:00,back scripts/first 1,START,100",
		"10:01:00,back scripts/first 1,END,100",
	)

	w := newCaptureWriter()
	cancel, done := startFollow(t, dir, followConfig(), w)

	require.Eventually(t, func() bool {
		return len(w.getResults()) >= 1
	}, 5*time.Second, 10*time.Millisecond, "initial drain should emit the first result")

	appendLog(t, path,
		"10:05:00,back scripts/second 2,START,200",
		"10:07:00,back scripts/second 2,END,200",
	)

	require.Eventually(t, func() bool {
		return len(w.getResults()) >= 2
	}, 5*time.Second, 10*time.Millisecond, "appended lines should be decoded and correlated")

	rr := stopFollow(t, cancel, done)
	require.NotNil(t, rr.summary)
	assert.True(t, rr.err == nil || errors.Is(rr.err, context.Canceled))
	assert.Equal(t, StatusSuccess, rr.summary.Status)
	assert.Equal(t, int64(2), rr.summary.ResultsEmitted)
	assert.Equal(t, []string{"cron.log"}, rr.summary.Keys)

	// Cancellation is the normal end of a follow run, so the summary
	// record is still written.
	sum := w.getSummary()
	require.NotNil(t, sum)
	assert.Equal(t, int64(2), sum.ResultsEmitted)

	results := w.getResults()
	assert.Equal(t, "100", results[0].PID)
	assert.Equal(t, "200", results[1].PID)
}

func TestMonitor_Follow_TruncationRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.log")
	writeLog(t, path,
		"10:00:00,back scripts/old 1,START,100",
		"10:01:00,back scripts/old 1,END,100",
		"10:02:00,back scripts/old 2,START,110",
		"10:03:00,back scripts/old 2,END,110",
	)

	w := newCaptureWriter()
	cancel, done := startFollow(t, dir, followConfig(), w)

	require.Eventually(t, func() bool {
		return len(w.getResults()) >= 2
	}, 5*time.Second, 10*time.Millisecond, "initial drain should emit both results")

	// Rewrite the file shorter than the retained offset: the tail must
	// restart from the top of the new content.
	writeLog(t, path,
		"11:00:00,back scripts/new 3,START,300",
		"11:01:00,back scripts/new 3,END,300",
	)

	require.Eventually(t, func() bool {
		return len(w.getResults()) >= 3
	}, 5*time.Second, 10*time.Millisecond, "content after truncation should be decoded")

	rr := stopFollow(t, cancel, done)
	require.NotNil(t, rr.summary)

	results := w.getResults()
	assert.Equal(t, "300", results[2].PID)
}

func TestMonitor_Follow_SweepsStaleRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.log")
	// Two open jobs half an hour apart. With a ten minute stale window
	// the older one is force-closed; the newer one stays open.
	writeLog(t, path,
		"10:00:00,back scripts/stale 1,START,100",
		"10:30:00,back scripts/live 2,START,200",
	)

	cfg := followConfig()
	cfg.StaleAfter = 600

	w := newCaptureWriter()
	cancel, done := startFollow(t, dir, cfg, w)

	require.Eventually(t, func() bool {
		return len(w.getResults()) >= 1
	}, 5*time.Second, 10*time.Millisecond, "stale record should be swept on an idle tick")

	rr := stopFollow(t, cancel, done)
	require.NotNil(t, rr.summary)

	results := w.getResults()
	require.Len(t, results, 1)
	assert.Equal(t, "100", results[0].PID)
	assert.True(t, results[0].Swept)
	assert.False(t, results[0].Completed)
	assert.Equal(t, string(correlate.SeverityIncomplete), results[0].Severity)

	assert.Equal(t, int64(1), rr.summary.Swept)
	assert.Equal(t, int64(1), rr.summary.Incomplete)
	assert.Equal(t, 1, rr.summary.OpenAtEnd)

	opens := w.getOpens()
	require.Len(t, opens, 1)
	assert.Equal(t, "200", opens[0].PID)
}

func TestMonitor_Follow_RequiresSingleTarget(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "a.log"), "10:00:00,back scripts/a 1,START,100")
	writeLog(t, filepath.Join(dir, "b.log"), "10:00:00,back scripts/b 2,START,200")

	src, err := file.New(file.Config{Root: dir})
	require.NoError(t, err)
	defer src.Close()

	w := newCaptureWriter()
	m := New(src, correlate.New(correlate.DefaultConfig()), allMatcher(t), w, followConfig(), nil)

	_, err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestMonitor_Follow_NoMatchFails(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "notes.txt"), "not a log")

	src, err := file.New(file.Config{Root: dir})
	require.NoError(t, err)
	defer src.Close()

	matcher, err := match.New(match.Config{Includes: []string{"**/*.log"}})
	require.NoError(t, err)

	w := newCaptureWriter()
	m := New(src, correlate.New(correlate.DefaultConfig()), matcher, w, followConfig(), nil)

	_, err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no object matches")
}

func TestTailReader_ReadsAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tail.log")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := newTailReader(ctx, path, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer tr.Close()

	buf := make([]byte, 64)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(buf[:n]))

	go func() {
		time.Sleep(50 * time.Millisecond)
		f, ferr := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			return
		}
		_, _ = f.WriteString("world\n")
		_ = f.Close()
	}()

	// Blocks until the append lands.
	n, err = tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(buf[:n]))

	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = tr.Read(buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
