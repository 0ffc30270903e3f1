// Package monitor implements the correlation run engine.
//
// A run lists matching log objects from a source, decodes their lines
// into start and end events, applies each event to a correlator, and
// writes one classified result per completed record. A single reader
// goroutine walks objects in lexical order and decodes lines in file
// order onto a bounded channel; the goroutine that called Run drains
// the channel and is the only one that touches the correlator, so
// results come out in the order the log dictates.
//
// In follow mode the reader keeps the stream open after the initial
// drain and tails for appended lines. When a stale window is
// configured, open records that fell too far behind the newest event
// are swept on idle ticks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gotempus/pkg/correlate"
	"github.com/3leaps/gotempus/pkg/logline"
	"github.com/3leaps/gotempus/pkg/match"
	"github.com/3leaps/gotempus/pkg/output"
	"github.com/3leaps/gotempus/pkg/source"
)

// Run status values reported in summaries.
const (
	// StatusSuccess means every line was consumed and applied cleanly.
	StatusSuccess = "success"

	// StatusPartial means the run finished but skipped lines or hit
	// recoverable source errors along the way.
	StatusPartial = "partial"

	// StatusFailed means the run aborted on a fatal error.
	StatusFailed = "failed"
)

// Config holds monitor engine configuration.
type Config struct {
	// Delimiter separates the fields of a log line.
	// Default: logline.DefaultDelimiter
	Delimiter string

	// MaxLineBytes caps the length of a single log line. Longer lines
	// are skipped with a diagnostic.
	// Default: logline.DefaultMaxLineBytes
	MaxLineBytes int

	// ChannelBuffer is the capacity of the channel between the reader
	// and the apply loop. Default: 1000
	ChannelBuffer int

	// ProgressEvery emits a progress record every N lines.
	// Default: 1000
	ProgressEvery int

	// RateLimit caps line consumption in lines per second.
	// Zero means unlimited. Default: 0
	RateLimit float64

	// Follow keeps the run alive after the initial drain, tailing the
	// source for appended lines until the context is cancelled. Only
	// sources backed by local files or stdin can follow.
	Follow bool

	// PollInterval is the follow-mode fallback wakeup cadence, used
	// when filesystem notifications are unavailable or quiet. It also
	// paces the stale-record sweep. Default: 2s
	PollInterval time.Duration

	// StaleAfter force-closes open records whose start time trails the
	// newest observed event by more than this many seconds. Zero
	// disables sweeping. Follow mode only.
	StaleAfter int64
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Delimiter:     logline.DefaultDelimiter,
		MaxLineBytes:  logline.DefaultMaxLineBytes,
		ChannelBuffer: 1000,
		ProgressEvery: 1000,
		PollInterval:  2 * time.Second,
	}
}

// Summary reports the outcome of a run.
type Summary struct {
	// LinesRead is the total number of physical lines consumed.
	LinesRead int64

	// EventsApplied is the number of events the correlator accepted.
	EventsApplied int64

	// ResultsEmitted is the number of closed-record results written.
	ResultsEmitted int64

	// Skipped is the number of lines dropped with diagnostics.
	Skipped int64

	// SourceErrors is the number of recoverable source failures.
	SourceErrors int64

	// Per-severity result counts. Normal, Warnings, Errors and
	// Incomplete sum to ResultsEmitted; Swept counts the subset of
	// Incomplete closed by the stale sweep.
	Normal     int64
	Warnings   int64
	Errors     int64
	Incomplete int64
	Swept      int64

	// OpenAtEnd is the number of records still open when the run ended.
	OpenAtEnd int

	// Objects is the number of log objects processed.
	Objects int64

	// Keys lists the object keys processed, in read order.
	Keys []string

	// Duration is the total wall-clock run time.
	Duration time.Duration

	// Status is the overall outcome: success, partial, or failed.
	Status string
}

// Status is a point-in-time snapshot of a running monitor. It is safe
// to call from any goroutine; open-record snapshots are refreshed by
// the apply loop at progress intervals and sweep ticks.
type Status struct {
	Running        bool
	Phase          string
	LinesRead      int64
	EventsApplied  int64
	ResultsEmitted int64
	Skipped        int64
	SourceErrors   int64
	Objects        int64
	LastEventTime  int64
	OpenJobs       []correlate.OpenJob
}

// Monitor coordinates one correlation run over a source.
type Monitor struct {
	source  source.Source
	cor     *correlate.Correlator
	matcher *match.Matcher
	filter  *match.CompositeFilter
	writer  output.Writer
	config  Config
	logger  *zap.Logger
	limiter *rate.Limiter

	linesRead      atomic.Int64
	eventsApplied  atomic.Int64
	resultsEmitted atomic.Int64
	skipped        atomic.Int64
	sourceErrors   atomic.Int64
	normal         atomic.Int64
	warnings       atomic.Int64
	errorCount     atomic.Int64
	incomplete     atomic.Int64
	swept          atomic.Int64
	objects        atomic.Int64
	lastEventTime  atomic.Int64
	running        atomic.Bool
	following      atomic.Bool

	// openSnap holds a []correlate.OpenJob written only by the apply
	// loop, so Status never races the correlator's map.
	openSnap atomic.Value

	keysMu sync.Mutex
	keys   []string
}

// New creates a monitor. Zero-valued config fields fall back to
// DefaultConfig; a nil logger disables logging.
func New(src source.Source, cor *correlate.Correlator, matcher *match.Matcher, writer output.Writer, config Config, logger *zap.Logger) *Monitor {
	defaults := DefaultConfig()
	if config.Delimiter == "" {
		config.Delimiter = defaults.Delimiter
	}
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = defaults.MaxLineBytes
	}
	if config.ChannelBuffer <= 0 {
		config.ChannelBuffer = defaults.ChannelBuffer
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = defaults.ProgressEvery
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		source:  src,
		cor:     cor,
		matcher: matcher,
		writer:  writer,
		config:  config,
		logger:  logger,
	}
	if config.RateLimit > 0 {
		// Burst of one: follow mode wants pacing, not catch-up spikes.
		m.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	m.openSnap.Store([]correlate.OpenJob(nil))
	return m
}

// WithFilter sets an object metadata filter applied after pattern
// matching. Returns the monitor for chaining.
func (m *Monitor) WithFilter(filter *match.CompositeFilter) *Monitor {
	m.filter = filter
	return m
}

// Run executes the monitor until the source is drained or, in follow
// mode, until ctx is cancelled. The summary is returned even when the
// run fails or is cancelled, reflecting whatever completed.
//
// Cancellation is the normal way a follow run ends, so open records
// and the summary are still written in that case; only a fatal error
// suppresses them.
func (m *Monitor) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	m.running.Store(true)
	defer m.running.Store(false)

	if err := m.writeProgress(ctx, output.PhaseStarting, ""); err != nil {
		return nil, err
	}

	runErr := m.runPipeline(ctx)

	m.snapshotOpen()
	summary := m.buildSummary(time.Since(start), runErr)

	if runErr != nil && !isCancellation(runErr) {
		m.logger.Error("run aborted",
			zap.Int64("lines_read", summary.LinesRead),
			zap.Error(runErr))
		return summary, runErr
	}

	// The context that stopped a follow run must not stop the final
	// records.
	finishCtx := ctx
	if ctx.Err() != nil {
		finishCtx = context.Background()
	}
	if err := m.writeOpenRecords(finishCtx); err != nil {
		return summary, err
	}
	if err := m.writeProgress(finishCtx, output.PhaseComplete, ""); err != nil {
		return summary, err
	}
	if err := m.writeSummary(finishCtx, summary); err != nil {
		return summary, err
	}

	m.logger.Info("run complete",
		zap.Int64("lines_read", summary.LinesRead),
		zap.Int64("results_emitted", summary.ResultsEmitted),
		zap.Int64("skipped", summary.Skipped),
		zap.Int("open_at_end", summary.OpenAtEnd),
		zap.String("status", summary.Status),
		zap.Duration("duration", summary.Duration))
	return summary, runErr
}

// Status returns a snapshot of the monitor's progress.
func (m *Monitor) Status() Status {
	phase := output.PhaseReading
	switch {
	case !m.running.Load():
		phase = output.PhaseComplete
	case m.following.Load():
		phase = output.PhaseFollowing
	}
	open, _ := m.openSnap.Load().([]correlate.OpenJob)
	return Status{
		Running:        m.running.Load(),
		Phase:          phase,
		LinesRead:      m.linesRead.Load(),
		EventsApplied:  m.eventsApplied.Load(),
		ResultsEmitted: m.resultsEmitted.Load(),
		Skipped:        m.skipped.Load(),
		SourceErrors:   m.sourceErrors.Load(),
		Objects:        m.objects.Load(),
		LastEventTime:  m.lastEventTime.Load(),
		OpenJobs:       open,
	}
}

// runPipeline wires the reader goroutine to the apply loop and
// collects the first fatal error from either side.
func (m *Monitor) runPipeline(ctx context.Context) error {
	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make(chan item, m.config.ChannelBuffer)
	readErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(items)
		if err := m.read(pipeCtx, items); err != nil {
			select {
			case readErr <- err:
			default:
			}
			cancel()
		}
	}()

	applyErr := m.applyLoop(pipeCtx, items)
	if applyErr != nil {
		cancel()
	}
	wg.Wait()

	if applyErr != nil && !isCancellation(applyErr) {
		return applyErr
	}
	select {
	case err := <-readErr:
		return err
	default:
	}
	if applyErr != nil {
		return applyErr
	}
	return ctx.Err()
}

// applyLoop drains the item channel serially. It owns the correlator:
// no other goroutine applies events, sweeps, or reads the open map.
func (m *Monitor) applyLoop(ctx context.Context, items <-chan item) error {
	var sweepC <-chan time.Time
	if m.config.Follow && m.config.StaleAfter > 0 {
		ticker := time.NewTicker(m.config.PollInterval)
		defer ticker.Stop()
		sweepC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweepC:
			if err := m.sweepStale(ctx); err != nil {
				return err
			}
		case it, ok := <-items:
			if !ok {
				return nil
			}
			if err := m.applyItem(ctx, it); err != nil {
				return err
			}
		}
	}
}

// applyItem processes one decoded line: count it, skip it with a
// diagnostic, or apply it and emit any result that closed.
func (m *Monitor) applyItem(ctx context.Context, it item) error {
	total := m.linesRead.Add(1)
	if total%int64(m.config.ProgressEvery) == 0 {
		m.snapshotOpen()
		phase := output.PhaseReading
		if m.following.Load() {
			phase = output.PhaseFollowing
		}
		if err := m.writeProgress(ctx, phase, it.key); err != nil {
			return err
		}
	}

	if it.err != nil {
		m.skipped.Add(1)
		return m.writeSkip(ctx, it.key, it.line, it.err)
	}

	res, err := m.cor.Apply(it.event)
	if err != nil {
		if correlate.IsMissingField(err) {
			m.skipped.Add(1)
			return m.writer.WriteSkip(ctx, &output.SkipRecord{
				Key:     it.key,
				Line:    it.line,
				Reason:  string(logline.ReasonMissingField),
				Message: err.Error(),
			})
		}
		// Anything else is a producer contract violation surfacing
		// past the decoder. The stream cannot be trusted; halt.
		_ = m.writer.WriteError(ctx, &output.ErrorRecord{
			Code:    output.ErrCodeInvalidEvent,
			Message: err.Error(),
			Op:      "Apply",
			Key:     it.key,
			Fatal:   true,
		})
		return fmt.Errorf("apply event at %s line %d: %w", it.key, it.line, err)
	}

	m.eventsApplied.Add(1)
	m.lastEventTime.Store(it.event.Timestamp)

	if res == nil {
		return nil
	}
	return m.emitResult(ctx, res)
}

// sweepStale force-closes open records that fell more than StaleAfter
// seconds behind the newest event and emits their swept results.
func (m *Monitor) sweepStale(ctx context.Context) error {
	if m.eventsApplied.Load() == 0 {
		return nil
	}
	before := m.lastEventTime.Load() - m.config.StaleAfter
	results := m.cor.SweepOpen(before)
	for i := range results {
		if err := m.emitResult(ctx, &results[i]); err != nil {
			return err
		}
	}
	if len(results) > 0 {
		m.logger.Info("swept stale records",
			zap.Int("count", len(results)),
			zap.Int64("before", before))
	}
	m.snapshotOpen()
	return nil
}

func (m *Monitor) emitResult(ctx context.Context, res *correlate.Result) error {
	rec := output.NewResultRecord(res)
	if err := m.writer.WriteResult(ctx, &rec); err != nil {
		return err
	}
	m.resultsEmitted.Add(1)
	switch res.Severity {
	case correlate.SeverityNormal:
		m.normal.Add(1)
	case correlate.SeverityWarning:
		m.warnings.Add(1)
	case correlate.SeverityError:
		m.errorCount.Add(1)
	case correlate.SeverityIncomplete:
		m.incomplete.Add(1)
	}
	if res.Swept {
		m.swept.Add(1)
	}
	return nil
}

// snapshotOpen refreshes the open-record snapshot served by Status.
// Only the goroutine that owns the correlator may call this.
func (m *Monitor) snapshotOpen() {
	m.openSnap.Store(m.cor.OpenJobs(m.lastEventTime.Load()))
}

// writeSkip emits a skip record for a line the decoder rejected.
func (m *Monitor) writeSkip(ctx context.Context, key string, line int64, cause error) error {
	skip := &output.SkipRecord{Key: key, Line: line}
	var le *logline.LineError
	if errors.As(cause, &le) {
		skip.Line = le.Line
		skip.Reason = string(le.Reason)
		skip.Raw = le.Raw
		if le.Err != nil {
			skip.Message = le.Err.Error()
		}
	} else {
		skip.Reason = string(logline.ReasonFieldCount)
		skip.Message = cause.Error()
	}
	return m.writer.WriteSkip(ctx, skip)
}

func (m *Monitor) writeProgress(ctx context.Context, phase, key string) error {
	open, _ := m.openSnap.Load().([]correlate.OpenJob)
	return m.writer.WriteProgress(ctx, &output.ProgressRecord{
		Phase:          phase,
		LinesRead:      m.linesRead.Load(),
		EventsApplied:  m.eventsApplied.Load(),
		ResultsEmitted: m.resultsEmitted.Load(),
		Skipped:        m.skipped.Load(),
		OpenJobs:       len(open),
		Key:            key,
	})
}

// writeOpenRecords emits one open record per record still waiting for
// its End when the run stopped. Nothing is force-closed.
func (m *Monitor) writeOpenRecords(ctx context.Context) error {
	for _, job := range m.cor.OpenJobs(m.lastEventTime.Load()) {
		rec := output.NewOpenRecord(job)
		if err := m.writer.WriteOpen(ctx, &rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) writeSummary(ctx context.Context, s *Summary) error {
	return m.writer.WriteSummary(ctx, &output.SummaryRecord{
		LinesRead:      s.LinesRead,
		EventsApplied:  s.EventsApplied,
		ResultsEmitted: s.ResultsEmitted,
		Skipped:        s.Skipped,
		Normal:         s.Normal,
		Warnings:       s.Warnings,
		Errors:         s.Errors,
		Incomplete:     s.Incomplete,
		Swept:          s.Swept,
		OpenAtEnd:      s.OpenAtEnd,
		Objects:        s.Objects,
		Keys:           s.Keys,
		Duration:       s.Duration,
		DurationHuman:  s.Duration.Round(time.Millisecond).String(),
		Status:         s.Status,
	})
}

func (m *Monitor) buildSummary(elapsed time.Duration, runErr error) *Summary {
	m.keysMu.Lock()
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	m.keysMu.Unlock()

	s := &Summary{
		LinesRead:      m.linesRead.Load(),
		EventsApplied:  m.eventsApplied.Load(),
		ResultsEmitted: m.resultsEmitted.Load(),
		Skipped:        m.skipped.Load(),
		SourceErrors:   m.sourceErrors.Load(),
		Normal:         m.normal.Load(),
		Warnings:       m.warnings.Load(),
		Errors:         m.errorCount.Load(),
		Incomplete:     m.incomplete.Load(),
		Swept:          m.swept.Load(),
		OpenAtEnd:      m.cor.OpenCount(),
		Objects:        m.objects.Load(),
		Keys:           keys,
		Duration:       elapsed,
	}
	switch {
	case runErr != nil && !isCancellation(runErr):
		s.Status = StatusFailed
	case runErr != nil && !m.config.Follow:
		// A one-shot run that was cancelled did not finish the scan.
		// Follow runs end by cancellation as a matter of course.
		s.Status = StatusPartial
	case s.Skipped > 0 || s.SourceErrors > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusSuccess
	}
	return s
}

func (m *Monitor) appendKey(key string) {
	m.keysMu.Lock()
	m.keys = append(m.keys, key)
	m.keysMu.Unlock()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
