package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"go.uber.org/zap"

	"github.com/3leaps/gotempus/internal/observability"
	"github.com/3leaps/gotempus/pkg/manifest"
	"github.com/3leaps/gotempus/pkg/monitor"
	"github.com/3leaps/gotempus/pkg/output"
	"github.com/3leaps/gotempus/pkg/runstore"
)

// resolveHistoryDBPath resolves the history database path.
func resolveHistoryDBPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	identity := GetAppIdentity()
	if identity == nil || strings.TrimSpace(identity.ConfigName) == "" {
		return "", fmt.Errorf("app identity is not available to derive default history path")
	}

	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	return filepath.Join(dataDir, "history", "gotempus-history.db"), nil
}

// openHistory opens the history store and ensures the schema is current.
func openHistory(ctx context.Context, explicitPath string) (*sql.DB, error) {
	dbPath, err := resolveHistoryDBPath(explicitPath)
	if err != nil {
		return nil, err
	}

	cfg := runstore.Config{}
	if strings.HasPrefix(dbPath, "libsql://") || strings.HasPrefix(dbPath, "https://") {
		cfg.URL = dbPath
	} else {
		cfg.Path = dbPath
	}

	db, err := runstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := runstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	return db, nil
}

// beginHistory opens the history store and registers the run when
// history is enabled. Returns nils when it is not.
func beginHistory(ctx context.Context, m *manifest.Manifest) (*runstore.Run, *sql.DB, error) {
	if !m.History.Enabled {
		return nil, nil, nil
	}

	db, err := openHistory(ctx, m.History.Path)
	if err != nil {
		return nil, nil, err
	}

	hash, err := runstore.HashManifest(m)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	run, err := runstore.CreateRun(ctx, db, sourceURI(m), hash)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return run, db, nil
}

// finishHistory writes the final status and totals for a recorded run.
// The run's own context may already be cancelled, so a fresh one is used.
func finishHistory(db *sql.DB, runID string, s *monitor.Summary) {
	if db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := runstore.RunStatusFailed
	totals := runstore.Totals{}
	if s != nil {
		status = runstore.RunStatus(s.Status)
		totals = runstore.Totals{
			LinesRead:      s.LinesRead,
			EventsApplied:  s.EventsApplied,
			ResultsEmitted: s.ResultsEmitted,
			Skipped:        s.Skipped,
			OpenAtEnd:      int64(s.OpenAtEnd),
		}
	}

	if err := runstore.FinishRun(ctx, db, runID, status, totals); err != nil {
		observability.CLILogger.Warn("Failed to finish history run",
			zap.String("run_id", runID), zap.Error(err))
	}
	if err := runstore.RecordRunCompleted(ctx, db, runID, status); err != nil {
		observability.CLILogger.Warn("Failed to record run completion",
			zap.String("run_id", runID), zap.Error(err))
	}
}

// historyWriter tees run anomalies into the history store while passing
// every record through to the wrapped writer. Recording failures degrade
// to warnings so a store hiccup cannot abort a healthy run.
type historyWriter struct {
	inner  output.Writer
	db     *sql.DB
	runID  string
	logger *zap.Logger

	// swept accumulates sweep closures between summary flushes.
	swept atomic.Int64
}

func newHistoryWriter(inner output.Writer, db *sql.DB, runID string, logger *zap.Logger) *historyWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &historyWriter{inner: inner, db: db, runID: runID, logger: logger}
}

func (h *historyWriter) WriteResult(ctx context.Context, res *output.ResultRecord) error {
	if res.Swept {
		h.swept.Add(1)
	}
	return h.inner.WriteResult(ctx, res)
}

func (h *historyWriter) WriteSkip(ctx context.Context, skip *output.SkipRecord) error {
	detail := skip.Reason
	if skip.Message != "" {
		detail = skip.Reason + ": " + skip.Message
	}
	if err := runstore.RecordLineSkipped(ctx, h.db, h.runID, skip.Key, skip.Line, detail); err != nil {
		h.logger.Warn("Failed to record skipped line", zap.Error(err))
	}
	return h.inner.WriteSkip(ctx, skip)
}

func (h *historyWriter) WriteError(ctx context.Context, rec *output.ErrorRecord) error {
	cause := fmt.Errorf("%s: %s", rec.Code, rec.Message)
	if err := runstore.RecordSourceError(ctx, h.db, h.runID, rec.Key, cause); err != nil {
		h.logger.Warn("Failed to record source error", zap.Error(err))
	}
	return h.inner.WriteError(ctx, rec)
}

func (h *historyWriter) WriteProgress(ctx context.Context, prog *output.ProgressRecord) error {
	return h.inner.WriteProgress(ctx, prog)
}

func (h *historyWriter) WriteSummary(ctx context.Context, sum *output.SummaryRecord) error {
	h.flushSwept(ctx)
	return h.inner.WriteSummary(ctx, sum)
}

func (h *historyWriter) WritePreflight(ctx context.Context, preflight *output.PreflightRecord) error {
	return h.inner.WritePreflight(ctx, preflight)
}

func (h *historyWriter) WriteOpen(ctx context.Context, open *output.OpenRecord) error {
	return h.inner.WriteOpen(ctx, open)
}

func (h *historyWriter) Close() error {
	h.flushSwept(context.Background())
	return h.inner.Close()
}

// flushSwept records the sweep closures accumulated since the last flush.
func (h *historyWriter) flushSwept(ctx context.Context) {
	if n := h.swept.Swap(0); n > 0 {
		if err := runstore.RecordStaleSweep(ctx, h.db, h.runID, int(n)); err != nil {
			h.logger.Warn("Failed to record stale sweep", zap.Error(err))
		}
	}
}

var _ output.Writer = (*historyWriter)(nil)
