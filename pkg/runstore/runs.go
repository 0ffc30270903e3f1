package runstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/gotempus/pkg/manifest"
)

// ErrRunNotFound is returned by GetRun when no run matches the ID.
var ErrRunNotFound = errors.New("monitor_run not found")

// RunStatus represents the status of a monitor run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess indicates the run completed with no skips or source errors.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial indicates the run completed but skipped lines or hit source errors.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed indicates the run aborted.
	RunStatusFailed RunStatus = "failed"
)

// Run represents a single monitor run execution.
//
// A Run is scoped to one source URI and one manifest identity; the counters
// are written once when the run finishes.
type Run struct {
	RunID        string
	SourceURI    string
	ManifestHash string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       RunStatus

	LinesRead      int64
	EventsApplied  int64
	ResultsEmitted int64
	Skipped        int64
	OpenAtEnd      int64
}

// Totals carries the final counters written by FinishRun.
type Totals struct {
	LinesRead      int64
	EventsApplied  int64
	ResultsEmitted int64
	Skipped        int64
	OpenAtEnd      int64
}

// HashManifest computes the canonical identity hash for a manifest.
//
// The manifest should have defaults applied first so equivalent effective
// configurations hash identically. Marshaling the struct is deterministic
// (fixed field order, no maps), so the JSON bytes are the canonical form.
func HashManifest(m *manifest.Manifest) (string, error) {
	if m == nil {
		return "", fmt.Errorf("manifest is nil")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CreateRun creates a new monitor run in running status.
func CreateRun(ctx context.Context, db *sql.DB, sourceURI, manifestHash string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	runID := generateRunID()

	_, err := db.ExecContext(ctx,
		`INSERT INTO monitor_runs
		 (run_id, source_uri, manifest_hash, started_at, status)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, sourceURI, manifestHash, now, string(RunStatusRunning))

	if err != nil {
		return nil, fmt.Errorf("create monitor_run: %w", err)
	}

	return &Run{
		RunID:        runID,
		SourceURI:    sourceURI,
		ManifestHash: manifestHash,
		StartedAt:    now,
		Status:       RunStatusRunning,
	}, nil
}

// FinishRun records the final status and counters of a run.
func FinishRun(ctx context.Context, db *sql.DB, runID string, status RunStatus, totals Totals) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()

	_, err := db.ExecContext(ctx,
		`UPDATE monitor_runs
		 SET status = ?, ended_at = ?,
		     lines_read = ?, events_applied = ?, results_emitted = ?,
		     skipped = ?, open_at_end = ?
		 WHERE run_id = ?`,
		string(status), now,
		totals.LinesRead, totals.EventsApplied, totals.ResultsEmitted,
		totals.Skipped, totals.OpenAtEnd, runID)

	if err != nil {
		return fmt.Errorf("finish monitor_run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func GetRun(ctx context.Context, db *sql.DB, runID string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var r Run
	var endedAt sql.NullTime

	err := db.QueryRowContext(ctx,
		`SELECT run_id, source_uri, manifest_hash, started_at, ended_at, status,
		        lines_read, events_applied, results_emitted, skipped, open_at_end
		 FROM monitor_runs WHERE run_id = ?`,
		runID).Scan(
		&r.RunID, &r.SourceURI, &r.ManifestHash, &r.StartedAt, &endedAt, &r.Status,
		&r.LinesRead, &r.EventsApplied, &r.ResultsEmitted, &r.Skipped, &r.OpenAtEnd)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor_run: %w", err)
	}

	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}

	return &r, nil
}

// ListRuns lists runs, newest first.
//
// limit bounds the result when positive; status filters when non-empty.
func ListRuns(ctx context.Context, db *sql.DB, limit int, status RunStatus) ([]Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT run_id, source_uri, manifest_hash, started_at, ended_at, status,
	                 lines_read, events_applied, results_emitted, skipped, open_at_end
	          FROM monitor_runs`
	args := []any{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list monitor_runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var endedAt sql.NullTime

		err := rows.Scan(
			&r.RunID, &r.SourceURI, &r.ManifestHash, &r.StartedAt, &endedAt, &r.Status,
			&r.LinesRead, &r.EventsApplied, &r.ResultsEmitted, &r.Skipped, &r.OpenAtEnd)
		if err != nil {
			return nil, fmt.Errorf("scan monitor_run: %w", err)
		}

		if endedAt.Valid {
			r.EndedAt = &endedAt.Time
		}

		runs = append(runs, r)
	}

	return runs, nil
}

// generateRunID generates a unique run ID.
func generateRunID() string {
	return fmt.Sprintf("run_%d", time.Now().UnixNano())
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	return fmt.Sprintf("evt_%d", time.Now().UnixNano())
}
