package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventCategory classifies run events for filtering.
type EventCategory string

const (
	// CategoryInfo marks lifecycle events.
	CategoryInfo EventCategory = "info"
	// CategoryWarning marks recoverable anomalies such as skipped lines.
	CategoryWarning EventCategory = "warning"
	// CategoryError marks failures that degrade or abort the run.
	CategoryError EventCategory = "error"
)

// Event types recorded during a monitor run.
const (
	// EventRunStarted is recorded once when the run begins.
	EventRunStarted = "run_started"
	// EventLineSkipped is recorded for each malformed line the decoder rejected.
	EventLineSkipped = "line_skipped"
	// EventSourceError is recorded when an object could not be opened or read.
	EventSourceError = "source_error"
	// EventStaleSweep is recorded when follow mode closes out stale open jobs.
	EventStaleSweep = "stale_sweep"
	// EventRunCompleted is recorded once when the run finishes.
	EventRunCompleted = "run_completed"
)

// RunEvent represents a single anomaly or lifecycle event within a run.
type RunEvent struct {
	EventID    string
	RunID      string
	OccurredAt time.Time
	Category   EventCategory
	EventType  string
	ObjectKey  *string
	Line       *int64
	Detail     *string
}

// RecordEvent records an event against a run.
//
// objectKey and detail may be empty; line may be negative to indicate no
// line position applies.
func RecordEvent(ctx context.Context, db *sql.DB, runID string, category EventCategory, eventType, objectKey string, line int64, detail string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	eventID := generateEventID()

	var linePtr *int64
	if line >= 0 {
		linePtr = &line
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO run_events
		 (event_id, run_id, occurred_at, category, event_type, object_key, line, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, runID, now, string(category), eventType,
		stringPtr(objectKey), linePtr, stringPtr(detail))

	if err != nil {
		return fmt.Errorf("record run_event: %w", err)
	}

	return nil
}

// RecordRunStarted records the run lifecycle start event.
func RecordRunStarted(ctx context.Context, db *sql.DB, runID, sourceURI string) error {
	return RecordEvent(ctx, db, runID, CategoryInfo, EventRunStarted, sourceURI, -1, "")
}

// RecordRunCompleted records the run lifecycle completion event.
func RecordRunCompleted(ctx context.Context, db *sql.DB, runID string, status RunStatus) error {
	return RecordEvent(ctx, db, runID, CategoryInfo, EventRunCompleted, "", -1, fmt.Sprintf("status=%s", status))
}

// RecordLineSkipped records a malformed line the decoder rejected.
func RecordLineSkipped(ctx context.Context, db *sql.DB, runID, objectKey string, line int64, reason string) error {
	return RecordEvent(ctx, db, runID, CategoryWarning, EventLineSkipped, objectKey, line, reason)
}

// RecordSourceError records an object that could not be opened or read.
func RecordSourceError(ctx context.Context, db *sql.DB, runID, objectKey string, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return RecordEvent(ctx, db, runID, CategoryError, EventSourceError, objectKey, -1, detail)
}

// RecordStaleSweep records a follow-mode sweep that closed stale open jobs.
func RecordStaleSweep(ctx context.Context, db *sql.DB, runID string, swept int) error {
	return RecordEvent(ctx, db, runID, CategoryWarning, EventStaleSweep, "", -1, fmt.Sprintf("swept=%d", swept))
}

// ListEvents lists events for a run in chronological order.
//
// category filters when non-nil.
func ListEvents(ctx context.Context, db *sql.DB, runID string, category *EventCategory) ([]RunEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT event_id, run_id, occurred_at, category, event_type, object_key, line, detail
	          FROM run_events WHERE run_id = ?`
	args := []any{runID}

	if category != nil {
		query += ` AND category = ?`
		args = append(args, string(*category))
	}
	query += ` ORDER BY occurred_at ASC, event_id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run_events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var objectKey, detail sql.NullString
		var line sql.NullInt64

		err := rows.Scan(
			&e.EventID, &e.RunID, &e.OccurredAt, &e.Category, &e.EventType,
			&objectKey, &line, &detail)
		if err != nil {
			return nil, fmt.Errorf("scan run_event: %w", err)
		}

		if objectKey.Valid {
			e.ObjectKey = &objectKey.String
		}
		if line.Valid {
			e.Line = &line.Int64
		}
		if detail.Valid {
			e.Detail = &detail.String
		}

		events = append(events, e)
	}

	return events, nil
}

// stringPtr returns a pointer to s, or nil if s is empty.
func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
