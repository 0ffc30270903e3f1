package handlers

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/gotempus/internal/errors"
	"github.com/3leaps/gotempus/pkg/runstore"
)

// defaultRunListLimit bounds /v1/runs when the client does not set one.
const defaultRunListLimit = 50

// RunsHandler serves run history from the history store.
type RunsHandler struct {
	db *sql.DB
}

// NewRunsHandler creates a handler over an open history store.
func NewRunsHandler(db *sql.DB) *RunsHandler {
	return &RunsHandler{db: db}
}

// RunPayload is the wire form of a recorded run.
type RunPayload struct {
	RunID          string     `json:"run_id"`
	SourceURI      string     `json:"source_uri"`
	ManifestHash   string     `json:"manifest_hash"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Status         string     `json:"status"`
	LinesRead      int64      `json:"lines_read"`
	EventsApplied  int64      `json:"events_applied"`
	ResultsEmitted int64      `json:"results_emitted"`
	Skipped        int64      `json:"skipped"`
	OpenAtEnd      int64      `json:"open_at_end"`
}

// RunEventPayload is the wire form of a recorded run event.
type RunEventPayload struct {
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Category   string    `json:"category"`
	EventType  string    `json:"event_type"`
	ObjectKey  *string   `json:"object_key,omitempty"`
	Line       *int64    `json:"line,omitempty"`
	Detail     *string   `json:"detail,omitempty"`
}

// RunListResponse is the payload for GET /v1/runs.
type RunListResponse struct {
	Runs []RunPayload `json:"runs"`
}

// RunDetailResponse is the payload for GET /v1/runs/{id}.
type RunDetailResponse struct {
	Run    RunPayload        `json:"run"`
	Events []RunEventPayload `json:"events"`
}

// List serves GET /v1/runs. Supported query parameters: limit (positive
// integer, default 50) and status (running, success, partial, failed).
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			apperrors.RespondWithError(w, r, http.StatusBadRequest,
				"INVALID_ARGUMENT", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	status := runstore.RunStatus(r.URL.Query().Get("status"))
	if status != "" && !validRunStatus(status) {
		apperrors.RespondWithError(w, r, http.StatusBadRequest,
			"INVALID_ARGUMENT", "status must be one of running, success, partial, failed")
		return
	}

	runs, err := runstore.ListRuns(r.Context(), h.db, limit, status)
	if err != nil {
		respondWithError(w, r, apperrors.WrapExternalService(err, "list runs"))
		return
	}

	payloads := make([]RunPayload, 0, len(runs))
	for _, run := range runs {
		payloads = append(payloads, toRunPayload(run))
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: payloads})
}

// Get serves GET /v1/runs/{id}, returning the run with its recorded
// events. The category query parameter filters events (info, warning,
// error).
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	run, err := runstore.GetRun(r.Context(), h.db, runID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var category *runstore.EventCategory
	if raw := r.URL.Query().Get("category"); raw != "" {
		parsed := runstore.EventCategory(raw)
		if !validEventCategory(parsed) {
			apperrors.RespondWithError(w, r, http.StatusBadRequest,
				"INVALID_ARGUMENT", "category must be one of info, warning, error")
			return
		}
		category = &parsed
	}

	events, err := runstore.ListEvents(r.Context(), h.db, runID, category)
	if err != nil {
		respondWithError(w, r, apperrors.WrapExternalService(err, "list run events"))
		return
	}

	eventPayloads := make([]RunEventPayload, 0, len(events))
	for _, event := range events {
		eventPayloads = append(eventPayloads, RunEventPayload{
			EventID:    event.EventID,
			OccurredAt: event.OccurredAt,
			Category:   string(event.Category),
			EventType:  event.EventType,
			ObjectKey:  event.ObjectKey,
			Line:       event.Line,
			Detail:     event.Detail,
		})
	}

	writeJSON(w, http.StatusOK, RunDetailResponse{
		Run:    toRunPayload(*run),
		Events: eventPayloads,
	})
}

func toRunPayload(run runstore.Run) RunPayload {
	return RunPayload{
		RunID:          run.RunID,
		SourceURI:      run.SourceURI,
		ManifestHash:   run.ManifestHash,
		StartedAt:      run.StartedAt,
		EndedAt:        run.EndedAt,
		Status:         string(run.Status),
		LinesRead:      run.LinesRead,
		EventsApplied:  run.EventsApplied,
		ResultsEmitted: run.ResultsEmitted,
		Skipped:        run.Skipped,
		OpenAtEnd:      run.OpenAtEnd,
	}
}

func validRunStatus(status runstore.RunStatus) bool {
	switch status {
	case runstore.RunStatusRunning, runstore.RunStatusSuccess,
		runstore.RunStatusPartial, runstore.RunStatusFailed:
		return true
	}
	return false
}

func validEventCategory(category runstore.EventCategory) bool {
	switch category {
	case runstore.CategoryInfo, runstore.CategoryWarning, runstore.CategoryError:
		return true
	}
	return false
}
