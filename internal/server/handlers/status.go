package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/gotempus/internal/errors"
	"github.com/3leaps/gotempus/pkg/monitor"
	"github.com/3leaps/gotempus/pkg/output"
)

// StatusProvider reports a live engine snapshot. The monitor engine
// satisfies this interface.
type StatusProvider interface {
	Status() monitor.Status
}

// StatusResponse is the engine snapshot payload for /v1/status.
type StatusResponse struct {
	Running        bool                `json:"running"`
	Phase          string              `json:"phase"`
	LinesRead      int64               `json:"lines_read"`
	EventsApplied  int64               `json:"events_applied"`
	ResultsEmitted int64               `json:"results_emitted"`
	Skipped        int64               `json:"skipped"`
	SourceErrors   int64               `json:"source_errors"`
	Objects        int64               `json:"objects"`
	LastEventTime  int64               `json:"last_event_time,omitempty"`
	OpenJobs       []output.OpenRecord `json:"open_jobs"`
}

// StatusHandler serves the engine snapshot from the given provider.
func StatusHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			apperrors.RespondWithError(w, r, http.StatusServiceUnavailable,
				"SERVICE_UNAVAILABLE", "no monitor attached")
			return
		}

		status := provider.Status()
		open := make([]output.OpenRecord, 0, len(status.OpenJobs))
		for _, job := range status.OpenJobs {
			open = append(open, output.NewOpenRecord(job))
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			Running:        status.Running,
			Phase:          status.Phase,
			LinesRead:      status.LinesRead,
			EventsApplied:  status.EventsApplied,
			ResultsEmitted: status.ResultsEmitted,
			Skipped:        status.Skipped,
			SourceErrors:   status.SourceErrors,
			Objects:        status.Objects,
			LastEventTime:  status.LastEventTime,
			OpenJobs:       open,
		})
	}
}
