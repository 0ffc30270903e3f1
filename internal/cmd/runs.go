package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/gotempus/pkg/runstore"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query the run history store",
	Long: `Query recorded monitor runs and their events.

Runs are recorded when history is enabled (history.enabled in the
manifest, or --history on the run command). The store keeps run
provenance and anomalies only; per-job results live in the output
stream.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded monitor runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show one run with its recorded events",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDBPath string

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.PersistentFlags().StringVar(&runsDBPath, "db", "", "History database path or libsql URL")

	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsListCmd.Flags().Int("limit", 50, "Maximum runs to list (0 = all)")
	runsListCmd.Flags().String("status", "", "Filter by status: running, success, partial, or failed")
	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
	runsShowCmd.Flags().String("category", "", "Filter events by category: info, warning, or error")
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")
	statusFilter, _ := cmd.Flags().GetString("status")

	status := runstore.RunStatus(statusFilter)
	if statusFilter != "" && !knownRunStatus(status) {
		return fmt.Errorf("unknown status %q (expected running, success, partial, or failed)", statusFilter)
	}

	db, err := openHistory(ctx, runsDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runs, err := runstore.ListRuns(ctx, db, limit, status)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No runs found")
		return nil
	}

	if jsonOutput {
		return printRunsJSON(runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RUN ID\tSOURCE\tSTATUS\tSTARTED\tENDED\tLINES\tRESULTS\tSKIPPED\tOPEN")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			shortRunID(r.RunID),
			r.SourceURI,
			r.Status,
			r.StartedAt.UTC().Format(time.RFC3339),
			formatRunEnd(r.EndedAt),
			r.LinesRead,
			r.ResultsEmitted,
			r.Skipped,
			r.OpenAtEnd,
		)
	}

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	categoryFilter, _ := cmd.Flags().GetString("category")

	var category *runstore.EventCategory
	if categoryFilter != "" {
		c := runstore.EventCategory(categoryFilter)
		switch c {
		case runstore.CategoryInfo, runstore.CategoryWarning, runstore.CategoryError:
			category = &c
		default:
			return fmt.Errorf("unknown category %q (expected info, warning, or error)", categoryFilter)
		}
	}

	db, err := openHistory(ctx, runsDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runID, err := resolveRunID(ctx, db, args[0])
	if err != nil {
		return err
	}

	run, err := runstore.GetRun(ctx, db, runID)
	if err != nil {
		return err
	}

	events, err := runstore.ListEvents(ctx, db, runID, category)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run    jsonRun     `json:"run"`
			Events []jsonEvent `json:"events"`
		}{Run: toJSONRun(*run), Events: toJSONEvents(events)})
	}

	_, _ = fmt.Fprintf(os.Stdout, "run_id=%s\n", run.RunID)
	_, _ = fmt.Fprintf(os.Stdout, "source=%s\n", run.SourceURI)
	_, _ = fmt.Fprintf(os.Stdout, "manifest_hash=%s\n", run.ManifestHash)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", run.Status)
	_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", run.StartedAt.UTC().Format(time.RFC3339))
	if run.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", run.EndedAt.UTC().Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(os.Stdout, "lines_read=%d\n", run.LinesRead)
	_, _ = fmt.Fprintf(os.Stdout, "events_applied=%d\n", run.EventsApplied)
	_, _ = fmt.Fprintf(os.Stdout, "results_emitted=%d\n", run.ResultsEmitted)
	_, _ = fmt.Fprintf(os.Stdout, "skipped=%d\n", run.Skipped)
	_, _ = fmt.Fprintf(os.Stdout, "open_at_end=%d\n", run.OpenAtEnd)

	if len(events) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "\nNo events recorded")
		return nil
	}

	_, _ = fmt.Fprintln(os.Stdout)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "OCCURRED\tCATEGORY\tTYPE\tOBJECT\tLINE\tDETAIL")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.UTC().Format(time.RFC3339),
			e.Category,
			e.EventType,
			orDash(e.ObjectKey),
			formatEventLine(e.Line),
			orDash(e.Detail),
		)
	}

	return nil
}

// jsonRun is the CLI wire form of a recorded run. It matches the shapes
// served by /v1/runs so scripted consumers can share a decoder.
type jsonRun struct {
	RunID          string  `json:"run_id"`
	SourceURI      string  `json:"source_uri"`
	ManifestHash   string  `json:"manifest_hash"`
	Status         string  `json:"status"`
	StartedAt      string  `json:"started_at"`
	EndedAt        *string `json:"ended_at,omitempty"`
	LinesRead      int64   `json:"lines_read"`
	EventsApplied  int64   `json:"events_applied"`
	ResultsEmitted int64   `json:"results_emitted"`
	Skipped        int64   `json:"skipped"`
	OpenAtEnd      int64   `json:"open_at_end"`
}

type jsonEvent struct {
	EventID    string  `json:"event_id"`
	OccurredAt string  `json:"occurred_at"`
	Category   string  `json:"category"`
	EventType  string  `json:"event_type"`
	ObjectKey  *string `json:"object_key,omitempty"`
	Line       *int64  `json:"line,omitempty"`
	Detail     *string `json:"detail,omitempty"`
}

func toJSONRun(r runstore.Run) jsonRun {
	out := jsonRun{
		RunID:          r.RunID,
		SourceURI:      r.SourceURI,
		ManifestHash:   r.ManifestHash,
		Status:         string(r.Status),
		StartedAt:      r.StartedAt.UTC().Format(time.RFC3339),
		LinesRead:      r.LinesRead,
		EventsApplied:  r.EventsApplied,
		ResultsEmitted: r.ResultsEmitted,
		Skipped:        r.Skipped,
		OpenAtEnd:      r.OpenAtEnd,
	}
	if r.EndedAt != nil {
		ts := r.EndedAt.UTC().Format(time.RFC3339)
		out.EndedAt = &ts
	}
	return out
}

func toJSONEvents(events []runstore.RunEvent) []jsonEvent {
	out := make([]jsonEvent, len(events))
	for i, e := range events {
		out[i] = jsonEvent{
			EventID:    e.EventID,
			OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339),
			Category:   string(e.Category),
			EventType:  e.EventType,
			ObjectKey:  e.ObjectKey,
			Line:       e.Line,
			Detail:     e.Detail,
		}
	}
	return out
}

func printRunsJSON(runs []runstore.Run) error {
	out := make([]jsonRun, len(runs))
	for i, r := range runs {
		out[i] = toJSONRun(r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func knownRunStatus(s runstore.RunStatus) bool {
	switch s {
	case runstore.RunStatusRunning, runstore.RunStatusSuccess, runstore.RunStatusPartial, runstore.RunStatusFailed:
		return true
	}
	return false
}

// resolveRunID accepts a full run ID or a unique prefix of one, so the
// truncated IDs printed by the list view work as show arguments.
func resolveRunID(ctx context.Context, db *sql.DB, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("run_id is required")
	}

	// Exact match first.
	if _, err := runstore.GetRun(ctx, db, input); err == nil {
		return input, nil
	}

	runs, err := runstore.ListRuns(ctx, db, 0, "")
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, r := range runs {
		if strings.HasPrefix(r.RunID, input) {
			matches = append(matches, r.RunID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("run not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("run id prefix is ambiguous (%d matches); use the full run_id", len(matches))
	}
	return matches[0], nil
}

func shortRunID(runID string) string {
	runID = strings.TrimSpace(runID)
	if strings.HasPrefix(runID, "run_") && len(runID) > len("run_")+12 {
		return runID[:len("run_")+12]
	}
	return runID
}

func formatRunEnd(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatEventLine(line *int64) string {
	if line == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *line)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
