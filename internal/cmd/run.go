package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gotempus/internal/observability"
	"github.com/3leaps/gotempus/pkg/correlate"
	"github.com/3leaps/gotempus/pkg/manifest"
	"github.com/3leaps/gotempus/pkg/match"
	"github.com/3leaps/gotempus/pkg/monitor"
	"github.com/3leaps/gotempus/pkg/output"
	"github.com/3leaps/gotempus/pkg/preflight"
	"github.com/3leaps/gotempus/pkg/runstore"
	"github.com/3leaps/gotempus/pkg/source"
	"github.com/3leaps/gotempus/pkg/source/file"
	"github.com/3leaps/gotempus/pkg/source/s3"
	"github.com/3leaps/gotempus/pkg/source/stdin"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a monitor pass over a log source",
	Long: `Run a monitor pass as defined in a YAML or JSON manifest file, or
directly against a source given on the command line.

The manifest specifies the log source, pattern matching rules, duration
thresholds, follow behavior, and output configuration. Flags override
manifest values.

Example:
  gotempus run --manifest monitor.yaml
  gotempus run --source /var/log/jobs --warn-after 300 --error-after 900
  gotempus run --source s3://logs/2026/**/*.log --region us-east-1
  gotempus run --source - < jobs.log
  gotempus run --manifest monitor.yaml --follow --stale-after 3600
  gotempus run --manifest monitor.yaml --dry-run`,
	RunE: runMonitor,
}

var (
	runManifestPath   string
	runSourceArg      string
	runIncludes       []string
	runExcludes       []string
	runOutput         string
	runQuiet          bool
	runDryRun         bool
	runPreflight      string
	runFollow         bool
	runWarnAfter      int64
	runErrorAfter     int64
	runDelimiter      string
	runProgressEvery  int
	runRateLimit      float64
	runStaleAfter     int64
	runHistory        bool
	runHistoryDB      string
	runRegion         string
	runEndpoint       string
	runProfile        string
	runForcePathStyle bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runManifestPath, "manifest", "m", "", "Path to monitor manifest")
	runCmd.Flags().StringVarP(&runSourceArg, "source", "s", "", "Log source: path, s3:// URI, or - for stdin")
	runCmd.Flags().StringArrayVar(&runIncludes, "include", nil, "Additional include glob (repeatable)")
	runCmd.Flags().StringArrayVar(&runExcludes, "exclude", nil, "Additional exclude glob (repeatable)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Override output destination")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress records")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate configuration and show plan without executing")
	runCmd.Flags().StringVar(&runPreflight, "preflight", "", "Probe source access before reading (plan-only|read-safe)")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "Keep reading appended lines until interrupted")
	runCmd.Flags().Int64Var(&runWarnAfter, "warn-after", 0, "Warning threshold in seconds")
	runCmd.Flags().Int64Var(&runErrorAfter, "error-after", 0, "Error threshold in seconds")
	runCmd.Flags().StringVar(&runDelimiter, "delimiter", "", "Log line field delimiter")
	runCmd.Flags().IntVar(&runProgressEvery, "progress-every", 0, "Emit a progress record every N lines")
	runCmd.Flags().Float64Var(&runRateLimit, "rate-limit", 0, "Maximum lines per second (0 = unlimited)")
	runCmd.Flags().Int64Var(&runStaleAfter, "stale-after", 0, "Sweep open records older than this many seconds (follow only)")
	runCmd.Flags().BoolVar(&runHistory, "history", false, "Record this run in the history store")
	runCmd.Flags().StringVar(&runHistoryDB, "history-db", "", "History database path or libsql URL (implies --history)")
	runCmd.Flags().StringVar(&runRegion, "region", "", "AWS region (s3 sources)")
	runCmd.Flags().StringVar(&runEndpoint, "endpoint", "", "Custom endpoint URL (S3-compatible stores)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "AWS credential profile (s3 sources)")
	runCmd.Flags().BoolVar(&runForcePathStyle, "force-path-style", false, "Force path-style addressing (s3 sources)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	switch runPreflight {
	case "", string(preflight.ModePlanOnly), string(preflight.ModeReadSafe):
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --preflight value",
			fmt.Errorf("unsupported preflight mode: %s", runPreflight))
	}

	m, err := assembleManifest(cmd)
	if err != nil {
		return err
	}

	// Plan mode: show plan and exit
	if runDryRun {
		return showRunPlan(m)
	}

	return executeRun(ctx, m)
}

// assembleManifest builds the effective manifest from the manifest file
// and flag overrides, then validates the result.
func assembleManifest(cmd *cobra.Command) (*manifest.Manifest, error) {
	var m *manifest.Manifest

	if runManifestPath != "" {
		loaded, err := manifest.Load(runManifestPath)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest",
				zap.String("path", runManifestPath),
				zap.Error(err))
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		m = loaded

		observability.CLILogger.Debug("Loaded manifest",
			zap.String("path", runManifestPath),
			zap.String("source_type", m.Source.Type),
			zap.Strings("includes", m.Match.Includes))
	} else {
		if runSourceArg == "" {
			return nil, exitError(foundry.ExitInvalidArgument, "Missing log source",
				fmt.Errorf("either --manifest or --source is required"))
		}
		m = &manifest.Manifest{Version: manifest.DefaultVersion}
	}

	if err := applyRunOverrides(cmd, m); err != nil {
		return nil, err
	}

	// A bare source monitors everything under it.
	if len(m.Match.Includes) == 0 {
		m.Match.Includes = []string{"**"}
	}

	m.ApplyDefaults()

	if err := manifest.Validate(m); err != nil {
		observability.CLILogger.Error("Invalid monitor configuration", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid monitor configuration", err)
	}

	if m.Follow.Enabled && m.Source.Type == "s3" {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid monitor configuration",
			fmt.Errorf("follow mode requires a file or stdin source"))
	}

	return m, nil
}

// applyRunOverrides layers flag values over the manifest.
func applyRunOverrides(cmd *cobra.Command, m *manifest.Manifest) error {
	flags := cmd.Flags()

	if runSourceArg != "" {
		resolved, err := resolveSourceArg(runSourceArg)
		if err != nil {
			observability.CLILogger.Error("Invalid source", zap.String("source", runSourceArg), zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid --source", err)
		}
		m.Source = resolved.config
		if resolved.include != "" {
			m.Match.Includes = append(m.Match.Includes, resolved.include)
		}
	}

	// S3 connection flags layer on whatever source is configured.
	if runRegion != "" {
		m.Source.Region = runRegion
	}
	if runEndpoint != "" {
		m.Source.Endpoint = runEndpoint
	}
	if runProfile != "" {
		m.Source.Profile = runProfile
	}
	if flags.Changed("force-path-style") {
		m.Source.ForcePathStyle = runForcePathStyle
	}

	m.Match.Includes = append(m.Match.Includes, runIncludes...)
	m.Match.Excludes = append(m.Match.Excludes, runExcludes...)

	if runOutput != "" {
		m.Output.Destination = runOutput
	}
	if runQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}

	if flags.Changed("warn-after") {
		m.Monitor.WarnAfterSeconds = runWarnAfter
	}
	if flags.Changed("error-after") {
		m.Monitor.ErrorAfterSeconds = runErrorAfter
	}
	if runDelimiter != "" {
		m.Monitor.Delimiter = runDelimiter
	}
	if flags.Changed("progress-every") {
		m.Monitor.ProgressEvery = runProgressEvery
	}
	if flags.Changed("rate-limit") {
		m.Monitor.RateLimit = runRateLimit
	}

	if runFollow {
		m.Follow.Enabled = true
	}
	if flags.Changed("stale-after") {
		m.Follow.StaleAfterSeconds = runStaleAfter
	}

	if flags.Changed("history") {
		m.History.Enabled = runHistory
	}
	if runHistoryDB != "" {
		m.History.Path = runHistoryDB
		m.History.Enabled = true
	}

	return nil
}

// resolvedSource is the manifest source section derived from --source,
// plus an include pattern when the argument carried a key or glob.
type resolvedSource struct {
	config  manifest.SourceConfig
	include string
}

func resolveSourceArg(arg string) (*resolvedSource, error) {
	if arg == "-" {
		return &resolvedSource{config: manifest.SourceConfig{Type: "stdin"}}, nil
	}

	if strings.Contains(arg, "://") {
		u, err := ParseURI(arg)
		if err != nil {
			return nil, err
		}
		resolved := &resolvedSource{config: manifest.SourceConfig{
			Type:   "s3",
			Bucket: u.Bucket,
		}}
		switch {
		case u.Pattern != "":
			resolved.include = u.Pattern
		case u.IsPrefix():
			resolved.config.Prefix = u.Key
		default:
			// Single object: a literal include lists and matches only it.
			resolved.include = u.Key
		}
		return resolved, nil
	}

	return &resolvedSource{config: manifest.SourceConfig{Type: "file", Path: arg}}, nil
}

// effectiveIncludes returns the include globs with any s3 source prefix
// folded in, so derived listing prefixes and match results both respect
// the configured scope.
func effectiveIncludes(m *manifest.Manifest) []string {
	prefix := strings.TrimSuffix(m.Source.Prefix, "/")
	if m.Source.Type != "s3" || prefix == "" {
		return m.Match.Includes
	}

	scoped := make([]string, 0, len(m.Match.Includes))
	for _, inc := range m.Match.Includes {
		if inc == prefix || strings.HasPrefix(inc, prefix+"/") {
			scoped = append(scoped, inc)
			continue
		}
		scoped = append(scoped, prefix+"/"+strings.TrimPrefix(inc, "/"))
	}
	return scoped
}

// showRunPlan displays what would be monitored without executing.
func showRunPlan(m *manifest.Manifest) error {
	fmt.Println("=== Monitor Plan (dry-run) ===")
	fmt.Println()
	switch m.Source.Type {
	case "s3":
		fmt.Printf("Source:      s3://%s/%s\n", m.Source.Bucket, m.Source.Prefix)
		if m.Source.Region != "" {
			fmt.Printf("Region:      %s\n", m.Source.Region)
		}
		if m.Source.Endpoint != "" {
			fmt.Printf("Endpoint:    %s\n", m.Source.Endpoint)
		}
	case "stdin":
		fmt.Println("Source:      stdin")
	default:
		fmt.Printf("Source:      %s\n", m.Source.Path)
	}
	fmt.Println()
	fmt.Println("Patterns:")
	fmt.Println("  Include:")
	for _, p := range effectiveIncludes(m) {
		fmt.Printf("    - %s\n", p)
	}
	if len(m.Match.Excludes) > 0 {
		fmt.Println("  Exclude:")
		for _, p := range m.Match.Excludes {
			fmt.Printf("    - %s\n", p)
		}
	}
	fmt.Println()

	if m.Match.Filters != nil {
		fmt.Println("Filters:")
		if m.Match.Filters.Size != nil {
			fmt.Printf("  Size:      min=%s max=%s\n", m.Match.Filters.Size.Min, m.Match.Filters.Size.Max)
		}
		if m.Match.Filters.Modified != nil {
			fmt.Printf("  Modified:  after=%s before=%s\n", m.Match.Filters.Modified.After, m.Match.Filters.Modified.Before)
		}
		if m.Match.Filters.KeyRegex != "" {
			fmt.Printf("  Key Regex: %s\n", m.Match.Filters.KeyRegex)
		}
		fmt.Println()
	}

	fmt.Printf("Warn After:  %ds\n", m.Monitor.WarnAfterSeconds)
	fmt.Printf("Error After: %ds\n", m.Monitor.ErrorAfterSeconds)
	fmt.Printf("Delimiter:   %q\n", m.Monitor.Delimiter)
	if m.Monitor.RateLimit > 0 {
		fmt.Printf("Rate Limit:  %.1f lines/s\n", m.Monitor.RateLimit)
	}
	if m.Follow.Enabled {
		fmt.Printf("Follow:      poll every %.1fs", m.Follow.PollInterval)
		if m.Follow.StaleAfterSeconds > 0 {
			fmt.Printf(", sweep stale after %ds", m.Follow.StaleAfterSeconds)
		}
		fmt.Println()
	}
	if m.History.Enabled {
		path := m.History.Path
		if path == "" {
			path = "(default)"
		}
		fmt.Printf("History:     %s\n", path)
	}
	if runPreflight != "" {
		fmt.Printf("Preflight:   %s\n", runPreflight)
	}
	fmt.Printf("Output:      %s\n", m.Output.Destination)
	fmt.Printf("Progress:    %v\n", m.Output.ProgressEnabled())
	fmt.Println()
	fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}

// executeRun runs the actual monitor pass.
func executeRun(ctx context.Context, m *manifest.Manifest) error {
	run, db, err := beginHistory(ctx, m)
	if err != nil {
		observability.CLILogger.Error("Failed to open history store", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to open history store", err)
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	// Generate run ID early so we can use it in the writer. A recorded
	// run reuses the store's ID so output and history correlate.
	runID := uuid.New().String()
	if run != nil {
		runID = run.RunID
	}

	src, err := createSource(ctx, m)
	if err != nil {
		observability.CLILogger.Error("Failed to open log source", zap.Error(err))
		if m.Source.Type == "s3" {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open log source", err)
		}
		return exitError(foundry.ExitFileNotFound, "Failed to open log source", err)
	}
	defer func() { _ = src.Close() }()

	matcher, err := match.New(match.Config{
		Includes:      effectiveIncludes(m),
		Excludes:      m.Match.Excludes,
		IncludeHidden: m.Match.IncludeHidden,
	})
	if err != nil {
		observability.CLILogger.Error("Failed to create matcher", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid match patterns", err)
	}

	filter, err := buildMonitorFilter(m)
	if err != nil {
		observability.CLILogger.Error("Invalid filters", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid filters", err)
	}

	writer, cleanup, err := createRunWriter(m, runID)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	if !m.Output.ProgressEnabled() {
		writer = output.MuteProgress(writer)
	}

	if db != nil {
		writer = newHistoryWriter(writer, db, runID, observability.CLILogger)
		if err := runstore.RecordRunStarted(ctx, db, runID, sourceURI(m)); err != nil {
			observability.CLILogger.Warn("Failed to record run start", zap.Error(err))
		}
	}

	// Stdin cannot be probed without consuming it.
	if runPreflight != "" && m.Source.Type != "stdin" {
		pfRec, pfErr := preflight.Check(ctx, src, matcher.Prefixes(), preflight.Spec{
			Mode: preflight.Mode(runPreflight),
		})
		if err := writer.WritePreflight(ctx, pfRec); err != nil {
			observability.CLILogger.Warn("Failed to write preflight record", zap.Error(err))
		}
		if pfErr != nil {
			observability.CLILogger.Error("Preflight failed", zap.Error(pfErr))
			return exitError(foundry.ExitExternalServiceUnavailable, "Preflight failed", pfErr)
		}
	}

	cor := correlate.New(correlate.Config{
		WarnAfter:  m.Monitor.WarnAfterSeconds,
		ErrorAfter: m.Monitor.ErrorAfterSeconds,
	})

	cfg := monitor.Config{
		Delimiter:     m.Monitor.Delimiter,
		MaxLineBytes:  m.Monitor.MaxLineBytes,
		ProgressEvery: m.Monitor.ProgressEvery,
		RateLimit:     m.Monitor.RateLimit,
		Follow:        m.Follow.Enabled,
		PollInterval:  time.Duration(m.Follow.PollInterval * float64(time.Second)),
		StaleAfter:    m.Follow.StaleAfterSeconds,
	}

	mon := monitor.New(src, cor, matcher, writer, cfg, observability.CLILogger)
	if filter != nil {
		mon.WithFilter(filter)
	}

	observability.CLILogger.Info("Starting monitor",
		zap.String("run_id", runID),
		zap.String("source", sourceURI(m)),
		zap.Int64("warn_after", m.Monitor.WarnAfterSeconds),
		zap.Int64("error_after", m.Monitor.ErrorAfterSeconds),
		zap.Bool("follow", m.Follow.Enabled))

	summary, runErr := mon.Run(ctx)

	finishHistory(db, runID, summary)

	if runErr != nil {
		if ctx.Err() != nil {
			// Interrupting a follow run is its normal way to end; the
			// summary and open records were already written.
			if m.Follow.Enabled {
				return nil
			}
			observability.CLILogger.Warn("Monitor cancelled",
				zap.String("run_id", runID),
				zap.Int64("lines_read", summaryLines(summary)))
			return exitError(foundry.ExitSignalInt, "Monitor cancelled", runErr)
		}
		observability.CLILogger.Error("Monitor failed",
			zap.String("run_id", runID),
			zap.Error(runErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Monitor failed", runErr)
	}

	return nil
}

func summaryLines(s *monitor.Summary) int64 {
	if s == nil {
		return 0
	}
	return s.LinesRead
}

// sourceURI renders the manifest source as a display URI for logs and
// run history.
func sourceURI(m *manifest.Manifest) string {
	switch m.Source.Type {
	case "s3":
		if m.Source.Prefix != "" {
			return fmt.Sprintf("s3://%s/%s", m.Source.Bucket, m.Source.Prefix)
		}
		return fmt.Sprintf("s3://%s", m.Source.Bucket)
	case "stdin":
		return "stdin"
	default:
		return "file:" + m.Source.Path
	}
}

// createSource creates a log source from manifest configuration.
func createSource(ctx context.Context, m *manifest.Manifest) (source.Source, error) {
	switch m.Source.Type {
	case "s3":
		return s3.New(ctx, s3.Config{
			Bucket:         m.Source.Bucket,
			Region:         m.Source.Region,
			Endpoint:       m.Source.Endpoint,
			Profile:        m.Source.Profile,
			ForcePathStyle: m.Source.ForcePathStyle || m.Source.Endpoint != "",
		})
	case "stdin":
		return stdin.New(os.Stdin), nil
	default:
		return file.New(file.Config{Root: m.Source.Path})
	}
}

func buildMonitorFilter(m *manifest.Manifest) (*match.CompositeFilter, error) {
	if m.Match.Filters == nil {
		return nil, nil
	}

	cfg := &match.FilterConfig{
		KeyRegex: m.Match.Filters.KeyRegex,
	}

	if m.Match.Filters.Size != nil {
		cfg.Size = &match.SizeFilterConfig{
			Min: m.Match.Filters.Size.Min,
			Max: m.Match.Filters.Size.Max,
		}
	}

	if m.Match.Filters.Modified != nil {
		cfg.Modified = &match.DateFilterConfig{
			After:  m.Match.Filters.Modified.After,
			Before: m.Match.Filters.Modified.Before,
		}
	}

	return match.NewFilterFromConfig(cfg)
}

// createRunWriter creates an output writer from manifest configuration.
// Returns the writer, a cleanup function, and any error.
func createRunWriter(m *manifest.Manifest, runID string) (output.Writer, func(), error) {
	dest := m.Output.Destination
	sourceType := m.Source.Type

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID, sourceType)
		return w, func() { _ = w.Close() }, nil
	}

	// Handle file: prefix
	path := dest
	if strings.HasPrefix(dest, "file:") {
		path = strings.TrimPrefix(dest, "file:")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID, sourceType)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
