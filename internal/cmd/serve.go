package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/gotempus/internal/config"
	"github.com/3leaps/gotempus/internal/observability"
	"github.com/3leaps/gotempus/internal/server"
	"github.com/3leaps/gotempus/internal/server/handlers"
	"github.com/3leaps/gotempus/pkg/correlate"
	"github.com/3leaps/gotempus/pkg/manifest"
	"github.com/3leaps/gotempus/pkg/match"
	"github.com/3leaps/gotempus/pkg/monitor"
	"github.com/3leaps/gotempus/pkg/output"
	"github.com/3leaps/gotempus/pkg/runstore"
)

// Rotation bounds for the log file sink.
const (
	logFileMaxSizeMB  = 100
	logFileMaxBackups = 3
	logFileMaxAgeDays = 28
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ops HTTP server",
	Long: `Run the ops HTTP server.

The server exposes health probes, build info, the v1 status and run
history API, and a websocket record stream. With --manifest it also
hosts a follow monitor whose records feed the stream endpoint.

Examples:
  gotempus serve
  gotempus serve --port 9000 --history-db ./gotempus-history.db
  gotempus serve --manifest monitor.yaml
  gotempus serve --manifest monitor.yaml --pprof`,
	RunE: runServe,
}

var (
	serveHost         string
	servePort         int
	serveMetricsPort  int
	serveHistory      bool
	serveHistoryDB    string
	serveManifestPath string
	servePprof        bool
	serveLogFile      string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides config)")
	serveCmd.Flags().IntVar(&serveMetricsPort, "metrics-port", 0, "Metrics listener port (overrides config)")
	serveCmd.Flags().BoolVar(&serveHistory, "history", false, "Enable the run history store")
	serveCmd.Flags().StringVar(&serveHistoryDB, "history-db", "", "History database path or libsql:// URL (implies --history)")
	serveCmd.Flags().StringVarP(&serveManifestPath, "manifest", "m", "", "Host a follow monitor from this manifest")
	serveCmd.Flags().BoolVar(&servePprof, "pprof", false, "Mount the pprof endpoints")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Rotating JSON log file (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx, serveOverrides(cmd))
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		observability.CLILogger.Error("Failed to build logger", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Logging.File != "" {
		fileCore, err := observability.NewFileCore(cfg.Logging.File,
			logFileMaxSizeMB, logFileMaxBackups, logFileMaxAgeDays)
		if err != nil {
			logger.Error("Failed to open log file", zap.String("path", cfg.Logging.File), zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to open log file", err)
		}
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	identity := GetAppIdentity()

	var hm *handlers.HealthManager
	if cfg.Health.Enabled {
		hm = handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("signal", signalHealthChecker{})
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		observability.InitTelemetry(identity.BinaryName)
		if hm != nil {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		metricsSrv = startMetricsListener(cfg.Server.Host, cfg.Metrics.Port, logger)
	}

	var db *sql.DB
	if cfg.History.Enabled {
		db, err = openHistory(ctx, cfg.History.Path)
		if err != nil {
			logger.Error("Failed to open history store", zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to open history store", err)
		}
		defer func() { _ = db.Close() }()
		if hm != nil {
			hm.RegisterChecker("store", storeHealthChecker{db: db})
		}
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}
	if db != nil {
		opts = append(opts, server.WithHistoryDB(db))
	}
	if cfg.Debug.PprofEnabled {
		opts = append(opts, server.WithPprof())
	}

	var hosted *hostedMonitor
	if serveManifestPath != "" {
		hub := handlers.NewHub(logger)
		hosted, err = startHostedMonitor(ctx, serveManifestPath, db, hub, logger)
		if err != nil {
			return err
		}
		defer hosted.stop()
		if hm != nil {
			hm.RegisterChecker("monitor", monitorHealthChecker{mon: hosted.mon})
		}
		opts = append(opts, server.WithStatusProvider(hosted.mon), server.WithStreamHub(hub))
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("serve started",
		zap.String("addr", srv.Addr()),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("history", db != nil),
		zap.Bool("monitor", hosted != nil))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return shutdownServe(srv, metricsSrv, hosted, shutdownTimeout, logger)

		case sig := <-srv.Signals():
			switch sig {
			case "reload":
				if _, err := config.Load(ctx, serveOverrides(cmd)); err != nil {
					logger.Warn("configuration reload failed", zap.Error(err))
					continue
				}
				logger.Info("configuration reloaded")
			case "shutdown":
				logger.Info("admin shutdown requested")
				return shutdownServe(srv, metricsSrv, hosted, shutdownTimeout, logger)
			}

		case err := <-errCh:
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			logger.Error("server failed", zap.Error(err))
			if hosted != nil {
				hosted.stop()
			}
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
	}
}

// serveOverrides folds changed flags into a config override map.
func serveOverrides(cmd *cobra.Command) map[string]any {
	flags := cmd.Flags()
	overrides := map[string]any{}

	if flags.Changed("host") {
		overrides["server.host"] = serveHost
	}
	if flags.Changed("port") {
		overrides["server.port"] = servePort
	}
	if flags.Changed("metrics-port") {
		overrides["metrics.port"] = serveMetricsPort
	}
	if flags.Changed("history") {
		overrides["history.enabled"] = serveHistory
	}
	if flags.Changed("history-db") {
		overrides["history.enabled"] = true
		overrides["history.path"] = serveHistoryDB
	}
	if flags.Changed("pprof") {
		overrides["debug.pprof_enabled"] = servePprof
	}
	if flags.Changed("log-file") {
		overrides["logging.file"] = serveLogFile
	}
	return overrides
}

// shutdownServe drains the hosted monitor, the metrics listener, and the
// ops server, in that order, within one shared deadline.
func shutdownServe(srv *server.Server, metricsSrv *http.Server, hosted *hostedMonitor, timeout time.Duration, logger *zap.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if hosted != nil {
		hosted.stop()
		hosted.wait(shutdownCtx, logger)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
		return fmt.Errorf("shutdown incomplete: %w", err)
	}

	logger.Info("serve stopped")
	return nil
}

// startMetricsListener serves the Prometheus exposition endpoint on its
// own listener so scrapes never contend with the ops API.
func startMetricsListener(host string, port int, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.PrometheusExporter)

	srv := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	return srv
}

// hostedMonitor is a follow monitor running inside the serve process.
type hostedMonitor struct {
	mon    *monitor.Monitor
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *hostedMonitor) stop() { h.cancel() }

// wait blocks until the monitor goroutine finishes or ctx expires.
func (h *hostedMonitor) wait(ctx context.Context, logger *zap.Logger) {
	select {
	case <-h.done:
	case <-ctx.Done():
		logger.Warn("hosted monitor did not stop in time", zap.String("run_id", h.runID))
	}
}

// startHostedMonitor loads the manifest and runs a follow monitor in the
// background, streaming records to the hub and, when the store is open,
// recording the run.
func startHostedMonitor(ctx context.Context, path string, db *sql.DB, hub *handlers.Hub, logger *zap.Logger) (*hostedMonitor, error) {
	m, err := manifest.Load(path)
	if err != nil {
		logger.Error("Invalid manifest", zap.String("path", path), zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	// The serve process owns the follow lifecycle; the manifest cannot
	// opt out of it.
	m.Follow.Enabled = true

	if m.Source.Type != "file" {
		err := fmt.Errorf("source type %q cannot be hosted", m.Source.Type)
		logger.Error("Invalid monitor configuration", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Hosted monitors require a file source", err)
	}

	runID := uuid.New().String()
	if db != nil {
		hash, err := runstore.HashManifest(m)
		if err != nil {
			return nil, exitError(foundry.ExitFileWriteError, "Failed to record hosted run", err)
		}
		run, err := runstore.CreateRun(ctx, db, sourceURI(m), hash)
		if err != nil {
			return nil, exitError(foundry.ExitFileWriteError, "Failed to record hosted run", err)
		}
		runID = run.RunID
	}

	src, err := createSource(ctx, m)
	if err != nil {
		logger.Error("Failed to open log source", zap.Error(err))
		return nil, exitError(foundry.ExitFileNotFound, "Failed to open log source", err)
	}

	matcher, err := match.New(match.Config{
		Includes:      effectiveIncludes(m),
		Excludes:      m.Match.Excludes,
		IncludeHidden: m.Match.IncludeHidden,
	})
	if err != nil {
		_ = src.Close()
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid match patterns", err)
	}

	filter, err := buildMonitorFilter(m)
	if err != nil {
		_ = src.Close()
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid filters", err)
	}

	writer, cleanup, err := createRunWriter(m, runID)
	if err != nil {
		_ = src.Close()
		return nil, exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}

	if !m.Output.ProgressEnabled() {
		writer = output.MuteProgress(writer)
	}
	writer = handlers.NewBroadcastWriter(writer, hub, runID, m.Source.Type)
	if db != nil {
		writer = newHistoryWriter(writer, db, runID, logger)
		if err := runstore.RecordRunStarted(ctx, db, runID, sourceURI(m)); err != nil {
			logger.Warn("Failed to record run start", zap.Error(err))
		}
	}

	cor := correlate.New(correlate.Config{
		WarnAfter:  m.Monitor.WarnAfterSeconds,
		ErrorAfter: m.Monitor.ErrorAfterSeconds,
	})

	mcfg := monitor.Config{
		Delimiter:     m.Monitor.Delimiter,
		MaxLineBytes:  m.Monitor.MaxLineBytes,
		ProgressEvery: m.Monitor.ProgressEvery,
		RateLimit:     m.Monitor.RateLimit,
		Follow:        true,
		PollInterval:  time.Duration(m.Follow.PollInterval * float64(time.Second)),
		StaleAfter:    m.Follow.StaleAfterSeconds,
	}

	mon := monitor.New(src, cor, matcher, writer, mcfg, logger)
	if filter != nil {
		mon.WithFilter(filter)
	}
	registerMonitorMetrics(mon)

	logger.Info("hosting monitor",
		zap.String("run_id", runID),
		zap.String("source", sourceURI(m)),
		zap.Int64("warn_after", m.Monitor.WarnAfterSeconds),
		zap.Int64("error_after", m.Monitor.ErrorAfterSeconds))

	// The monitor outlives the request context; shutdown drives it
	// through stop.
	monCtx, cancel := context.WithCancel(context.Background())
	h := &hostedMonitor{mon: mon, runID: runID, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cleanup()
		defer func() { _ = src.Close() }()

		summary, runErr := mon.Run(monCtx)
		finishHistory(db, runID, summary)

		if runErr != nil && monCtx.Err() == nil {
			logger.Error("hosted monitor failed", zap.String("run_id", runID), zap.Error(runErr))
			return
		}
		logger.Info("hosted monitor stopped", zap.String("run_id", runID))
	}()

	return h, nil
}

// registerMonitorMetrics exposes the hosted monitor's counters as gauges
// on the process metric registry. No-op while metrics are disabled.
func registerMonitorMetrics(mon *monitor.Monitor) {
	t := observability.TelemetrySystem
	if t == nil {
		return
	}
	t.RegisterGauge("monitor_lines_read", "Lines consumed by the hosted monitor.", func() float64 {
		return float64(mon.Status().LinesRead)
	})
	t.RegisterGauge("monitor_events_applied", "Events accepted by the correlator.", func() float64 {
		return float64(mon.Status().EventsApplied)
	})
	t.RegisterGauge("monitor_results_emitted", "Closed-record results written.", func() float64 {
		return float64(mon.Status().ResultsEmitted)
	})
	t.RegisterGauge("monitor_skipped", "Lines dropped with diagnostics.", func() float64 {
		return float64(mon.Status().Skipped)
	})
	t.RegisterGauge("monitor_open_jobs", "Records currently open.", func() float64 {
		return float64(len(mon.Status().OpenJobs))
	})
}

// signalHealthChecker reports the admin signal wiring healthy. The
// channel is buffered and created with the server, so there is nothing
// to probe.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// telemetryHealthChecker verifies the metric registry and exporter are
// initialized.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil {
		return errors.New("telemetry system not initialized")
	}
	if observability.PrometheusExporter == nil {
		return errors.New("prometheus exporter not initialized")
	}
	return nil
}

// identityHealthChecker verifies the app identity is fully populated.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return errors.New("missing binary name")
	}
	if c.envPrefix == "" {
		return errors.New("missing env prefix")
	}
	if c.configName == "" {
		return errors.New("missing config name")
	}
	return nil
}

// storeHealthChecker pings the history database.
type storeHealthChecker struct {
	db *sql.DB
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// monitorHealthChecker reports whether the hosted follow monitor is
// still running.
type monitorHealthChecker struct {
	mon *monitor.Monitor
}

func (c monitorHealthChecker) CheckHealth(ctx context.Context) error {
	if !c.mon.Status().Running {
		return errors.New("hosted monitor is not running")
	}
	return nil
}
