// Package cmd implements the gotempus command line interface.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/gotempus/internal/observability"
)

// VersionInfo carries the build identity stamped in by the linker.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

// SetVersionInfo records the build identity reported by the version
// command, the doctor banner, and the ops server.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// AppIdentity names the binary and derives its environment prefix and
// config file name.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the CLI identity, or nil before initialization.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var (
	flagVerbose   bool
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gotempus",
	Short: "Correlate START/END events in job logs",
	Long: `gotempus reads job logs, pairs START and END events per process and
action, and emits duration-classified JSONL results.

Sources can be local files, directories, stdin, or S3 prefixes. Runs
are driven by a manifest; most manifest settings can be overridden
with flags.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := flagLogLevel
		if flagVerbose {
			level = "debug"
		}
		if err := observability.SetupCLILogger(appIdentity.BinaryName, level, flagLogFormat); err != nil {
			return err
		}
		if path := viper.GetString("logging.file"); path != "" {
			return observability.InitFileLogging(path, logFileMaxSizeMB, logFileMaxBackups, logFileMaxAgeDays)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	appIdentity = &AppIdentity{
		BinaryName: "gotempus",
		EnvPrefix:  "GOTEMPUS",
		ConfigName: "gotempus",
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "console", "log format (console, structured)")
}

// initConfig seeds the global viper defaults, binds the environment, and
// reads the optional config file.
func initConfig() {
	setDefaults()

	viper.SetConfigName(appIdentity.ConfigName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, appIdentity.ConfigName))
	}

	viper.SetEnvPrefix(appIdentity.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// setDefaults seeds the global viper with server and runtime defaults.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")
	viper.SetDefault("logging.file", "")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("health.enabled", true)

	viper.SetDefault("history.enabled", false)
	viper.SetDefault("history.path", "")

	viper.SetDefault("workers", 4)

	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)
}

// Execute runs the root command under a signal-aware context, exiting
// with the code carried by the returned error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error(err.Error())

		code := 1
		var coded *exitCodeError
		if errors.As(err, &coded) {
			code = coded.code
		}
		stop()
		os.Exit(code)
	}
}
