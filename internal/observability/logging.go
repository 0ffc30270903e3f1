// Package observability holds the process-wide loggers and the telemetry
// registry served by the metrics endpoint.
//
// CLI commands log through the package-level CLILogger, a console logger
// bound to stderr so that record output on stdout stays machine-parseable.
// The serve path builds its own logger with NewLogger. Long-running modes
// tee either logger into a rotating JSON file via NewFileCore.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the logger used by CLI commands. It starts as a no-op logger
// so early failures can log before initialization without a nil check.
var CLILogger *zap.Logger

var cliLoggerMu sync.Mutex

func init() {
	CLILogger = zap.New(zapcore.NewNopCore())
}

// InitCLILogger installs the console CLI logger. Verbose lowers the level
// to debug.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	// The console profile cannot fail to build for a known level.
	_ = SetupCLILogger(name, level, "console")
}

// SetupCLILogger installs the CLI logger with an explicit level and format.
// Format is "console" or "structured"; both write to stderr.
func SetupCLILogger(name, level, format string) error {
	logger, err := NewLogger(level, format)
	if err != nil {
		return err
	}

	cliLoggerMu.Lock()
	defer cliLoggerMu.Unlock()
	CLILogger = logger.Named(name)
	return nil
}

// NewLogger builds a stderr logger for the given level and profile.
// Profile "structured" (or "json") emits production JSON entries;
// "console" (or "text") emits human-readable lines without timestamps.
// Profile matching is case-insensitive.
func NewLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	switch strings.ToLower(profile) {
	case "structured", "json":
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return cfg.Build()
	case "console", "text", "":
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig()),
			zapcore.Lock(os.Stderr),
			lvl,
		)
		return zap.New(core), nil
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}
}

// consoleEncoderConfig renders level, message, and fields. Timestamps and
// callers are omitted; console output is read live at a terminal, and the
// file sink keeps the timestamped record.
func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = zapcore.OmitKey
	cfg.CallerKey = zapcore.OmitKey
	cfg.NameKey = zapcore.OmitKey
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// NewFileCore returns a JSON core writing to a size-rotated file. Rotation
// keeps maxBackups files for at most maxAgeDays; the active file rolls at
// maxSizeMB megabytes. The core records debug and above regardless of the
// console level.
func NewFileCore(path string, maxSizeMB, maxBackups, maxAgeDays int) (zapcore.Core, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(sink),
		zapcore.DebugLevel,
	), nil
}

// InitFileLogging tees the CLI logger into a rotating JSON file so a
// long-running mode keeps its history across restarts.
func InitFileLogging(path string, maxSizeMB, maxBackups, maxAgeDays int) error {
	fileCore, err := NewFileCore(path, maxSizeMB, maxBackups, maxAgeDays)
	if err != nil {
		return err
	}

	cliLoggerMu.Lock()
	defer cliLoggerMu.Unlock()
	CLILogger = CLILogger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
	return nil
}
