package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	t.Run("default level is info", func(t *testing.T) {
		InitCLILogger("test", false)
		require.NotNil(t, CLILogger)
		assert.True(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		InitCLILogger("test", true)
		assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
		wantErr bool
	}{
		{name: "structured info", level: "info", profile: "STRUCTURED"},
		{name: "console debug", level: "debug", profile: "console"},
		{name: "json alias", level: "warn", profile: "json"},
		{name: "empty profile defaults to console", level: "info", profile: ""},
		{name: "bad level", level: "shouting", profile: "console", wantErr: true},
		{name: "unknown profile", level: "info", profile: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.profile)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewLogger_LevelApplied(t *testing.T) {
	logger, err := NewLogger("warn", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewFileCore(t *testing.T) {
	t.Run("empty path rejected", func(t *testing.T) {
		_, err := NewFileCore("", 10, 3, 7)
		require.Error(t, err)
	})

	t.Run("creates parent directories and writes JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "monitor.log")
		core, err := NewFileCore(path, 10, 3, 7)
		require.NoError(t, err)

		logger := zap.New(core)
		logger.Info("rotation target ready", zap.String("path", path))
		require.NoError(t, logger.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "rotation target ready")
		assert.Contains(t, string(data), `"path"`)
	})
}

func TestInitFileLogging(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", false)
	path := filepath.Join(t.TempDir(), "monitor.log")
	require.NoError(t, InitFileLogging(path, 10, 3, 7))

	CLILogger.Info("teed entry")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "teed entry")
}
