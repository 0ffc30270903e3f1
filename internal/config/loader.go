// Package config loads the server and history configuration with the
// precedence runtime overrides > environment > config file > defaults.
//
// The config file is named after the app identity (gotempus.yaml) and is
// searched for in the working directory, the project root, and the user
// config directory.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the binary and derives its env prefix and config file
// name.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// Config is the resolved configuration snapshot.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	History HistoryConfig `mapstructure:"history"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Workers int           `mapstructure:"workers"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the level, output profile, and optional
// rotating log file.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
	File    string `mapstructure:"file"`
}

// MetricsConfig configures the Prometheus exporter listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DebugConfig toggles debug behavior and the pprof endpoints.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// envSpec maps one environment variable onto a config path.
type envSpec struct {
	Name string
	Path string
}

// Load resolves the configuration and stores it as the package snapshot.
// Later calls reload; the most recent result is what GetConfig returns.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	ensureIdentity()
	identity := currentIdentity()

	v := viper.New()
	setLoaderDefaults(v)

	v.SetConfigName(identity.ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}
	for _, path := range getUserConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Both layers use Set; the later write wins, so runtime overrides
	// must be applied after the environment.
	for _, spec := range getEnvSpecs() {
		if val, ok := os.LookupEnv(spec.Name); ok && val != "" {
			v.Set(spec.Path, val)
		}
	}
	for _, override := range overrides {
		applyOverrides(v, "", override)
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil before
// the first Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func ensureIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	if appIdentity == nil {
		appIdentity = &AppIdentity{
			BinaryName: "gotempus",
			EnvPrefix:  "GOTEMPUS",
			ConfigName: "gotempus",
		}
	}
}

func currentIdentity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

func setLoaderDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")
	v.SetDefault("logging.file", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "")
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
	v.SetDefault("workers", 4)
}

// getEnvSpecs returns the curated environment variable mappings for the
// current identity, or nil before identity initialization.
func getEnvSpecs() []envSpec {
	identity := currentIdentity()
	if identity == nil {
		return nil
	}
	prefix := identity.EnvPrefix + "_"
	return []envSpec{
		{Name: prefix + "HOST", Path: "server.host"},
		{Name: prefix + "PORT", Path: "server.port"},
		{Name: prefix + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: prefix + "LOG_LEVEL", Path: "logging.level"},
		{Name: prefix + "LOG_FILE", Path: "logging.file"},
		{Name: prefix + "METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: prefix + "METRICS_PORT", Path: "metrics.port"},
		{Name: prefix + "HISTORY_DB", Path: "history.path"},
	}
}

// getUserConfigPaths returns the per-user config directories to search,
// or nil before identity initialization.
func getUserConfigPaths() []string {
	identity := currentIdentity()
	if identity == nil {
		return nil
	}

	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, identity.ConfigName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", identity.ConfigName))
	}
	return paths
}

// findProjectRoot locates the repository root. CI checkouts can live
// outside the home directory, so an absolute workspace hint that contains
// the working directory overrides discovery; otherwise the search walks up
// from the working directory until a go.mod appears.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}

	if isCI() {
		for _, name := range []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
			root := os.Getenv(name)
			if root == "" || !filepath.IsAbs(root) {
				continue
			}
			info, err := os.Stat(root)
			if err != nil || !info.IsDir() {
				continue
			}
			if isWithin(root, cwd) {
				return root, nil
			}
		}
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod found walking up from %s", cwd)
		}
		dir = parent
	}
}

func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// isWithin reports whether path is root or a descendant of root.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// applyOverrides walks a nested override map and sets each leaf at its
// dotted path.
func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for key, val := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, val)
	}
}
