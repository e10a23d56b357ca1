// ABOUTME: Configuration loading and parsing for plugshell
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "PLUGSHELL_CONFIG"

// Config represents the complete plugshell configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AppConfig identifies the application hosting the plugins
type AppConfig struct {
	Name         string `yaml:"name"`
	Organization string `yaml:"organization"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// Driver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo)
	Driver string `yaml:"driver"`
}

// PluginsConfig holds plugin discovery and loading configuration
type PluginsConfig struct {
	Dirs            []string `yaml:"dirs"`
	CacheDir        string   `yaml:"cache_dir"`
	ForceClearCache bool     `yaml:"force_clear_cache"`
	Concurrency     int      `yaml:"concurrency"`

	InitTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	InitTimeoutRaw string `yaml:"init_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	data := xdgDir("XDG_DATA_HOME", ".local/share")
	cache := xdgDir("XDG_CACHE_HOME", ".cache")

	return &Config{
		App: AppConfig{Name: "plugshell"},
		Database: DatabaseConfig{
			Path:   filepath.Join(data, "plugshell", "plugshell.db"),
			Driver: "sqlite",
		},
		Plugins: PluginsConfig{
			Dirs:           []string{filepath.Join(data, "plugshell", "plugins")},
			CacheDir:       filepath.Join(cache, "plugshell", "plugins"),
			Concurrency:    4,
			InitTimeout:    30 * time.Second,
			InitTimeoutRaw: "30s",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464", Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	expandPaths(cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// DefaultPath returns the config path: $PLUGSHELL_CONFIG if set, else
// $XDG_CONFIG_HOME/plugshell/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "plugshell", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if len(c.Plugins.Dirs) == 0 {
		return fmt.Errorf("plugins.dirs must list at least one directory")
	}
	for i, dir := range c.Plugins.Dirs {
		if dir == "" {
			return fmt.Errorf("plugins.dirs[%d] is empty", i)
		}
	}
	if c.Plugins.Concurrency < 1 {
		return fmt.Errorf("plugins.concurrency must be at least 1")
	}
	if c.Plugins.InitTimeout < 0 {
		return fmt.Errorf("plugins.init_timeout must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return fmt.Errorf("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Plugins.InitTimeoutRaw != "" {
		cfg.Plugins.InitTimeout, err = time.ParseDuration(cfg.Plugins.InitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing init_timeout %q: %w", cfg.Plugins.InitTimeoutRaw, err)
		}
	}

	return nil
}

// expandPaths resolves a leading ~/ in every path setting.
func expandPaths(cfg *Config) {
	cfg.Database.Path = expandHome(cfg.Database.Path)
	cfg.Plugins.CacheDir = expandHome(cfg.Plugins.CacheDir)
	for i, dir := range cfg.Plugins.Dirs {
		cfg.Plugins.Dirs[i] = expandHome(dir)
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

// WriteDefault writes a commented default configuration to path. The file
// is replaced atomically; parent directories are created.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	out, err := DefaultYAML()
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, strings.NewReader(out)); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// DefaultYAML renders Default as a config file.
func DefaultYAML() (string, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	return "# plugshell configuration\n# Values may reference environment variables as ${VAR_NAME}.\n\n" + string(data), nil
}
