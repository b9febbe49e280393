// Package config loads waypoint settings. Later sources override earlier
// ones: built-in defaults, .waypoint/config.yaml, .waypoint/.env, then
// WAYPOINT_* environment variables. Command-line flags are applied by the
// caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the per-workspace state directory.
	Dir = ".waypoint"
	// FileName is the config file inside Dir.
	FileName = "config.yaml"
	// EnvFileName is the optional dotenv file inside Dir.
	EnvFileName = ".env"
)

// Config holds workspace configuration.
type Config struct {
	// Root is the workspace root. Relative paths resolve against it.
	Root string `yaml:"-"`

	// Database is the graph database path.
	Database string `yaml:"database"`
	// Cache is the file digest cache path. Empty disables the cache.
	Cache string `yaml:"cache"`

	Log        LogConfig        `yaml:"log"`
	Editor     EditorConfig     `yaml:"editor"`
	Validation ValidationConfig `yaml:"validation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EditorConfig holds the command templates used to reveal locations.
type EditorConfig struct {
	Open   string `yaml:"open"`
	Browse string `yaml:"browse"`
}

// ValidationConfig tunes graph validation passes.
type ValidationConfig struct {
	AutoRelocate bool     `yaml:"autoRelocate"`
	BatchSize    int      `yaml:"batchSize"`
	Exclude      []string `yaml:"exclude"`
}

// MetricsConfig controls the Prometheus text file output.
type MetricsConfig struct {
	File string `yaml:"file"`
}

// Default returns the built-in configuration for root.
func Default(root string) *Config {
	return &Config{
		Root:     root,
		Database: filepath.Join(Dir, "waypoint.db"),
		Cache:    filepath.Join(Dir, "cache.db"),
		Log:      LogConfig{Level: "info", Format: "console"},
		Editor: EditorConfig{
			Open:   "code --goto {file}:{line}:{column}",
			Browse: defaultBrowser(),
		},
		Validation: ValidationConfig{BatchSize: 50},
	}
}

func defaultBrowser() string {
	switch runtime.GOOS {
	case "darwin":
		return "open {file}"
	case "windows":
		return "explorer {file}"
	default:
		return "xdg-open {file}"
	}
}

// Load reads the configuration for the workspace at root.
func Load(root string) (*Config, error) {
	cfg := Default(root)

	data, err := os.ReadFile(filepath.Join(root, Dir, FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	}

	dotenv, err := godotenv.Read(filepath.Join(root, Dir, EnvFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", EnvFileName, err)
	}

	cfg.applyEnv(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	})
	return cfg, nil
}

// Save writes the configuration file, creating the state directory.
func (c *Config) Save() error {
	dir := filepath.Join(c.Root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", Dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, FileName), data, 0644)
}

// Path resolves p against the workspace root.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c *Config) applyEnv(lookup func(string) string) {
	c.Database = getEnv(lookup, "WAYPOINT_DB", c.Database)
	c.Cache = getEnv(lookup, "WAYPOINT_CACHE", c.Cache)
	c.Log.Level = getEnv(lookup, "WAYPOINT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv(lookup, "WAYPOINT_LOG_FORMAT", c.Log.Format)
	c.Editor.Open = getEnv(lookup, "WAYPOINT_EDITOR", c.Editor.Open)
	c.Editor.Browse = getEnv(lookup, "WAYPOINT_BROWSER", c.Editor.Browse)
	c.Validation.AutoRelocate = getEnvBool(lookup, "WAYPOINT_AUTO_RELOCATE", c.Validation.AutoRelocate)
	c.Validation.BatchSize = getEnvInt(lookup, "WAYPOINT_BATCH_SIZE", c.Validation.BatchSize)
	c.Validation.Exclude = getEnvList(lookup, "WAYPOINT_EXCLUDE", c.Validation.Exclude)
	c.Metrics.File = getEnv(lookup, "WAYPOINT_METRICS_FILE", c.Metrics.File)
}

func getEnv(lookup func(string) string, key, defaultVal string) string {
	if val := lookup(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(lookup func(string) string, key string, defaultVal bool) bool {
	if val := lookup(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(lookup func(string) string, key string, defaultVal int) int {
	if val := lookup(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvList(lookup func(string) string, key string, defaultVal []string) []string {
	val := lookup(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
