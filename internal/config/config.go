// Package config loads querygate configuration from defaults, a YAML file
// and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/querygate/internal/page"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultTimeout is the wall-clock budget for one query.
const DefaultTimeout = 300 * time.Second

const (
	envTimeout     = "QUERYGATE_TIMEOUT"
	envEngine      = "QUERYGATE_ENGINE"
	envLogLevel    = "QUERYGATE_LOG_LEVEL"
	envMetricsFile = "QUERYGATE_METRICS_FILE"
)

// Config holds querygate configuration.
type Config struct {
	// Timeout is the deadline for the query engine, e.g. "300s" or 300.
	Timeout Duration `yaml:"timeout"`
	// Engine describes the external query engine.
	Engine EngineConfig `yaml:"engine"`
	// Page holds the static header content.
	Page PageConfig `yaml:"page"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// MetricsFile, when set, receives Prometheus text-format metrics on exit.
	MetricsFile string `yaml:"metrics_file"`
}

// Duration is a time.Duration that also accepts a bare number of seconds
// when decoded from YAML.
type Duration time.Duration

// UnmarshalYAML decodes "90s", "1m30s", 90 or 1.5.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timeout must be a duration or a number of seconds", value.Line)
	}
	parsed, err := parseTimeout(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration in Go duration syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// EngineConfig describes how to start the query engine.
type EngineConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`
}

// PageConfig holds the header and form settings.
type PageConfig struct {
	Title        string `yaml:"title"`
	Instructions string `yaml:"instructions"`
	Action       string `yaml:"action"`
	ContentType  bool   `yaml:"content_type"`
}

// Header converts the page settings into a renderable header.
func (p PageConfig) Header() page.Header {
	return page.Header{
		Title:        p.Title,
		Instructions: p.Instructions,
		Action:       p.Action,
		ContentType:  p.ContentType,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	h := page.DefaultHeader()
	return &Config{
		Timeout:  Duration(DefaultTimeout),
		LogLevel: "info",
		Page: PageConfig{
			Title:        h.Title,
			Instructions: h.Instructions,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.querygate/config.yaml, or "" if there is no home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".querygate", "config.yaml")
}

// LoadDotEnv loads a .env file into the process environment if one exists.
// Variables already set are left alone.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides cfg with QUERYGATE_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(envTimeout); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envTimeout, err)
		}
		c.Timeout = Duration(d)
	}
	if v := getenv(envEngine); v != "" {
		c.Engine.Command = v
	}
	if v := getenv(envLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(envMetricsFile); v != "" {
		c.MetricsFile = v
	}
	return nil
}

// parseTimeout accepts a Go duration ("90s") or a bare number of seconds.
func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return nil
}
