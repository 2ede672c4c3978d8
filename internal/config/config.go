// Package config handles the global explorer configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the directory name under XDG_CONFIG_HOME.
	Dir = "onto"
	// File is the config file name.
	File = "config.yml"
)

// Environment variables that override the config file.
const (
	EnvBackendURL = "ONTO_BACKEND_URL"
	EnvAPIToken   = "ONTO_API_TOKEN"
	EnvDataDir    = "ONTO_DATA_DIR"
	EnvLogLevel   = "ONTO_LOG_LEVEL"
)

// Defaults.
const (
	DefaultBackendURL     = "http://localhost:8000"
	DefaultRateLimit      = 20.0
	DefaultHops           = 1
	DefaultRequestTimeout = 30 * time.Second
	DefaultIterations     = 300
	DefaultDebounce       = 50 * time.Millisecond
	DefaultLogLevel       = "info"
)

// Config represents configuration stored in ~/.config/onto/config.yml.
type Config struct {
	BackendURL     string        `yaml:"backend_url,omitempty"`
	APIToken       string        `yaml:"api_token,omitempty"`
	DataDir        string        `yaml:"data_dir,omitempty"`
	RateLimit      float64       `yaml:"rate_limit,omitempty"`
	DefaultHops    int           `yaml:"default_hops,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	Layout         LayoutConfig  `yaml:"layout,omitempty"`
	Log            LogConfig     `yaml:"log,omitempty"`
}

// LayoutConfig tunes the layout engine and pass coalescing.
type LayoutConfig struct {
	Iterations int           `yaml:"iterations,omitempty"`
	Debounce   time.Duration `yaml:"debounce,omitempty"`
	Seed       int64         `yaml:"seed,omitempty"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.DefaultHops == 0 {
		c.DefaultHops = DefaultHops
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Layout.Iterations == 0 {
		c.Layout.Iterations = DefaultIterations
	}
	if c.Layout.Debounce == 0 {
		c.Layout.Debounce = DefaultDebounce
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Path returns the path to the config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/onto/config.yml.
func Path() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, Dir, File)
}

// Load reads the config file, applies environment overrides, and fills
// defaults. A missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom is Load with an explicit file path.
func LoadFrom(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	if cfg.DataDir != "" {
		cfg.DataDir = ExpandPath(cfg.DataDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses the file at path as-is, without environment overrides or
// defaults. A missing file yields an empty config.
func Read(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BackendURL = GetValue(EnvBackendURL, c.BackendURL)
	c.APIToken = GetValue(EnvAPIToken, c.APIToken)
	c.DataDir = GetValue(EnvDataDir, c.DataDir)
	c.Log.Level = GetValue(EnvLogLevel, c.Log.Level)
}

// GetValue returns the environment variable if set, otherwise fallback.
func GetValue(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalid)
	}
	if c.DefaultHops < 1 {
		return fmt.Errorf("%w: default_hops must be at least 1", ErrInvalid)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request_timeout must not be negative", ErrInvalid)
	}
	if c.Layout.Iterations < 0 {
		return fmt.Errorf("%w: layout.iterations must not be negative", ErrInvalid)
	}
	if c.Layout.Debounce < 0 {
		return fmt.Errorf("%w: layout.debounce must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Keys lists the settable config keys.
var Keys = []string{
	"backend_url", "api_token", "data_dir", "rate_limit", "default_hops",
	"request_timeout", "layout.iterations", "layout.debounce", "layout.seed",
	"log.level", "log.development",
}

// Set assigns one key from its string form.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "backend_url":
		c.BackendURL = value
	case "api_token":
		c.APIToken = value
	case "data_dir":
		c.DataDir = value
	case "rate_limit":
		c.RateLimit, err = strconv.ParseFloat(value, 64)
	case "default_hops":
		c.DefaultHops, err = strconv.Atoi(value)
	case "request_timeout":
		c.RequestTimeout, err = time.ParseDuration(value)
	case "layout.iterations":
		c.Layout.Iterations, err = strconv.Atoi(value)
	case "layout.debounce":
		c.Layout.Debounce, err = time.ParseDuration(value)
	case "layout.seed":
		c.Layout.Seed, err = strconv.ParseInt(value, 10, 64)
	case "log.level":
		c.Log.Level = value
	case "log.development":
		c.Log.Development, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("%w: unknown key %q (valid: %s)", ErrInvalid, key, strings.Join(Keys, ", "))
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return nil
}

// Get returns one key in the string form Set accepts.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "backend_url":
		return c.BackendURL, nil
	case "api_token":
		return c.APIToken, nil
	case "data_dir":
		return c.DataDir, nil
	case "rate_limit":
		return strconv.FormatFloat(c.RateLimit, 'g', -1, 64), nil
	case "default_hops":
		return strconv.Itoa(c.DefaultHops), nil
	case "request_timeout":
		return c.RequestTimeout.String(), nil
	case "layout.iterations":
		return strconv.Itoa(c.Layout.Iterations), nil
	case "layout.debounce":
		return c.Layout.Debounce.String(), nil
	case "layout.seed":
		return strconv.FormatInt(c.Layout.Seed, 10), nil
	case "log.level":
		return c.Log.Level, nil
	case "log.development":
		return strconv.FormatBool(c.Log.Development), nil
	default:
		return "", fmt.Errorf("%w: unknown key %q (valid: %s)", ErrInvalid, key, strings.Join(Keys, ", "))
	}
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
