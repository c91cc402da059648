// Package config loads client configuration from a per-environment YAML file
// and PARSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a value is not configured.
const (
	DefaultBaseURL     = "https://api.parse.com/1"
	DefaultTimeout     = 60 * time.Second
	DefaultEnvironment = "development"
)

// Environment variables that override file values.
const (
	EnvApplicationID = "PARSE_APPLICATION_ID"
	EnvAPIKey        = "PARSE_REST_API_KEY"
	EnvMasterKey     = "PARSE_MASTER_KEY"
	EnvBaseURL       = "PARSE_BASE_URL"
	EnvTimeout       = "PARSE_TIMEOUT"
)

// Validation errors.
var (
	ErrMissingApplicationID = errors.New("application id is required")
	ErrMissingKey           = errors.New("a REST API key or master key is required")
)

// Config holds everything the client needs to reach one application.
type Config struct {
	ApplicationID string
	APIKey        string
	MasterKey     string
	BaseURL       string
	Timeout       time.Duration
}

// fileEntry is one environment block of the YAML file:
//
//	development:
//	  application_id: abc
//	  rest_api_key: def
//	  master_key: ghi
//	  base_url: http://localhost:1337/1
//	  timeout: 30s
type fileEntry struct {
	ApplicationID string `yaml:"application_id"`
	APIKey        string `yaml:"rest_api_key"`
	MasterKey     string `yaml:"master_key"`
	BaseURL       string `yaml:"base_url"`
	Timeout       string `yaml:"timeout"`
}

// Load reads the env block of the YAML file at path, applies environment
// variable overrides and defaults, then validates. An empty path skips the
// file; a missing file is an error.
func Load(path, env string) (Config, error) {
	var cfg Config

	if path != "" {
		fromFile, err := readFile(path, env)
		if err != nil {
			return Config{}, err
		}
		cfg = fromFile
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path, env string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var entries map[string]fileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if env == "" {
		env = DefaultEnvironment
	}
	entry, ok := entries[env]
	if !ok {
		return Config{}, fmt.Errorf("config %s: no %q environment", path, env)
	}

	cfg := Config{
		ApplicationID: entry.ApplicationID,
		APIKey:        entry.APIKey,
		MasterKey:     entry.MasterKey,
		BaseURL:       entry.BaseURL,
	}
	if entry.Timeout != "" {
		d, err := time.ParseDuration(entry.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: timeout: %w", path, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// applyEnv overrides cfg with any PARSE_* variables that are set.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvApplicationID); ok {
		cfg.ApplicationID = v
	}
	if v, ok := lookup(EnvAPIKey); ok {
		cfg.APIKey = v
	}
	if v, ok := lookup(EnvMasterKey); ok {
		cfg.MasterKey = v
	}
	if v, ok := lookup(EnvBaseURL); ok {
		cfg.BaseURL = v
	}
	if v, ok := lookup(EnvTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	return nil
}

// WithDefaults fills the base URL and timeout when unset and strips a
// trailing slash from the base URL.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate checks that the application id and at least one key are set and
// that the base URL is absolute.
func (c Config) Validate() error {
	if c.ApplicationID == "" {
		return ErrMissingApplicationID
	}
	if c.APIKey == "" && c.MasterKey == "" {
		return ErrMissingKey
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base url %q must be an absolute URL", c.BaseURL)
		}
	}
	return nil
}

// UsesMasterKey reports whether requests are signed with the master key.
func (c Config) UsesMasterKey() bool {
	return c.MasterKey != ""
}
