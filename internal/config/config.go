package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	CaptureModeHTTP    = "http"
	CaptureModeBrowser = "browser"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig describes where and how feed captures are taken.
type CaptureConfig struct {
	// Mode is "http" (GET FeedURL directly) or "browser" (load PageURL in
	// headless Chromium and record the request matching Match).
	Mode string `yaml:"mode" json:"mode"`

	// FeedURL is the timetable feed endpoint used in http mode.
	FeedURL string `yaml:"feed_url" json:"feed_url"`

	// PageURL is the timetable page loaded in browser mode.
	PageURL string `yaml:"page_url" json:"page_url"`

	// Match is a substring identifying the feed request in browser mode.
	Match string `yaml:"match" json:"match"`

	// Headers are sent with every http mode request (e.g. Cookie).
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// TimeoutSeconds bounds a single capture.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the feed's wall-clock times are read in.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// for periodic captures in serve mode. Empty disables scheduled captures.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// StorePath is the capture history file.
	StorePath string `yaml:"store_path" json:"store_path"`

	// Retention is the number of captures kept; at least 2.
	Retention int `yaml:"retention" json:"retention"`

	// ExportPrefix names export files: <prefix>-YYYY-MM-DD.csv.
	ExportPrefix string `yaml:"export_prefix" json:"export_prefix"`

	// CalendarName is the display name written to iCalendar exports.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// MaxOccurrences caps the occurrences expanded from a single record.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		RefreshCron: "*/30 * * * *",
		Capture: CaptureConfig{
			Mode:           CaptureModeHTTP,
			Match:          "sas_events.jsp",
			TimeoutSeconds: 30,
		},
		StorePath:      "/var/lib/gridcal/captures.json",
		Retention:      2,
		ExportPrefix:   "calendar-events",
		CalendarName:   "Timetable",
		MaxOccurrences: 5000,
		LogLevel:       "info",
		BasicAuth:      nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	switch c.Capture.Mode {
	case CaptureModeHTTP, CaptureModeBrowser:
		// ok
	default:
		// Unknown or empty; plain HTTP needs the fewest moving parts.
		c.Capture.Mode = CaptureModeHTTP
	}
	if c.Capture.Match == "" {
		c.Capture.Match = def.Capture.Match
	}
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = def.Capture.TimeoutSeconds
	}
	if c.StorePath == "" {
		c.StorePath = def.StorePath
	}
	// Change detection needs the two most recent captures.
	if c.Retention < 2 {
		c.Retention = 2
	}
	if c.ExportPrefix == "" {
		c.ExportPrefix = def.ExportPrefix
	}
	if c.CalendarName == "" {
		c.CalendarName = def.CalendarName
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate reports settings that cannot work at all.
func (c *Config) Validate() error {
	switch c.Capture.Mode {
	case CaptureModeBrowser:
		if c.Capture.PageURL == "" {
			return errors.New("config: capture.page_url is required in browser mode")
		}
	default:
		if c.Capture.FeedURL == "" {
			return errors.New("config: capture.feed_url is required in http mode")
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone; empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// CaptureTimeout returns the capture timeout as a duration.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".gridcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
