package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"planner/internal/model"
)

// SubscriptionConfig describes a single ICS subscription imported as items.
type SubscriptionConfig struct {
	// ID is an internal identifier; imported items are tagged with it.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Category assigned to every imported event. Defaults to "other".
	Category model.Category `yaml:"category" json:"category"`
	// Color tag carried onto every imported item.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone whose wall clock defines "today" and
	// every item's times. Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday starts a week view. Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// re-importing subscriptions.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the rolling window of the badge counters.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// ChecklistDays is the window of the upcoming task checklist.
	ChecklistDays int `yaml:"checklist_days" json:"checklist_days"`
	// HistoryDays is how far back the recent-completions list reaches.
	HistoryDays int `yaml:"history_days" json:"history_days"`
	// ImportHorizonDays bounds the expansion of imported recurrences.
	ImportHorizonDays int `yaml:"import_horizon_days" json:"import_horizon_days"`

	// DataPath is the YAML data file used when DatabaseURL is empty.
	DataPath string `yaml:"data_path" json:"data_path"`
	// DatabaseURL selects the PostgreSQL store when non-empty.
	DatabaseURL string `yaml:"database_url,omitempty" json:"database_url,omitempty"`
	// CacheDir holds the HTTP cache of subscription bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Subscriptions is the list of imported ICS feeds.
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		Timezone:          "",
		WeekStart:         "monday",
		LogLevel:          "info",
		RefreshCron:       "*/15 * * * *",
		HorizonDays:       7,
		ChecklistDays:     14,
		HistoryDays:       14,
		ImportHorizonDays: 180,
		DataPath:          "./var/planner.yaml",
		CacheDir:          "./var/ics-cache",
		Subscriptions:     []SubscriptionConfig{},
		BasicAuth:         nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.ChecklistDays <= 0 {
		c.ChecklistDays = def.ChecklistDays
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = def.HistoryDays
	}
	if c.ImportHorizonDays <= 0 {
		c.ImportHorizonDays = def.ImportHorizonDays
	}
	if c.DataPath == "" {
		c.DataPath = def.DataPath
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
	for i := range c.Subscriptions {
		if c.Subscriptions[i].Category == 0 {
			c.Subscriptions[i].Category = model.CategoryOther
		}
		if c.Subscriptions[i].Name == "" {
			c.Subscriptions[i].Name = c.Subscriptions[i].ID
		}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
	}
	seen := make(map[string]bool, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		if s.ID == "" || s.URL == "" {
			return fmt.Errorf("subscription %q: id and url are required", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("subscription %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Location resolves Timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FirstWeekday maps WeekStart onto time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
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
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".planner-config-*.tmp")
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path. The file ends up with 0600 permissions.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
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
