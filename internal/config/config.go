package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
//
// The sync engine only reacts to NotificationMinutesBefore and
// FetchIntervalMinutes; changes to those take effect on the next scheduling
// cycle, not mid-timer.
type Config struct {
	// Listen is the HTTP listen address for the local status API.
	// Empty disables the server.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display timezone. Empty means system local.
	Timezone string `yaml:"timezone" json:"timezone"`

	// NotificationMinutesBefore is how many minutes ahead of an event's
	// start the reminder fires. Valid range 0-60.
	NotificationMinutesBefore int `yaml:"notification_minutes_before" json:"notification_minutes_before"`

	// FetchIntervalMinutes is the periodic refresh cadence. Valid range 1-30.
	FetchIntervalMinutes int `yaml:"fetch_interval_minutes" json:"fetch_interval_minutes"`

	// BrowserProfilePath is the persistent Chromium profile directory used
	// to keep the remote calendar session alive across runs. Opaque to the
	// engine; only the extraction layer interprets it.
	BrowserProfilePath string `yaml:"browser_profile_path" json:"browser_profile_path"`

	// CachePath is where the last-known-good schedule snapshot is stored.
	CachePath string `yaml:"cache_path" json:"cache_path"`

	// ShowAllDayEvents toggles all-day entries in summaries and the API.
	ShowAllDayEvents bool `yaml:"show_all_day_events" json:"show_all_day_events"`

	// MaxTitleLength truncates event titles in one-line summaries.
	MaxTitleLength int `yaml:"max_title_length" json:"max_title_length"`

	// Headless controls background fetches. Interactive login always runs
	// headed regardless.
	Headless bool `yaml:"headless" json:"headless"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all status
	// API endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                    "",
		Timezone:                  "",
		NotificationMinutesBefore: 5,
		FetchIntervalMinutes:      5,
		BrowserProfilePath:        "~/.calbar/browser_profile",
		CachePath:                 "~/.calbar/cache.json",
		ShowAllDayEvents:          true,
		MaxTitleLength:            30,
		Headless:                  true,
		BasicAuth:                 nil,
	}
}

// Normalize fills in missing/zero values and clamps the two engine-facing
// knobs into their documented ranges so that out-of-range values never reach
// the scheduler.
func (c *Config) Normalize() {
	if c.NotificationMinutesBefore < 0 || c.NotificationMinutesBefore > 60 {
		c.NotificationMinutesBefore = 5
	}
	if c.FetchIntervalMinutes < 1 || c.FetchIntervalMinutes > 30 {
		c.FetchIntervalMinutes = 5
	}
	if c.BrowserProfilePath == "" {
		c.BrowserProfilePath = "~/.calbar/browser_profile"
	}
	if c.CachePath == "" {
		c.CachePath = "~/.calbar/cache.json"
	}
	if c.MaxTitleLength <= 0 {
		c.MaxTitleLength = 30
	}
}

// ExpandHome resolves a leading "~/" against the current user's home
// directory. Paths without the prefix are returned unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	path = ExpandHome(path)

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
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	path = ExpandHome(path)

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calbar-config-*.tmp")
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

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
