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

// LoaderConfig controls the retry budget of bootstrap requests.
type LoaderConfig struct {
	// Retries is the number of retries after the first attempt.
	Retries int `yaml:"retries" json:"retries"`
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	// Multiplier scales the backoff after every failed retry.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// CacheConfig selects where the last successful schedule is kept.
type CacheConfig struct {
	// Backend is "file" (default) or "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the slot file or the sqlite database path.
	Path string `yaml:"path" json:"path"`
}

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Viewport is the screen area the authorization window is centered in.
type Viewport struct {
	Left   int `yaml:"left" json:"left"`
	Top    int `yaml:"top" json:"top"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// SyncConfig controls the calendar authorization flow.
type SyncConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// PollTimeout bounds how long an open authorization window is waited
	// for. Zero waits forever.
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	Window      Size          `yaml:"window" json:"window"`
	Viewport    Viewport      `yaml:"viewport" json:"viewport"`
	// BrowserPath overrides Chrome discovery for the authorization window.
	BrowserPath string `yaml:"browser_path,omitempty" json:"browser_path,omitempty"`
}

// SemesterConfig anchors weekly classes for local calendar export.
type SemesterConfig struct {
	// Start is the first day of teaching, "2006-01-02".
	Start string `yaml:"start" json:"start"`
	Weeks int    `yaml:"weeks" json:"weeks"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level client configuration.
type Config struct {
	// BackendURL is the base URL of the timetable API.
	BackendURL string `yaml:"backend_url" json:"backend_url"`

	// Listen is the address of the local status API (serve command).
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone class and exam times are expressed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// RollNumber is the default roll number for fetch and scheduled refresh.
	RollNumber string `yaml:"roll_number,omitempty" json:"roll_number,omitempty"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *") for
	// re-fetching RollNumber while serving. Empty disables refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Loader   LoaderConfig   `yaml:"loader" json:"loader"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Semester SemesterConfig `yaml:"semester" json:"semester"`

	// BasicAuth, if non-nil, protects every local endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultBackendURL = "http://localhost:8000"
	defaultListen     = "127.0.0.1:8080"
	defaultTimezone   = "Asia/Karachi"
	defaultCacheFile  = "last_schedule.json"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.BackendURL == "" {
		c.BackendURL = defaultBackendURL
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 */6 * * *"
	}

	if c.Loader.Retries < 0 || (c.Loader.Retries == 0 && c.Loader.InitialBackoff == 0) {
		c.Loader.Retries = 3
	}
	if c.Loader.InitialBackoff <= 0 {
		c.Loader.InitialBackoff = time.Second
	}
	if c.Loader.Multiplier < 1 {
		c.Loader.Multiplier = 1.5
	}
	if c.Loader.RequestTimeout <= 0 {
		c.Loader.RequestTimeout = 15 * time.Second
	}

	switch c.Cache.Backend {
	case "file", "sqlite":
	default:
		c.Cache.Backend = "file"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(defaultStateDir(), defaultCacheFile)
		if c.Cache.Backend == "sqlite" {
			c.Cache.Path = filepath.Join(defaultStateDir(), "cache.db")
		}
	}

	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = time.Second
	}
	if c.Sync.PollTimeout < 0 {
		c.Sync.PollTimeout = 0
	}
	if c.Sync.Window.Width <= 0 {
		c.Sync.Window.Width = 500
	}
	if c.Sync.Window.Height <= 0 {
		c.Sync.Window.Height = 600
	}
	if c.Sync.Viewport.Width <= 0 {
		c.Sync.Viewport.Width = 1280
	}
	if c.Sync.Viewport.Height <= 0 {
		c.Sync.Viewport.Height = 800
	}

	if c.Semester.Start == "" {
		c.Semester.Start = "2026-02-02"
	}
	if c.Semester.Weeks <= 0 {
		c.Semester.Weeks = 16
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := time.Parse(time.DateOnly, c.Semester.Start); err != nil {
		return fmt.Errorf("semester.start %q: %w", c.Semester.Start, err)
	}
	return nil
}

// Location returns the configured zone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SemesterStart returns the first teaching day in the configured zone.
func (c *Config) SemesterStart() (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, c.Semester.Start, c.Location())
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "timetable")
	}
	return "./var"
}

// DefaultPath is where the config lives when --config is not given.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "timetable", "config.yaml")
	}
	return "./config.yaml"
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether an unsaved default is good enough.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
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
	return WriteFileAtomic(path, data, ".timetable-config-*.tmp")
}

// WriteFileAtomic writes data next to path under a temporary name and
// renames it into place, so readers never observe a partial file.
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
