package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // portal zone must resolve on hosts without zoneinfo

	"github.com/spf13/viper"

	"github.com/Veraticus/tollkeeper/internal/common"
)

// Config is the typed application configuration.
type Config struct {
	Portal     PortalConfig
	Browser    BrowserConfig
	Sync       SyncConfig
	Violations ViolationsConfig
	Server     ServerConfig
	Database   DatabaseConfig
}

// PortalConfig locates and authenticates against the toll portal.
type PortalConfig struct {
	BaseURL  string
	LoginURL string
	Username string
	Password string
	// Timezone is the IANA zone portal dates are written in.
	Timezone string
}

// BrowserConfig controls the automated browser.
type BrowserConfig struct {
	ExecPath  string
	UserAgent string
	Width     int
	Height    int
	Headless  bool
}

// SyncConfig tunes the sync pipeline and its schedule.
type SyncConfig struct {
	Schedule          string
	BatchSize         int
	LookbackDays      int
	MaxStable         int
	StabilizeTimeout  time.Duration
	RowTimeout        time.Duration
	LoginAttempts     int
	ClassifyAfterSync bool
}

// ViolationsConfig overrides the built-in violation rules.
type ViolationsConfig struct {
	MarkerPattern string
	Forbidden     []string
}

// ServerConfig configures the HTTP API.
// With TLS on, the API serves a self-signed certificate kept in CertDir that
// covers localhost plus TLSHosts.
type ServerConfig struct {
	Address  string
	Mode     string
	CertDir  string
	TLSHosts []string
	TLS      bool
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("portal.base_url", "https://lk.avtodor-tr.ru")
	v.SetDefault("portal.timezone", "Europe/Moscow")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.width", 1920)
	v.SetDefault("browser.height", 1080)
	v.SetDefault("sync.batch_size", 20)
	v.SetDefault("sync.lookback_days", 3)
	v.SetDefault("sync.max_stable", 5)
	v.SetDefault("sync.stabilize_timeout", 2*time.Minute)
	v.SetDefault("sync.row_timeout", 15*time.Second)
	v.SetDefault("sync.login_attempts", 2)
	v.SetDefault("server.address", "127.0.0.1:8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cert_dir", filepath.Join(DataDir(), "certs"))
	v.SetDefault("database.path", filepath.Join(DataDir(), appName+".db"))
}

// Load reads the configuration from v. Portal credentials fall back to the
// AVTODOR_USERNAME and AVTODOR_PASSWORD environment variables.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Portal: PortalConfig{
			BaseURL:  v.GetString("portal.base_url"),
			LoginURL: v.GetString("portal.login_url"),
			Username: v.GetString("portal.username"),
			Password: v.GetString("portal.password"),
			Timezone: v.GetString("portal.timezone"),
		},
		Browser: BrowserConfig{
			ExecPath:  ExpandPath(v.GetString("browser.exec_path")),
			UserAgent: v.GetString("browser.user_agent"),
			Width:     v.GetInt("browser.width"),
			Height:    v.GetInt("browser.height"),
			Headless:  v.GetBool("browser.headless"),
		},
		Sync: SyncConfig{
			Schedule:          v.GetString("sync.schedule"),
			BatchSize:         v.GetInt("sync.batch_size"),
			LookbackDays:      v.GetInt("sync.lookback_days"),
			MaxStable:         v.GetInt("sync.max_stable"),
			StabilizeTimeout:  v.GetDuration("sync.stabilize_timeout"),
			RowTimeout:        v.GetDuration("sync.row_timeout"),
			LoginAttempts:     v.GetInt("sync.login_attempts"),
			ClassifyAfterSync: v.GetBool("sync.classify_after_sync"),
		},
		Violations: ViolationsConfig{
			MarkerPattern: v.GetString("violations.marker_pattern"),
			Forbidden:     v.GetStringSlice("violations.forbidden"),
		},
		Server: ServerConfig{
			Address:  v.GetString("server.address"),
			Mode:     v.GetString("server.mode"),
			CertDir:  ExpandPath(v.GetString("server.cert_dir")),
			TLSHosts: v.GetStringSlice("server.tls_hosts"),
			TLS:      v.GetBool("server.tls"),
		},
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
	}

	if cfg.Portal.Username == "" {
		cfg.Portal.Username = os.Getenv("AVTODOR_USERNAME")
	}
	if cfg.Portal.Password == "" {
		cfg.Portal.Password = os.Getenv("AVTODOR_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("%w: portal.base_url is empty", common.ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.Portal.Timezone); err != nil {
		return fmt.Errorf("%w: portal.timezone %q: %w", common.ErrInvalidConfig, c.Portal.Timezone, err)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("%w: sync.batch_size must be positive", common.ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", common.ErrInvalidConfig)
	}
	return nil
}

// Location returns the portal time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Portal.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// HasCredentials reports whether both portal credentials are set.
func (c *Config) HasCredentials() bool {
	return c.Portal.Username != "" && c.Portal.Password != ""
}

// EnsureDatabaseDir creates the directory holding the database file.
func (c *Config) EnsureDatabaseDir() error {
	if c.Database.Path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.Database.Path), 0o750)
}
