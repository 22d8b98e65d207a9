// CLAUDE:SUMMARY quickcart configuration: YAML file, optional .env, QUICKCART_* overrides, then defaults.
// Package config loads quickcart configuration. Sources apply in order:
// YAML file, .env (via godotenv, never overriding the real environment),
// QUICKCART_* environment variables, then defaults for anything unset.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"` // debug | info | warn | error
	Storage    StorageConfig    `yaml:"storage"`
	Browser    BrowserConfig    `yaml:"browser"`
	Server     ServerConfig     `yaml:"server"`
	Background BackgroundConfig `yaml:"background"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// StorageConfig selects the preference backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // sqlite | memory
	Path    string `yaml:"path"`
	// WatchInterval polls the database for writes by other processes.
	// 0 disables reloading.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Bin               string        `yaml:"bin"`
	Mode              string        `yaml:"mode"` // headless | headful
	UserDataDir       string        `yaml:"user_data_dir"`
	IgnoreCertErrors  bool          `yaml:"ignore_cert_errors"`
	Block             []string      `yaml:"block"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	XvfbDisplay       string        `yaml:"xvfb_display"`
}

// ServerConfig controls `quickcart serve`.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"` // bcrypt; empty disables auth
	MaxBody      int64  `yaml:"max_body"`
}

// BackgroundConfig points the background context at a remote quickcart
// server instead of the local store.
type BackgroundConfig struct {
	Remote   string        `yaml:"remote"` // e.g. http://127.0.0.1:8421/api/message
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotifyConfig enables result sinks. Stdout and webhook are off by
// default; history is kept whenever storage is sqlite.
type NotifyConfig struct {
	Stdout       bool   `yaml:"stdout"`
	Webhook      string `yaml:"webhook"`
	AllowPrivate bool   `yaml:"allow_private"`
	Retries      int    `yaml:"retries"`
	NoHistory    bool   `yaml:"no_history"`
}

// Load reads path (optional), .env and the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("QUICKCART_LOG_LEVEL", &c.LogLevel)
	str("QUICKCART_STORAGE_BACKEND", &c.Storage.Backend)
	str("QUICKCART_STORAGE_PATH", &c.Storage.Path)
	str("QUICKCART_BROWSER_REMOTE", &c.Browser.Remote)
	str("QUICKCART_BROWSER_BIN", &c.Browser.Bin)
	str("QUICKCART_BROWSER_MODE", &c.Browser.Mode)
	str("QUICKCART_USER_DATA_DIR", &c.Browser.UserDataDir)
	str("QUICKCART_SERVER_ADDR", &c.Server.Addr)
	str("QUICKCART_SERVER_USER", &c.Server.User)
	str("QUICKCART_SERVER_PASSWORD_HASH", &c.Server.PasswordHash)
	str("QUICKCART_BACKGROUND_REMOTE", &c.Background.Remote)
	str("QUICKCART_BACKGROUND_USER", &c.Background.User)
	str("QUICKCART_BACKGROUND_PASSWORD", &c.Background.Password)
	str("QUICKCART_WEBHOOK", &c.Notify.Webhook)

	if v, ok := lookup("QUICKCART_BROWSER_BLOCK"); ok && v != "" {
		c.Browser.Block = strings.Split(v, ",")
	}
	if v, ok := lookup("QUICKCART_NOTIFY_STDOUT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: QUICKCART_NOTIFY_STDOUT: %w", err)
		}
		c.Notify.Stdout = b
	}
	if v, ok := lookup("QUICKCART_STORAGE_WATCH_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: QUICKCART_STORAGE_WATCH_INTERVAL: %w", err)
		}
		c.Storage.WatchInterval = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(baseDir(), "quickcart.db")
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.UserDataDir == "" && c.Browser.Remote == "" {
		c.Browser.UserDataDir = filepath.Join(baseDir(), "chrome-profile")
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8421"
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 64 << 10
	}
	if c.Background.Timeout <= 0 {
		c.Background.Timeout = 10 * time.Second
	}
	if c.Notify.Retries <= 0 {
		c.Notify.Retries = 3
	}
}

// baseDir is the per-user quickcart directory.
func baseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "quickcart")
}
