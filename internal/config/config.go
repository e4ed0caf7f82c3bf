package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBackendURL  = "https://backend-connectify.up.railway.app/api"
	DefaultRealtimeURL = "ws://localhost:8080/ws"
)

// Duration is a time.Duration written as a string ("2m", "15s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.smsinbox/config.toml.
type Config struct {
	DefaultProfile    string   `toml:"default_profile"`
	BackendURL        string   `toml:"backend_url"`
	RealtimeURL       string   `toml:"realtime_url"`
	PollInterval      Duration `toml:"poll_interval"`
	RequestTimeout    Duration `toml:"request_timeout"`
	UnreadConcurrency int      `toml:"unread_concurrency"`
	SendRate          float64  `toml:"send_rate"`
	SendBurst         int      `toml:"send_burst"`
	MetricsAddr       string   `toml:"metrics_addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}
	if c.RealtimeURL == "" {
		c.RealtimeURL = DefaultRealtimeURL
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = 2 * time.Minute
	}
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout.Duration = 15 * time.Second
	}
	if c.UnreadConcurrency <= 0 {
		c.UnreadConcurrency = 8
	}
	if c.SendRate <= 0 {
		c.SendRate = 2
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 4
	}
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault is Load, with defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
