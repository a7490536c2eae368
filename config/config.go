package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// Config is the application configuration. Values come from the JSON file
// first and REFLOW_* environment variables override them.
type Config struct {
	LogLines  int    `json:"log_lines" env:"REFLOW_LOG_LINES"`
	LogsDir   string `json:"logs_dir" env:"REFLOW_LOGS_DIR"`
	RecentDir string `json:"recent_dir" env:"REFLOW_RECENT_DIR"`
	AuditDB   string `json:"audit_db" env:"REFLOW_AUDIT_DB"`

	ClientIface string `json:"client_iface" env:"REFLOW_CLIENT_IFACE"`
	ServerIface string `json:"server_iface" env:"REFLOW_SERVER_IFACE"`
	SnapLen     int    `json:"snap_len" env:"REFLOW_SNAP_LEN"`

	// Used when a session file leaves them unset.
	DelayMs         int `json:"delay_ms" env:"REFLOW_DELAY_MS"`
	VerifyTimeoutMs int `json:"verify_timeout_ms" env:"REFLOW_VERIFY_TIMEOUT_MS"`
}

var (
	defaultConfig *Config
	defaultErr    error
	once          sync.Once
)

func Default() *Config {
	return &Config{
		LogLines:        1000,
		LogsDir:         "logs",
		RecentDir:       "recent",
		AuditDB:         "reflow.db",
		SnapLen:         65535,
		DelayMs:         0,
		VerifyTimeoutMs: 1000,
	}
}

// SearchPaths lists the files Load tries when no path is given.
func SearchPaths() []string {
	return []string{
		"reflow.json",
		".reflow.json",
		filepath.Join(os.Getenv("HOME"), ".config", "reflow", "config.json"),
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, err
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.LogLines <= 0 {
		c.LogLines = d.LogLines
	}
	if c.LogsDir == "" {
		c.LogsDir = d.LogsDir
	}
	if c.RecentDir == "" {
		c.RecentDir = d.RecentDir
	}
	if c.SnapLen <= 0 {
		c.SnapLen = d.SnapLen
	}
	if c.DelayMs < 0 {
		c.DelayMs = 0
	}
	if c.VerifyTimeoutMs <= 0 {
		c.VerifyTimeoutMs = d.VerifyTimeoutMs
	}
}

// LoadDefault loads the config once and caches it
func LoadDefault() (*Config, error) {
	once.Do(func() {
		defaultConfig, defaultErr = Load("")
	})
	if defaultErr != nil {
		return Default(), defaultErr
	}
	return defaultConfig, nil
}
