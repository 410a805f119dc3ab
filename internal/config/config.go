package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/matheus3301/grouptrack/internal/tenant"
)

// Config is the daemon configuration loaded from config.toml.
type Config struct {
	DataDir string `toml:"data_dir"`

	HTTP      HTTP      `toml:"http"`
	Storage   Storage   `toml:"storage"`
	Scheduler Scheduler `toml:"scheduler"`
	Capture   Capture   `toml:"capture"`
	Ingest    Ingest    `toml:"ingest"`
	Session   Session   `toml:"session"`
}

// HTTP configures the dashboard-facing API listener.
type HTTP struct {
	Addr string `toml:"addr"`
}

// Storage configures the daemon-owned analytics database.
type Storage struct {
	Path string `toml:"path"`
}

// Scheduler holds the cron cadences and the report destination.
// ReportJID empty means reports are computed and persisted but not sent.
type Scheduler struct {
	CaptureCron string `toml:"capture_cron"`
	ReportCron  string `toml:"report_cron"`
	ReportJID   string `toml:"report_jid"`
}

// Capture configures live member-count polling.
type Capture struct {
	DelayMS       int `toml:"delay_ms"`
	RetryAttempts int `toml:"retry_attempts"`
}

// Ingest configures the message batcher.
type Ingest struct {
	BatchSize       int `toml:"batch_size"`
	FlushIntervalMS int `toml:"flush_interval_ms"`
}

// Session configures per-tenant session behavior.
type Session struct {
	AutoSyncMinutes int `toml:"auto_sync_minutes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: tenant.BaseDir(),
		HTTP:    HTTP{Addr: "127.0.0.1:8420"},
		Scheduler: Scheduler{
			CaptureCron: "0 */6 * * *",
			ReportCron:  "0 9 * * *",
		},
		Capture: Capture{DelayMS: 1500, RetryAttempts: 3},
		Ingest:  Ingest{BatchSize: 10, FlushIntervalMS: 5000},
		Session: Session{AutoSyncMinutes: 30},
	}
}

// Load reads config from path, applying defaults for unset fields and
// validating the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cron expressions and numeric bounds. Invalid cron
// expressions are a fatal startup error per the scheduler contract.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.Scheduler.CaptureCron); err != nil {
		return fmt.Errorf("invalid capture_cron %q: %w", c.Scheduler.CaptureCron, err)
	}
	if _, err := parser.Parse(c.Scheduler.ReportCron); err != nil {
		return fmt.Errorf("invalid report_cron %q: %w", c.Scheduler.ReportCron, err)
	}
	if c.Capture.DelayMS < 0 {
		return fmt.Errorf("capture delay_ms must not be negative")
	}
	if c.Capture.RetryAttempts < 1 {
		return fmt.Errorf("capture retry_attempts must be at least 1")
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest batch_size must be at least 1")
	}
	if c.Ingest.FlushIntervalMS < 1 {
		return fmt.Errorf("ingest flush_interval_ms must be at least 1")
	}
	if c.Session.AutoSyncMinutes < 1 {
		return fmt.Errorf("session auto_sync_minutes must be at least 1")
	}
	return nil
}

// DBPath returns the analytics database path, defaulting under DataDir.
func (c *Config) DBPath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return tenant.AppDBPath(c.DataDir)
}

// CaptureDelay returns the inter-call pacing delay for member-count fetches.
func (c *Config) CaptureDelay() time.Duration {
	return time.Duration(c.Capture.DelayMS) * time.Millisecond
}

// FlushInterval returns the ingestion batcher flush interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Ingest.FlushIntervalMS) * time.Millisecond
}

// AutoSyncInterval returns the recurring roster sync interval.
func (c *Config) AutoSyncInterval() time.Duration {
	return time.Duration(c.Session.AutoSyncMinutes) * time.Minute
}
