package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Database   DatabaseConfig   `yaml:"database"`
	Device     DeviceConfig     `yaml:"device"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// SchedulerConfig holds the reconciliation scheduler configuration.
type SchedulerConfig struct {
	Enabled               bool          `yaml:"enabled"`
	IntervalSeconds       int           `yaml:"interval_seconds"`
	Interval              time.Duration `yaml:"-"` // Ignored by YAML parser
	GraceBeforeMinutes    int           `yaml:"grace_before_minutes"`
	GraceAfterMinutes     int           `yaml:"grace_after_minutes"`
	RequestTimeoutMinutes int           `yaml:"request_timeout_minutes"`
	ApprovalWindowMinutes int           `yaml:"approval_window_minutes"`
	DefaultTimezone       string        `yaml:"default_timezone"`
}

// DeviceConfig holds the device websocket transport configuration.
type DeviceConfig struct {
	PingIntervalSeconds int `yaml:"ping_interval_seconds"`
	PongTimeoutSeconds  int `yaml:"pong_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 30
	}
	cfg.Scheduler.Interval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second

	if cfg.Scheduler.GraceBeforeMinutes <= 0 {
		cfg.Scheduler.GraceBeforeMinutes = 60
	}
	if cfg.Scheduler.GraceAfterMinutes <= 0 {
		cfg.Scheduler.GraceAfterMinutes = 60
	}
	if cfg.Scheduler.RequestTimeoutMinutes <= 0 {
		cfg.Scheduler.RequestTimeoutMinutes = 5
	}
	if cfg.Scheduler.ApprovalWindowMinutes <= 0 {
		cfg.Scheduler.ApprovalWindowMinutes = 60
	}
	if cfg.Scheduler.DefaultTimezone == "" {
		cfg.Scheduler.DefaultTimezone = "UTC"
	}

	if cfg.Device.PingIntervalSeconds <= 0 {
		cfg.Device.PingIntervalSeconds = 120
	}
	if cfg.Device.PongTimeoutSeconds <= 0 {
		cfg.Device.PongTimeoutSeconds = 30
	}
	if cfg.Device.WriteTimeoutSeconds <= 0 {
		cfg.Device.WriteTimeoutSeconds = 10
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 10
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
