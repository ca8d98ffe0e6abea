package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"respirakids/internal/model"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server struct {
		Address               string  `yaml:"address"`
		SessionTimeoutMinutes int     `yaml:"session_timeout_minutes"`
		RateLimitRPS          float64 `yaml:"rate_limit_rps"`
		RateLimitBurst        int     `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Cache struct {
		ScheduleTTLSeconds int `yaml:"schedule_ttl_seconds"`
	} `yaml:"cache"`

	Identity struct {
		CodeTTLSeconds        int    `yaml:"code_ttl_seconds"`
		MaxAttempts           int    `yaml:"max_attempts"`
		ResendIntervalSeconds int    `yaml:"resend_interval_seconds"`
		ResendBurst           int    `yaml:"resend_burst"`
		DefaultCountryCode    string `yaml:"default_country_code"`
	} `yaml:"identity"`

	WhatsApp struct {
		BaseURL         string `yaml:"base_url"`
		Instance        string `yaml:"instance"`
		APIKey          string `yaml:"api_key"`
		MessageTemplate string `yaml:"message_template"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
	} `yaml:"whatsapp"`

	Booking struct {
		ScheduledStatusKey      string `yaml:"scheduled_status_key"`
		PendingPaymentStatusKey string `yaml:"pending_payment_status_key"`
		SlotHorizonDays         int    `yaml:"slot_horizon_days"`
	} `yaml:"booking"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	SchedulesConfigPath   string `yaml:"schedules_config_path"`
	SchedulesWatchSeconds int    `yaml:"schedules_watch_seconds"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}

	switch cfg.Database.Driver {
	case DriverSQLite:
		if cfg.Database.Path == "" {
			cfg.Database.Path = "data/respirakids.db"
		}
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	case DriverPostgres:
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for driver %q", DriverPostgres)
		}
	default:
		return nil, fmt.Errorf("unknown database.driver %q", cfg.Database.Driver)
	}

	if cfg.SchedulesConfigPath == "" {
		cfg.SchedulesConfigPath = "configs/schedules.yaml"
	}

	return &cfg, nil
}

// LoadSchedules reads the schedule seed file referenced by the config.
func (c *Config) LoadSchedules() (*SchedulesConfig, error) {
	return LoadSchedulesConfig(c.SchedulesConfigPath)
}

func (c *Config) ServerAddress() string {
	if c.Server.Address == "" {
		return ":8080"
	}
	return c.Server.Address
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Server.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Server.SessionTimeoutMinutes) * time.Minute
}

// RateLimit returns requests per second and burst for the per-IP API limiter.
func (c *Config) RateLimit() (float64, int) {
	rps, burst := c.Server.RateLimitRPS, c.Server.RateLimitBurst
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 10
	}
	return rps, burst
}

func (c *Config) ScheduleCacheTTL() time.Duration {
	if c.Cache.ScheduleTTLSeconds < 0 {
		return 0
	}
	if c.Cache.ScheduleTTLSeconds == 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Cache.ScheduleTTLSeconds) * time.Second
}

func (c *Config) CodeTTL() time.Duration {
	if c.Identity.CodeTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Identity.CodeTTLSeconds) * time.Second
}

func (c *Config) MaxCodeAttempts() int {
	if c.Identity.MaxAttempts <= 0 {
		return 3
	}
	return c.Identity.MaxAttempts
}

// ResendPolicy returns the minimum interval between code sends and the allowed burst.
func (c *Config) ResendPolicy() (time.Duration, int) {
	interval := time.Duration(c.Identity.ResendIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	burst := c.Identity.ResendBurst
	if burst <= 0 {
		burst = 2
	}
	return interval, burst
}

func (c *Config) CountryCode() string {
	if c.Identity.DefaultCountryCode == "" {
		return "55"
	}
	return c.Identity.DefaultCountryCode
}

func (c *Config) WhatsAppTimeout() time.Duration {
	if c.WhatsApp.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.WhatsApp.TimeoutSeconds) * time.Second
}

// StatusKeys returns the appointment and payment status keys assigned to new appointments.
func (c *Config) StatusKeys() (scheduled, pendingPayment string) {
	scheduled, pendingPayment = c.Booking.ScheduledStatusKey, c.Booking.PendingPaymentStatusKey
	if scheduled == "" {
		scheduled = model.AppointmentStatusScheduled
	}
	if pendingPayment == "" {
		pendingPayment = model.PaymentStatusPending
	}
	return scheduled, pendingPayment
}

func (c *Config) SlotHorizonDays() int {
	if c.Booking.SlotHorizonDays <= 0 {
		return 30
	}
	return c.Booking.SlotHorizonDays
}

// BackupPolicy returns the backup interval and how long backups are kept.
func (c *Config) BackupPolicy() (interval, retention time.Duration) {
	interval = time.Duration(c.Backup.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention = time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return interval, retention
}

func (c *Config) SchedulesWatchInterval() time.Duration {
	if c.SchedulesWatchSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SchedulesWatchSeconds) * time.Second
}
