package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wbauth/internal/automation"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address" validate:"required"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path" validate:"required"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours" validate:"min=0"`
		Path          string `yaml:"path" validate:"required_if=Enabled true"`
		RetentionDays int    `yaml:"retention_days" validate:"min=0"`
	} `yaml:"backup"`

	Redis struct {
		Enabled         bool   `yaml:"enabled"`
		Address         string `yaml:"address" validate:"omitempty,hostname_port"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db" validate:"min=0"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds" validate:"min=0"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port" validate:"min=0,max=65535"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port" validate:"min=0,max=65535"`
	} `yaml:"monitoring"`

	Browser struct {
		Headless              bool                 `yaml:"headless"`
		ChromeBin             string               `yaml:"chrome_bin"`
		ProfilesDir           string               `yaml:"profiles_dir" validate:"required"`
		AuthURL               string               `yaml:"auth_url" validate:"required,url"`
		ElementTimeoutSeconds int                  `yaml:"element_timeout_seconds" validate:"min=0"`
		SettleDelayMillis     int                  `yaml:"settle_delay_ms" validate:"min=0"`
		KeyDelayMillis        int                  `yaml:"key_delay_ms" validate:"min=0"`
		DialogWaitMillis      int                  `yaml:"dialog_wait_ms" validate:"min=0"`
		Selectors             automation.Selectors `yaml:"selectors"`
	} `yaml:"browser"`

	Portal struct {
		SupplyBaseURL string `yaml:"supply_base_url" validate:"required,url"`
	} `yaml:"portal"`

	Session struct {
		TTLMinutes                 int `yaml:"ttl_minutes" validate:"min=0"`
		SweepIntervalSeconds       int `yaml:"sweep_interval_seconds" validate:"min=0"`
		CookiePurgeIntervalMinutes int `yaml:"cookie_purge_interval_minutes" validate:"min=0"`
	} `yaml:"session"`

	Limits struct {
		CodeRequestsPerMinute float64 `yaml:"code_requests_per_minute" validate:"min=0"`
		Burst                 int     `yaml:"burst" validate:"min=0"`
	} `yaml:"limits"`

	Signals struct {
		Path                  string `yaml:"path"`
		ReloadIntervalSeconds int    `yaml:"reload_interval_seconds" validate:"min=0"`
	} `yaml:"signals"`

	Audit struct {
		RetentionDays int `yaml:"retention_days" validate:"min=0"`
	} `yaml:"audit"`

	Logging struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// Load reads the YAML config, expanding ${ENV} placeholders. A .env file next
// to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/wbauth.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Browser.ProfilesDir == "" {
		c.Browser.ProfilesDir = "data/profiles"
	}
	if c.Browser.AuthURL == "" {
		c.Browser.AuthURL = "https://seller-auth.wildberries.ru/ru/"
	}
	if c.Portal.SupplyBaseURL == "" {
		c.Portal.SupplyBaseURL = "https://seller.wildberries.ru/supplies-management/all-supplies/supply-detail"
	}
	if c.Limits.CodeRequestsPerMinute == 0 {
		c.Limits.CodeRequestsPerMinute = 1
	}
	if c.Limits.Burst == 0 {
		c.Limits.Burst = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address is required when redis is enabled")
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		return errors.New("monitoring.prometheus_port is required when prometheus is enabled")
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == c.Monitoring.HealthCheckPort {
		return errors.New("monitoring.prometheus_port must differ from health_check_port")
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Namespace()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", e.Namespace()))
		case "hostname_port":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid host:port", e.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", e.Namespace(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", e.Namespace(), e.Tag(), e.Param()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	if c.Session.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Session.SweepIntervalSeconds) * time.Second
}

// CookiePurgeInterval is zero when purging is disabled.
func (c *Config) CookiePurgeInterval() time.Duration {
	return time.Duration(c.Session.CookiePurgeIntervalMinutes) * time.Minute
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) SignalsReloadInterval() time.Duration {
	if c.Signals.ReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Signals.ReloadIntervalSeconds) * time.Second
}

func (c *Config) AuditRetention() time.Duration {
	if c.Audit.RetentionDays <= 0 {
		return 31 * 24 * time.Hour
	}
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

// RodConfig maps browser settings to the driver config.
func (c *Config) RodConfig() automation.RodConfig {
	return automation.RodConfig{
		AuthURL:        c.Browser.AuthURL,
		ChromeBin:      c.Browser.ChromeBin,
		Headless:       c.Browser.Headless,
		ElementTimeout: time.Duration(c.Browser.ElementTimeoutSeconds) * time.Second,
		SettleDelay:    time.Duration(c.Browser.SettleDelayMillis) * time.Millisecond,
		KeyDelay:       time.Duration(c.Browser.KeyDelayMillis) * time.Millisecond,
		DialogWait:     time.Duration(c.Browser.DialogWaitMillis) * time.Millisecond,
		Selectors:      c.Browser.Selectors,
	}
}
