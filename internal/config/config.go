package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studiobook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Google     GoogleConfig     `yaml:"google"`
	Mail       MailConfig       `yaml:"mail"`
	Auth       AuthConfig       `yaml:"auth"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Backup     BackupConfig     `yaml:"backup"`
	Repair     RepairConfig     `yaml:"repair"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type HTTPConfig struct {
	Address               string `yaml:"address"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address         string `yaml:"address"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	PoolSize        int    `yaml:"pool_size"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type GoogleConfig struct {
	CredentialsFile       string `yaml:"credentials_file"`
	CalendarID            string `yaml:"calendar_id"`
	TimeZone              string `yaml:"time_zone"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

type MailConfig struct {
	SMTPHost      string   `yaml:"smtp_host"`
	SMTPPort      int      `yaml:"smtp_port"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	From          string   `yaml:"from"`
	FrontendURL   string   `yaml:"frontend_url"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	Burst         int      `yaml:"burst"`
	Workers       int      `yaml:"workers"`
	QueueSize     int      `yaml:"queue_size"`
	RetryDelays   []string `yaml:"retry_delays"`
}

// AuthConfig holds token settings and the operator identity. OperatorPassword
// seeds the operator account on startup when it does not exist yet.
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenTTLHours    int    `yaml:"token_ttl_hours"`
	OperatorEmail    string `yaml:"operator_email"`
	OperatorPassword string `yaml:"operator_password"`
}

type PricingConfig struct {
	HourlyRate      int64  `yaml:"hourly_rate"`
	CDJItemID       int64  `yaml:"cdj_item_id"`
	CDJExtraPerHour int64  `yaml:"cdj_extra_per_hour"`
	EquipmentPath   string `yaml:"equipment_path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type RepairConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	GRPCHealthPort    int  `yaml:"grpc_health_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Load reads the YAML config at path. A .env file next to the process is
// loaded first when present so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

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
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":3001"
	}
	if c.HTTP.RequestTimeoutSeconds <= 0 {
		c.HTTP.RequestTimeoutSeconds = 30
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/studiobook.db"
	}
	if c.Redis.CacheTTLSeconds <= 0 {
		c.Redis.CacheTTLSeconds = 30
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.TimeZone == "" {
		c.Google.TimeZone = "Asia/Jakarta"
	}
	if c.Google.RequestTimeoutSeconds <= 0 {
		c.Google.RequestTimeoutSeconds = 5
	}
	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = 587
	}
	if c.Mail.RatePerSecond <= 0 {
		c.Mail.RatePerSecond = 2
	}
	if c.Mail.Burst <= 0 {
		c.Mail.Burst = 5
	}
	if c.Mail.Workers <= 0 {
		c.Mail.Workers = 4
	}
	if c.Mail.QueueSize <= 0 {
		c.Mail.QueueSize = 256
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
	c.Auth.OperatorEmail = strings.ToLower(strings.TrimSpace(c.Auth.OperatorEmail))
	if c.Pricing.HourlyRate <= 0 {
		c.Pricing.HourlyRate = 200000
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Repair.IntervalMinutes <= 0 {
		c.Repair.IntervalMinutes = 15
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.OperatorEmail == "" {
		return errors.New("auth.operator_email is required")
	}
	if _, err := time.LoadLocation(c.Google.TimeZone); err != nil {
		return fmt.Errorf("google.time_zone: %w", err)
	}
	if _, err := c.Mail.Retries(); err != nil {
		return err
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.RequestTimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) CalendarTimeout() time.Duration {
	return time.Duration(c.Google.RequestTimeoutSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) RepairInterval() time.Duration {
	return time.Duration(c.Repair.IntervalMinutes) * time.Minute
}

// Location returns the studio time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Google.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Retries parses the configured retry delays.
func (m MailConfig) Retries() ([]time.Duration, error) {
	delays := make([]time.Duration, 0, len(m.RetryDelays))
	for _, s := range m.RetryDelays {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("mail.retry_delays: %w", err)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// LoadEquipment reads the equipment catalog. An empty path yields no catalog.
func LoadEquipment(path string) ([]models.CatalogItem, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Equipment []models.CatalogItem `yaml:"equipment"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Equipment, nil
}

// PriceList builds the pricing function from config and catalog.
func (c *Config) PriceList(items []models.CatalogItem) models.PriceList {
	return models.NewPriceList(c.Pricing.HourlyRate, c.Pricing.CDJItemID, c.Pricing.CDJExtraPerHour, items)
}
