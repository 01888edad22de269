package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"ledgersync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
	Backup     BackupConfig     `yaml:"backup"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Duration is a time.Duration that decodes YAML values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LedgerConfig describes the external accounting provider connection.
type LedgerConfig struct {
	BaseURL      string   `yaml:"base_url"`
	TokenURL     string   `yaml:"token_url"`
	AuthURL      string   `yaml:"auth_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TenantID     string   `yaml:"tenant_id"`
	TenantHeader string   `yaml:"tenant_header"`
	HTTPTimeout  Duration `yaml:"http_timeout"`
}

// SyncConfig tunes the queue, worker pool, retry policy and outbound rate
// limit.
type SyncConfig struct {
	Workers        int      `yaml:"workers"`
	MaxAttempts    int      `yaml:"max_attempts"`
	BackoffInitial Duration `yaml:"backoff_initial"`
	BackoffMax     Duration `yaml:"backoff_max"`
	BackoffFactor  float64  `yaml:"backoff_factor"`
	PollInterval   Duration `yaml:"poll_interval"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
	TokenMargin    Duration `yaml:"token_margin"`

	Retention RetentionConfig `yaml:"retention"`
}

type RetentionConfig struct {
	Completed     Duration `yaml:"completed"`
	Failed        Duration `yaml:"failed"`
	PruneInterval Duration `yaml:"prune_interval"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

// Load reads the YAML config at configPath, expanding ${ENV} references
// after loading .env when present.
func Load(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Ledger.BaseURL == "" {
		return errors.New("ledger base_url is required")
	}
	if c.Ledger.TokenURL == "" {
		return errors.New("ledger token_url is required")
	}
	if c.Ledger.ClientID == "" || c.Ledger.ClientCredentialsMissing() {
		return errors.New("ledger client_id and client_secret are required")
	}
	if c.Ledger.TenantID == "" {
		return errors.New("ledger tenant_id is required")
	}

	if c.Sync.BackoffInitial > c.Sync.BackoffMax {
		return fmt.Errorf("backoff_initial %s exceeds backoff_max %s", c.Sync.BackoffInitial, c.Sync.BackoffMax)
	}

	return nil
}

// ClientCredentialsMissing reports whether the OAuth client secret is unset
// or still a placeholder.
func (l LedgerConfig) ClientCredentialsMissing() bool {
	return l.ClientSecret == "" || l.ClientSecret == "YOUR_CLIENT_SECRET_HERE"
}

func (c *Config) applyDefaults() {
	if c.Sync.Workers == 0 {
		c.Sync.Workers = models.DefaultWorkerCount
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Sync.BackoffInitial == 0 {
		c.Sync.BackoffInitial = Duration(2 * time.Second)
	}
	if c.Sync.BackoffMax == 0 {
		c.Sync.BackoffMax = Duration(time.Minute)
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = Duration(2 * time.Second)
	}
	if c.Sync.RateLimitRPS == 0 {
		c.Sync.RateLimitRPS = models.DefaultRateLimitRPS
	}
	if c.Sync.RateLimitBurst == 0 {
		c.Sync.RateLimitBurst = models.DefaultRateLimitBurst
	}
	if c.Sync.AcquireTimeout == 0 {
		c.Sync.AcquireTimeout = Duration(30 * time.Second)
	}
	if c.Sync.TokenMargin == 0 {
		c.Sync.TokenMargin = Duration(models.DefaultTokenMargin * time.Second)
	}
	if c.Sync.Retention.Completed == 0 {
		c.Sync.Retention.Completed = Duration(models.DefaultCompletedRetention * time.Hour)
	}
	if c.Sync.Retention.Failed == 0 {
		c.Sync.Retention.Failed = Duration(models.DefaultFailedRetention * time.Hour)
	}
	if c.Sync.Retention.PruneInterval == 0 {
		c.Sync.Retention.PruneInterval = Duration(time.Hour)
	}

	if c.Ledger.TenantHeader == "" {
		c.Ledger.TenantHeader = "X-Tenant-Id"
	}
	if c.Ledger.HTTPTimeout == 0 {
		c.Ledger.HTTPTimeout = Duration(30 * time.Second)
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	// auth enabled by default when API is enabled
	if c.API.Enabled && !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
