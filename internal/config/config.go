// Package config loads service configuration from defaults, an optional YAML
// file and NEWSLETTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: NEWSLETTER_DATABASE__URL sets database.url.
const EnvPrefix = "NEWSLETTER_"

// Notification providers.
const (
	ProviderSMTP = "smtp"
	ProviderSES  = "ses"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Admin         AdminConfig         `koanf:"admin"`
	Newsletter    NewsletterConfig    `koanf:"newsletter"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Tracking      TrackingConfig      `koanf:"tracking"`
	RateLimit     RateLimitConfig     `koanf:"rate_limit"`
}

// ServerConfig configures the public and metrics HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig configures the Postgres pool and the writer lock.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	LockTimeout     time.Duration `koanf:"lock_timeout"`
	MigrationsPath  string        `koanf:"migrations_path"`
	ApplicationName string        `koanf:"application_name"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig lists origins allowed to call the public endpoints.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AdminConfig holds the shared admin secret.
type AdminConfig struct {
	Token string `koanf:"token"`
}

// NewsletterConfig holds product-level settings.
type NewsletterConfig struct {
	ProductName     string             `koanf:"product_name"`
	DefaultSource   string             `koanf:"default_source"`
	DefaultCampaign string             `koanf:"default_campaign"`
	LaunchDate      string             `koanf:"launch_date"`
	SiteURL         string             `koanf:"site_url"`
	UnsubscribeURL  string             `koanf:"unsubscribe_url"`
	Campaign        CampaignSeedConfig `koanf:"campaign"`

	// Launch is LaunchDate parsed by Validate.
	Launch time.Time `koanf:"-"`
}

// CampaignSeedConfig is the campaign inserted at startup when missing.
type CampaignSeedConfig struct {
	ID          string `koanf:"id"`
	Name        string `koanf:"name"`
	Description string `koanf:"description"`
	StartDate   string `koanf:"start_date"`
}

// NotificationsConfig configures welcome email delivery.
type NotificationsConfig struct {
	Enabled  bool         `koanf:"enabled"`
	Provider string       `koanf:"provider"`
	Email    EmailConfig  `koanf:"email"`
	SES      SESConfig    `koanf:"ses"`
	Worker   WorkerConfig `koanf:"worker"`
	Retry    RetryConfig  `koanf:"retry"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
	FromName     string `koanf:"from_name"`
}

// SESConfig configures the Amazon SES sender.
type SESConfig struct {
	Region           string `koanf:"region"`
	FromAddress      string `koanf:"from_address"`
	FromName         string `koanf:"from_name"`
	ConfigurationSet string `koanf:"configuration_set"`
}

// WorkerConfig configures the in-process email queue.
type WorkerConfig struct {
	NumWorkers  int           `koanf:"num_workers"`
	QueueSize   int           `koanf:"queue_size"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// RetryConfig configures send retries. MaxAttempts 1 disables retries.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// TrackingConfig configures the /track event log.
type TrackingConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// RateLimitConfig configures per-IP limits on public POST endpoints.
type RateLimitConfig struct {
	Enabled           bool          `koanf:"enabled"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	TTL               time.Duration `koanf:"ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8044",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			LockTimeout:     30 * time.Second,
			ApplicationName: "newsletter",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"https://musequill.ink",
				"https://www.musequill.ink",
				"http://localhost:3000",
				"http://localhost:8000",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:8000",
			},
		},
		Newsletter: NewsletterConfig{
			ProductName:     "MuseQuill.ink",
			DefaultSource:   "landing_page",
			DefaultCampaign: "early_access_2025",
			LaunchDate:      "2025-09-01T00:00:00Z",
			SiteURL:         "https://musequill.ink",
			Campaign: CampaignSeedConfig{
				ID:          "early_access_2025",
				Name:        "Early Access 2025",
				Description: "Pre-launch early access campaign for MuseQuill.ink",
				StartDate:   "2024-12-01T00:00:00Z",
			},
		},
		Notifications: NotificationsConfig{
			Enabled:  true,
			Provider: ProviderSMTP,
			Email: EmailConfig{
				SMTPHost:    "smtp.gmail.com",
				SMTPPort:    587,
				FromAddress: "noreply@musequill.ink",
				FromName:    "MuseQuill.ink Team",
			},
			Worker: WorkerConfig{
				NumWorkers:  2,
				QueueSize:   1000,
				SendTimeout: 30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       1,
				InitialBackoff:    time.Second,
				MaxBackoff:        time.Minute,
				BackoffMultiplier: 2,
			},
		},
		Tracking: TrackingConfig{
			Path:       "analytics.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             10,
			TTL:               10 * time.Minute,
		},
	}
}

// Load reads configuration. path may be empty, in which case CONFIG_PATH is
// consulted; a missing file is only an error when a path was given.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envValue maps NEWSLETTER_SERVER__METRICS_PORT to server.metrics_port.
// List settings are comma separated.
func envValue(key, value string) (string, interface{}) {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ReplaceAll(strings.ToLower(key), "__", ".")

	if _, ok := listKeys[key]; ok {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return key, out
	}
	return key, value
}

var listKeys = map[string]struct{}{
	"cors.allowed_origins": {},
}

// Validate checks required settings and parses derived values.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Admin.Token == "" {
		errs = append(errs, errors.New("admin.token is required"))
	}

	launch, err := time.Parse(time.RFC3339, c.Newsletter.LaunchDate)
	if err != nil {
		errs = append(errs, fmt.Errorf("newsletter.launch_date: %w", err))
	} else {
		c.Newsletter.Launch = launch.UTC()
	}

	if c.Newsletter.Campaign.StartDate != "" {
		if _, err := time.Parse(time.RFC3339, c.Newsletter.Campaign.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("newsletter.campaign.start_date: %w", err))
		}
	}

	switch c.Notifications.Provider {
	case ProviderSMTP:
	case ProviderSES:
		if c.Notifications.Enabled && c.Notifications.SES.Region == "" {
			errs = append(errs, errors.New("notifications.ses.region is required for the ses provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifications.provider: unknown provider %q", c.Notifications.Provider))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
