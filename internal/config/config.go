package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-automation-api/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting read from the environment (or .env).
type Config struct {
	Env           string   `mapstructure:"env"`
	Port          string   `mapstructure:"api_port"`
	DatabaseURL   string   `mapstructure:"database_url"`
	RunMigrations bool     `mapstructure:"run_migrations"`
	JWTSecretKey  string   `mapstructure:"jwt_secret_key"`
	EncryptionKey string   `mapstructure:"encryption_key"`
	AllowedOrigin []string `mapstructure:"allowed_origins"`
	PublicBaseURL string   `mapstructure:"public_base_url"`
	LogLevel      string   `mapstructure:"log_level"`
	LogFile       string   `mapstructure:"log_file"`

	RelayURL              string        `mapstructure:"relay_url"`
	RelayTimeout          time.Duration `mapstructure:"relay_timeout"`
	DispatchMaxRetries    int           `mapstructure:"dispatch_max_retries"`
	DispatchRetryInterval time.Duration `mapstructure:"dispatch_retry_interval"`
	SchedulerSpec         string        `mapstructure:"scheduler_spec"`

	BillingWebhookSecret      string        `mapstructure:"billing_webhook_secret"`
	BillingAPIKey             string        `mapstructure:"billing_api_key"`
	BillingAPIBaseURL         string        `mapstructure:"billing_api_base_url"`
	BillingSignatureTolerance time.Duration `mapstructure:"billing_signature_tolerance"`
}

var defaults = map[string]any{
	"env":                         "development",
	"api_port":                    "8080",
	"database_url":                "",
	"run_migrations":              false,
	"jwt_secret_key":              "",
	"encryption_key":              "",
	"allowed_origins":             "http://localhost:3000",
	"public_base_url":             "http://localhost:8080",
	"log_level":                   "info",
	"log_file":                    "",
	"relay_url":                   "http://localhost:8080/api/v1/relay",
	"relay_timeout":               "30s",
	"dispatch_max_retries":        3,
	"dispatch_retry_interval":     "2s",
	"scheduler_spec":              "@every 1m",
	"billing_webhook_secret":      "",
	"billing_api_key":             "",
	"billing_api_base_url":        "https://api.stripe.com",
	"billing_signature_tolerance": "5m",
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// .env is optioneel; in productie komt alles uit de omgeving.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c.AllowedOrigin = splitOrigins(c.AllowedOrigin)
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	c.BillingAPIBaseURL = strings.TrimRight(c.BillingAPIBaseURL, "/")

	return &c, nil
}

func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, origin := range strings.Split(item, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecretKey == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY is required"))
	}
	if len(c.EncryptionKey) != 32 {
		errs = append(errs, errors.New("ENCRYPTION_KEY must be 32 bytes (AES-256)"))
	}
	if c.DispatchMaxRetries < 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_RETRIES must not be negative"))
	}
	if c.RelayTimeout <= 0 {
		errs = append(errs, errors.New("RELAY_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoggerOptions returns the logging part of the config.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{Env: c.Env, Level: c.LogLevel, File: c.LogFile}
}
