// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "CYM_"

// Config holds all application configuration.
type Config struct {
	Port   int
	Env    string
	DBPath string

	LogLevel  string
	LogFormat string
	LogFile   string

	// Timezone is used to render dates in exports and to decide which
	// period "now" falls in for reminders.
	Timezone string
	Location *time.Location

	AdminPassword     string
	AdminPasswordHash string

	S3 S3Config

	ReportPassphrase  string
	ReportAutoPublish bool

	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubscriber  string
	ReminderInterval time.Duration

	// WSOriginPatterns lists extra origins allowed to open the admin websocket.
	WSOriginPatterns []string
}

// S3Config holds S3-compatible storage settings for the report archive.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Configured reports whether enough settings are present to reach a bucket.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// DevAdminPassword is the fallback credential outside production.
const DevAdminPassword = "admin"

// Load reads configuration from environment variables.
// It first loads a .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnvInt("PORT", 8080),
		Env:               getEnv("ENV", EnvDevelopment),
		DBPath:            getEnv("DB_PATH", "cymtrack.db"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:           getEnv("LOG_FILE", ""),
		Timezone:          getEnv("TIMEZONE", "UTC"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		ReportPassphrase:  getEnv("REPORT_PASSPHRASE", ""),
		ReportAutoPublish: getEnvBool("REPORT_AUTO_PUBLISH", false),
		VAPIDPublicKey:    getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:   getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber:   getEnv("VAPID_SUBSCRIBER", ""),
		ReminderInterval:  getEnvDuration("REMINDER_INTERVAL", time.Hour),
		WSOriginPatterns:  getEnvList("WS_ORIGINS"),
	}

	if cfg.Env != EnvProduction && cfg.AdminPassword == "" && cfg.AdminPasswordHash == "" {
		cfg.AdminPassword = DevAdminPassword
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and resolves Location.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("CYM_PORT must be between 1 and 65535, got %d", c.Port))
	}

	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("CYM_ENV must be one of: development, staging, production; got %q", c.Env))
	}

	if c.DBPath == "" {
		errs = append(errs, errors.New("CYM_DB_PATH is required"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("CYM_LOG_LEVEL must be one of: debug, info, warn, error; got %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("CYM_LOG_FORMAT must be one of: json, text, pretty; got %q", c.LogFormat))
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("CYM_TIMEZONE: %w", err))
	} else {
		c.Location = loc
	}

	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		errs = append(errs, errors.New("CYM_ADMIN_PASSWORD or CYM_ADMIN_PASSWORD_HASH is required in production"))
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("CYM_VAPID_PUBLIC_KEY and CYM_VAPID_PRIVATE_KEY must be set together"))
	}

	if c.ReminderInterval < time.Minute {
		errs = append(errs, fmt.Errorf("CYM_REMINDER_INTERVAL must be at least 1m, got %s", c.ReminderInterval))
	}

	if c.ReportAutoPublish && !c.S3.Configured() {
		errs = append(errs, errors.New("CYM_REPORT_AUTO_PUBLISH requires CYM_S3_BUCKET, CYM_S3_ACCESS_KEY and CYM_S3_SECRET_KEY"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// PushEnabled reports whether reminders can be sent.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
