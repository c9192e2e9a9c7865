package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/pratik-mahalle/wsaudit/internal/detector"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/integrations"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Logging      LoggingConfig
	Notification NotificationConfig
	Audit        AuditConfig
}

// ServerConfig contains admin HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int
	Environment     string
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// For SQLite
	Path string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string
	Format     string // json or console
	OutputPath string
}

// NotificationConfig contains channel adapter configuration. A channel is
// enabled when its destination is set.
type NotificationConfig struct {
	SendTimeout time.Duration
	SendEmpty   bool
	Slack       notification.SlackConfig
	Webhook     notification.WebhookConfig
	Email       notification.EmailConfig
}

// AuditConfig contains pipeline configuration
type AuditConfig struct {
	RulesPath            string
	SpoolDir             string
	Interval             time.Duration
	Schedule             string
	IgnoredUserFields    []string
	IgnoredChannelFields []string
	RetentionDays        int
	RetentionKeep        int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors as it's optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "127.0.0.1"),
			Port:            getEnvAsInt("SERVER_PORT", 9090),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimit:       getEnvAsInt("SERVER_RATE_LIMIT", 60),
			Environment:     getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "wsaudit"),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Path:            getEnv("DB_PATH", "./wsaudit.db"),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Notification: NotificationConfig{
			SendTimeout: getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
			SendEmpty:   getEnvAsBool("NOTIFY_SEND_EMPTY", false),
			Slack: notification.SlackConfig{
				WebhookURL:  getEnv("SLACK_WEBHOOK_URL", ""),
				Channel:     getEnv("SLACK_CHANNEL", ""),
				Username:    getEnv("SLACK_USERNAME", "wsaudit"),
				IconEmoji:   getEnv("SLACK_ICON_EMOJI", ""),
				RatePerSec:  getEnvAsFloat("SLACK_RATE_PER_SEC", 1),
				MinSeverity: getEnv("SLACK_MIN_SEVERITY", ""),
			},
			Webhook: notification.WebhookConfig{
				Name:        getEnv("WEBHOOK_NAME", ""),
				URL:         getEnv("WEBHOOK_URL", ""),
				Secret:      getEnv("WEBHOOK_SECRET", ""),
				MinSeverity: getEnv("WEBHOOK_MIN_SEVERITY", ""),
			},
			Email: notification.EmailConfig{
				Host:        getEnv("SMTP_HOST", ""),
				Port:        getEnvAsInt("SMTP_PORT", 587),
				Username:    getEnv("SMTP_USERNAME", ""),
				Password:    getEnv("SMTP_PASSWORD", ""),
				From:        getEnv("SMTP_FROM", ""),
				To:          getEnvAsList("SMTP_TO"),
				MinSeverity: getEnv("SMTP_MIN_SEVERITY", ""),
			},
		},
		Audit: AuditConfig{
			RulesPath:            getEnv("AUDIT_RULES_PATH", ""),
			SpoolDir:             getEnv("AUDIT_SPOOL_DIR", "./snapshots"),
			Interval:             getEnvAsDuration("AUDIT_INTERVAL", 0),
			Schedule:             getEnv("AUDIT_SCHEDULE", ""),
			IgnoredUserFields:    getEnvAsList("AUDIT_IGNORE_USER_FIELDS"),
			IgnoredChannelFields: getEnvAsList("AUDIT_IGNORE_CHANNEL_FIELDS"),
			RetentionDays:        getEnvAsInt("AUDIT_RETENTION_DAYS", 90),
			RetentionKeep:        getEnvAsInt("AUDIT_RETENTION_KEEP", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Audit.Interval < 0 {
		return fmt.Errorf("invalid audit interval: %s", c.Audit.Interval)
	}

	if c.Audit.Interval > 0 && c.Audit.Schedule != "" {
		return fmt.Errorf("AUDIT_INTERVAL and AUDIT_SCHEDULE are mutually exclusive")
	}

	if c.Audit.RetentionDays < 0 || c.Audit.RetentionKeep < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}

	if err := detector.CheckIgnoredFields(c.Audit.IgnoredUserFields, c.Audit.IgnoredChannelFields); err != nil {
		return err
	}

	if c.Notification.Email.Host != "" && (c.Notification.Email.Port < 1 || c.Notification.Email.Port > 65535) {
		return fmt.Errorf("invalid SMTP port: %d", c.Notification.Email.Port)
	}

	return nil
}

// ChannelSpecs returns one spec per configured notification channel, in the
// order slack, email, webhook.
func (c *Config) ChannelSpecs() []integrations.ChannelSpec {
	var specs []integrations.ChannelSpec
	n := c.Notification
	if n.Slack.WebhookURL != "" {
		specs = append(specs, integrations.ChannelSpec{Kind: notification.KindSlack, Slack: n.Slack})
	}
	if n.Email.Host != "" {
		specs = append(specs, integrations.ChannelSpec{Kind: notification.KindEmail, Email: n.Email})
	}
	if n.Webhook.URL != "" {
		specs = append(specs, integrations.ChannelSpec{Kind: notification.KindWebhook, Webhook: n.Webhook})
	}
	return specs
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
