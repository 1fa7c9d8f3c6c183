// Package config loads server and CLI settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	Port     int
	DBDriver string
	DBDSN    string

	LogLevel  string
	LogFormat string

	CORSOrigins []string
	StaticDir   string

	SchedulerEnabled bool
	GenerateSchedule string
	OverdueSchedule  string

	RedisAddr string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SheetsCredentialsFile string
	SheetsSpreadsheetID   string

	DefaulterMonths   int
	MaxBackfillMonths int
}

// Load reads the environment, applying defaults for unset variables.
// Malformed numbers and booleans fail the load.
func Load() (*Config, error) {
	var errs []string
	intEnv := func(key string, def int) int {
		raw := getEnv(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not a number", key, raw))
			return def
		}
		return n
	}
	boolEnv := func(key string, def bool) bool {
		raw := getEnv(key, "")
		if raw == "" {
			return def
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not a boolean", key, raw))
			return def
		}
		return b
	}

	cfg := &Config{
		Port:     intEnv("PORT", 8080),
		DBDriver: getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:    getEnv("DB_DSN", "rwa.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		StaticDir:   getEnv("STATIC_DIR", ""),

		SchedulerEnabled: boolEnv("SCHEDULER_ENABLED", true),
		// 00:05 on the first of every month.
		GenerateSchedule: getEnv("GENERATE_SCHEDULE", "5 0 1 * *"),
		// 00:15 every day.
		OverdueSchedule: getEnv("OVERDUE_SCHEDULE", "15 0 * * *"),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),

		SheetsCredentialsFile: getEnv("SHEETS_CREDENTIALS_FILE", ""),
		SheetsSpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),

		DefaulterMonths:   intEnv("DEFAULTER_MONTHS", 3),
		MaxBackfillMonths: intEnv("MAX_BACKFILL_MONTHS", 24),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks values that flags may have overridden after Load.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER %q: expected sqlite3 or postgres", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT %q: expected text or json", c.LogFormat)
	}
	if c.SchedulerEnabled {
		for key, spec := range map[string]string{
			"GENERATE_SCHEDULE": c.GenerateSchedule,
			"OVERDUE_SCHEDULE":  c.OverdueSchedule,
		} {
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("%s %q: %w", key, spec, err)
			}
		}
	}
	if c.DefaulterMonths < 0 {
		return fmt.Errorf("DEFAULTER_MONTHS must not be negative")
	}
	if c.MaxBackfillMonths <= 0 {
		return fmt.Errorf("MAX_BACKFILL_MONTHS must be positive")
	}
	return nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
