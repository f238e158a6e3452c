package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port           string
	DBPath         string
	LogLevel       string
	NotifySchedule string
	StatsSchedule  string
	UpcomingDays   int

	RescheduleRetries int
	RescheduleDelay   time.Duration

	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string
	ReminderEmail string
}

// NewConfig loads configuration from a .env file, if present, and environment variables
func NewConfig() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "duedate.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		NotifySchedule: getEnv("NOTIFY_SCHEDULE", "@every 1m"),
		StatsSchedule:  getEnv("STATS_SCHEDULE", "@every 1m"),
		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       getEnv("SMTP_PORT", "587"),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SenderEmail:    getEnv("SENDER_EMAIL", ""),
		ReminderEmail:  getEnv("REMINDER_EMAIL", ""),
	}

	var err error
	if cfg.UpcomingDays, err = getEnvInt("UPCOMING_DAYS", 5); err != nil {
		return nil, err
	}
	if cfg.RescheduleRetries, err = getEnvInt("RESCHEDULE_RETRIES", 10); err != nil {
		return nil, err
	}
	if cfg.RescheduleDelay, err = getEnvDuration("RESCHEDULE_DELAY", 50*time.Millisecond); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("DB_PATH is required")
	}
	if cfg.UpcomingDays < 0 {
		return nil, fmt.Errorf("UPCOMING_DAYS must not be negative")
	}
	if cfg.RescheduleRetries < 0 {
		return nil, fmt.Errorf("RESCHEDULE_RETRIES must not be negative")
	}

	return cfg, nil
}

// EmailEnabled reports whether due reminders should also go out by email.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.ReminderEmail != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
