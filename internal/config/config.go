package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	// Record store
	DatabaseType string // "sqlite" (default), "postgres" or "mysql"
	DatabasePath string // sqlite file path
	DatabaseURL  string // postgres/mysql connection string

	// Local state file (remembered-user cache, current session)
	StatePath string

	// Sessions
	SessionTTL    time.Duration
	SessionSecret string // HMAC key for the signed session record; generated per process when empty

	// Password reset email (disabled unless SESFromEmail is set)
	SESRegion    string
	SESFromEmail string
	SESFromName  string

	// Seed the demo accounts on first run
	SeedDemoUsers bool

	Debug bool
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		DatabaseType:  getEnv("DB_TYPE", "sqlite"),
		DatabasePath:  getEnv("DB_PATH", "./taskdesk.db"),
		DatabaseURL:   getEnv("DB_URL", ""),
		StatePath:     getEnv("STATE_PATH", "./taskdesk_state.json"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		SESRegion:     getEnv("SES_REGION", "eu-west-1"),
		SESFromEmail:  getEnv("SES_FROM_EMAIL", ""),
		SESFromName:   getEnv("SES_FROM_NAME", "TaskDesk"),
		SeedDemoUsers: getEnvBool("SEED_DEMO_USERS", false),
		Debug:         getEnvBool("DEBUG", false),
	}
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration reads a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool reads a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
