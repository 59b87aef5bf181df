package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the deepwatch client.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	// APIBaseURL is the base URL of the remote record store REST API.
	APIBaseURL string
	// RealtimeURL is the websocket endpoint of the change-notification feed.
	// Empty disables the push path; the client then runs pull-only.
	RealtimeURL string
	// UserID is the owner id supplied by the authentication collaborator.
	UserID string
	// DatabaseURL selects the local cache database (sqlite:// or postgres://).
	DatabaseURL string

	HTTPTimeout       time.Duration
	DialTimeout       time.Duration
	ReconnectDelay    time.Duration
	ReconcileInterval time.Duration
	JanitorSpec       string

	ProfileTTL time.Duration
	ResultTTL  time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:        os.Getenv("DEEPWATCH_API_URL"),
		RealtimeURL:       os.Getenv("DEEPWATCH_REALTIME_URL"),
		UserID:            os.Getenv("DEEPWATCH_USER_ID"),
		DatabaseURL:       getEnvString("DATABASE_URL", "sqlite://./deepwatch.db"),
		HTTPTimeout:       getEnvDuration("DEEPWATCH_HTTP_TIMEOUT", 30*time.Second),
		DialTimeout:       getEnvDuration("DEEPWATCH_DIAL_TIMEOUT", 15*time.Second),
		ReconnectDelay:    getEnvDuration("DEEPWATCH_RECONNECT_DELAY", 5*time.Second),
		ReconcileInterval: getEnvDuration("DEEPWATCH_RECONCILE_INTERVAL", 60*time.Second),
		JanitorSpec:       getEnvString("DEEPWATCH_JANITOR_SPEC", "*/30 * * * * *"),
		ProfileTTL:        getEnvDuration("DEEPWATCH_PROFILE_TTL", 15*time.Minute),
		ResultTTL:         getEnvDuration("DEEPWATCH_RESULT_TTL", 24*time.Hour),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("DEEPWATCH_API_URL is required")
	}

	return cfg, nil
}

// getEnvString retrieves a string from environment variable with default fallback
func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvDuration retrieves a duration from environment variable with default fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}
