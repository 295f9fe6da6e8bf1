package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Backend endpoints
	APIBaseURL string
	PushURL    string
	APIToken   string

	// Durable state
	CacheDBPath string

	// Sync tuning
	RefreshInterval  time.Duration
	ReplayInterval   time.Duration
	CustomerTTL      time.Duration
	RiskTTL          time.Duration
	HealthScoreTTL   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Dynamic configuration file (optional)
	DynamicConfigPath string

	// Observability
	Environment    string
	LogLevel       string
	EnableMetrics  bool
	MetricsAddress string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		APIBaseURL: getEnv("PULSEDESK_API_URL", "http://localhost:8080"),
		PushURL:    getEnv("PULSEDESK_PUSH_URL", ""),
		APIToken:   getEnv("PULSEDESK_API_TOKEN", ""),

		CacheDBPath: getEnv("PULSEDESK_CACHE_DB", defaultCachePath()),

		RefreshInterval:  getEnvDuration("PULSEDESK_REFRESH_INTERVAL", 30*time.Second),
		ReplayInterval:   getEnvDuration("PULSEDESK_REPLAY_INTERVAL", 15*time.Second),
		CustomerTTL:      getEnvDuration("PULSEDESK_CUSTOMER_TTL", 5*time.Minute),
		RiskTTL:          getEnvDuration("PULSEDESK_RISK_TTL", 5*time.Minute),
		HealthScoreTTL:   getEnvDuration("PULSEDESK_HEALTH_TTL", 5*time.Minute),
		RetryMaxAttempts: getEnvInt("PULSEDESK_RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("PULSEDESK_RETRY_BASE_DELAY", 100*time.Millisecond),

		DynamicConfigPath: getEnv("PULSEDESK_DYNAMIC_CONFIG", ""),

		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		EnableMetrics:  getEnvBool("ENABLE_METRICS", false),
		MetricsAddress: getEnv("METRICS_ADDRESS", ":9090"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("PULSEDESK_API_URL is required")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("PULSEDESK_RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RefreshInterval < time.Second {
		return fmt.Errorf("PULSEDESK_REFRESH_INTERVAL must be at least 1s")
	}
	return nil
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pulsedesk-cache.db"
	}
	return home + "/.pulsedesk/cache.db"
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
