// Package config provides environment configuration for the sync daemon.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the daemon.
type Config struct {
	// Local API settings
	APIPort         string
	APIReadTimeout  time.Duration
	APIWriteTimeout time.Duration
	SessionSecret   string
	HandshakeFile   string

	// Remote API settings
	RemoteBaseURL    string
	RemoteAPIVersion string
	RemoteToken      string
	RequestTimeout   time.Duration

	// Gateway settings
	RequestDelay  time.Duration
	CacheTTL      time.Duration
	QuotaBackoff  time.Duration
	QuotaRetries  int

	// Batch scheduler settings
	BatchWindow  time.Duration
	BatchMaxSize int

	// Long-poll settings
	LongPollWait       int
	LongPollRetryDelay time.Duration

	// Rate limiting (local API)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Notifications
	NotificationsEnabled bool

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Local API
		APIPort:         getEnv("SYNCD_PORT", "7810"),
		APIReadTimeout:  getDurationEnv("SYNCD_READ_TIMEOUT", 30*time.Second),
		APIWriteTimeout: getDurationEnv("SYNCD_WRITE_TIMEOUT", 120*time.Second),
		SessionSecret:   getEnv("SYNCD_SESSION_SECRET", ""),
		HandshakeFile:   getEnv("SYNCD_HANDSHAKE_FILE", ""),

		// Remote API
		RemoteBaseURL:    getEnv("REMOTE_API_URL", "https://api.messenger.example/method"),
		RemoteAPIVersion: getEnv("REMOTE_API_VERSION", "5.131"),
		RemoteToken:      getEnv("REMOTE_ACCESS_TOKEN", ""),
		RequestTimeout:   getDurationEnv("REMOTE_REQUEST_TIMEOUT", 30*time.Second),

		// Gateway
		RequestDelay: getDurationEnv("GATEWAY_REQUEST_DELAY", 350*time.Millisecond),
		CacheTTL:     getDurationEnv("GATEWAY_CACHE_TTL", 5*time.Minute),
		QuotaBackoff: getDurationEnv("GATEWAY_QUOTA_BACKOFF", time.Second),
		QuotaRetries: getIntEnv("GATEWAY_QUOTA_RETRIES", 2),

		// Batching
		BatchWindow:  getDurationEnv("BATCH_WINDOW", 100*time.Millisecond),
		BatchMaxSize: getIntEnv("BATCH_MAX_SIZE", 25),

		// Long-poll
		LongPollWait:       getIntEnv("LONGPOLL_WAIT", 25),
		LongPollRetryDelay: getDurationEnv("LONGPOLL_RETRY_DELAY", 5*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Notifications
		NotificationsEnabled: getBoolEnv("NOTIFICATIONS_ENABLED", true),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
