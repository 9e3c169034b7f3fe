// Package config provides environment configuration for the client and stub server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Backend settings
	BackendURL     string
	RequestTimeout time.Duration

	// Stream settings
	MaxRetries     int
	RetryBaseDelay time.Duration

	// State persistence
	StateBackend string // "file", "sqlite", or "nats"
	StatePath    string
	HistoryLimit int

	// NATS settings (used when StateBackend is "nats")
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSBucket   string

	// Stub server settings
	StubPort         string
	StubReadTimeout  time.Duration
	StubWriteTimeout time.Duration
	StubChunkDelay   time.Duration
	StubScriptPath   string
	StubEventTTL     time.Duration

	// Rate limiting (stub server)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		BackendURL:     getEnv("DOCCHAT_BACKEND_URL", "http://localhost:8000"),
		RequestTimeout: getDurationEnv("DOCCHAT_REQUEST_TIMEOUT", 30*time.Second),

		// Stream
		MaxRetries:     getIntEnv("DOCCHAT_MAX_RETRIES", 3),
		RetryBaseDelay: getDurationEnv("DOCCHAT_RETRY_BASE_DELAY", time.Second),

		// State
		StateBackend: getEnv("DOCCHAT_STATE_BACKEND", "file"),
		StatePath:    getEnv("DOCCHAT_STATE_PATH", defaultStatePath()),
		HistoryLimit: getIntEnv("DOCCHAT_HISTORY_LIMIT", 50),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSBucket:   getEnv("NATS_STATE_BUCKET", "docchat-state"),

		// Stub server
		StubPort:         getEnv("PORT", "8000"),
		StubReadTimeout:  getDurationEnv("STUB_READ_TIMEOUT", 30*time.Second),
		StubWriteTimeout: getDurationEnv("STUB_WRITE_TIMEOUT", 120*time.Second),
		StubChunkDelay:   getDurationEnv("STUB_CHUNK_DELAY", 30*time.Millisecond),
		StubScriptPath:   getEnv("STUB_SCRIPT", ""),
		StubEventTTL:     getDurationEnv("STUB_EVENT_TTL", 10*time.Minute),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat-state.json"
	}
	return home + "/.docchat/state.json"
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
