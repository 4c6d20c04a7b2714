// Package config provides environment configuration for the gateway.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Redis settings
	RedisURL                 string
	HeartbeatInterval        time.Duration
	HeartbeatEnabled         bool
	HeartbeatMissedThreshold int
	StreamStateTTL           time.Duration

	// Postgres settings
	DatabaseURL    string
	DBQueryTimeout time.Duration

	// JWT settings
	JWTSecret string

	// Encryption
	EncryptionKey string

	// AWS / secrets
	AWSRegion       string
	AWSSecretID     string
	AWSAccessKey    string
	AWSSecretAccess string
	SecretsTimeout  time.Duration

	// R2 object storage
	R2AccountID   string
	R2AccessKeyID string
	R2SecretKey   string
	R2Bucket      string
	R2PublicURL   string

	// Platform provider keys (optional; secrets manager is the fallback)
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	XAIAPIKey       string

	// Image generation collaborator
	ImageGenURL     string
	ImageGenTimeout time.Duration

	// Rate limiting
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
		// Server
		ServerPort:         getEnv("PORT", "4000"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Redis
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379"),
		HeartbeatInterval:        getDurationEnv("HEARTBEAT_INTERVAL", 20*time.Second),
		HeartbeatEnabled:         getBoolEnv("HEARTBEAT_ENABLED", true),
		HeartbeatMissedThreshold: getIntEnv("HEARTBEAT_MISSED_THRESHOLD", 3),
		StreamStateTTL:           getDurationEnv("STREAM_STATE_TTL", time.Hour),

		// Postgres
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/slipstream"),
		DBQueryTimeout: getDurationEnv("DB_QUERY_TIMEOUT", 5*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Encryption
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// AWS
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		AWSSecretID:     getEnv("AWS_CREDENTIAL_SECRET_ID", ""),
		AWSAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AWSSecretAccess: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SecretsTimeout:  getDurationEnv("SECRETS_TIMEOUT", 10*time.Second),

		// R2
		R2AccountID:   getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID: getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretKey:   getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:      getEnv("R2_BUCKET", ""),
		R2PublicURL:   getEnv("R2_PUBLIC_URL", ""),

		// Providers
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		XAIAPIKey:       getEnv("X_AI_KEY", ""),

		// Image generation
		ImageGenURL:     getEnv("IMAGE_GEN_URL", ""),
		ImageGenTimeout: getDurationEnv("IMAGE_GEN_TIMEOUT", 60*time.Second),

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
