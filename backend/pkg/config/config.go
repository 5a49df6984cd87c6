package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration for the voice core.
type Config struct {
	// App
	Env string

	// Relay connection
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	IPDiscoveryTimeout time.Duration
	IPDiscoveryRetries int
	HeartbeatMissedMax int

	// DAVE
	MaxDAVEProtocolVersion int

	// Resource tuning
	BufferPoolSize int
	AutoRecovery   bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Env:                    getEnv("ENV", "development"),
		ConnectTimeout:         getEnvAsDuration("VOICE_CONNECT_TIMEOUT", 10*time.Second),
		HandshakeTimeout:       getEnvAsDuration("VOICE_HANDSHAKE_TIMEOUT", 30*time.Second),
		IPDiscoveryTimeout:     getEnvAsDuration("VOICE_IP_DISCOVERY_TIMEOUT", 1*time.Second),
		IPDiscoveryRetries:     getEnvAsInt("VOICE_IP_DISCOVERY_RETRIES", 3),
		HeartbeatMissedMax:     getEnvAsInt("VOICE_HEARTBEAT_MISSED_MAX", 2),
		MaxDAVEProtocolVersion: getEnvAsInt("VOICE_MAX_DAVE_PROTOCOL_VERSION", 1),
		BufferPoolSize:         getEnvAsInt("VOICE_BUFFER_POOL_SIZE", 16),
		AutoRecovery:           getEnvAsBool("VOICE_AUTO_RECOVERY", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c *Config) Validate() error {
	if c.IPDiscoveryRetries <= 0 {
		return fmt.Errorf("VOICE_IP_DISCOVERY_RETRIES must be positive")
	}
	if c.HeartbeatMissedMax <= 0 {
		return fmt.Errorf("VOICE_HEARTBEAT_MISSED_MAX must be positive")
	}
	if c.BufferPoolSize <= 0 {
		return fmt.Errorf("VOICE_BUFFER_POOL_SIZE must be positive")
	}
	if c.MaxDAVEProtocolVersion < 0 {
		return fmt.Errorf("VOICE_MAX_DAVE_PROTOCOL_VERSION cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
