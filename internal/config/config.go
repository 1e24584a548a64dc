// Package config loads process configuration from the environment once at
// startup; services receive values through their constructors rather than
// reading ambient globals.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Identity
	BaseCurrency string
	InstanceID   string

	// Storage
	DataDir string

	// Quote sync tuning
	QuoteHistoryBufferDays  int
	ClosedPositionGraceDays int
	DefaultHistoryDays      int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		BaseCurrency:            getEnv("BASE_CURRENCY", "USD"),
		InstanceID:              getEnv("INSTANCE_ID", "ledgerd"),
		DataDir:                 getEnv("DATA_DIR", "./data"),
		QuoteHistoryBufferDays:  getEnvAsInt("QUOTE_HISTORY_BUFFER_DAYS", 5),
		ClosedPositionGraceDays: getEnvAsInt("CLOSED_POSITION_GRACE_PERIOD_DAYS", 30),
		DefaultHistoryDays:      getEnvAsInt("DEFAULT_HISTORY_DAYS", 365),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.BaseCurrency == "" {
		return fmt.Errorf("BASE_CURRENCY is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.QuoteHistoryBufferDays < 0 || c.ClosedPositionGraceDays < 0 || c.DefaultHistoryDays < 0 {
		return fmt.Errorf("sync day windows must be non-negative")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
