package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Clock modes
const (
	ClockLive      = "live"
	ClockSimulated = "simulated"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	Rules      RulesConfig
	Demo       DemoConfig
	Redis      RedisConfig
	Activation ActivationConfig
}

// RulesConfig holds rule engine configuration
type RulesConfig struct {
	Clock           string        // "live" or "simulated"
	TimerResolution time.Duration // tick period of the live clock
	SimStep         time.Duration // advance per tick of the simulated clock
	HTTPPort        int
}

// DemoConfig holds the emulated market driven by rulesd
type DemoConfig struct {
	Securities   []string
	TickInterval time.Duration
	StartPrice   decimal.Decimal
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	StreamMaxLen int64 // approximate XADD trim, 0 keeps everything
}

// ActivationConfig holds activation emitter configuration
type ActivationConfig struct {
	Channel        string // pub/sub channel, empty disables
	Stream         string // stream name, empty disables
	BufferSize     int
	BatchSize      int
	BatchTimeout   time.Duration
	PublishTimeout time.Duration
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Rules: RulesConfig{
			Clock:           strings.ToLower(getEnv("RULES_CLOCK", ClockLive)),
			TimerResolution: getEnvAsDuration("RULES_TIMER_RESOLUTION", 100*time.Millisecond),
			SimStep:         getEnvAsDuration("RULES_SIM_STEP", time.Second),
			HTTPPort:        getEnvAsInt("RULES_HTTP_PORT", 8095),
		},
		Demo: DemoConfig{
			Securities:   getEnvAsStringSlice("RULES_DEMO_SECURITY", []string{"AAPL"}),
			TickInterval: getEnvAsDuration("RULES_DEMO_TICK_INTERVAL", 250*time.Millisecond),
			StartPrice:   getEnvAsDecimal("RULES_DEMO_START_PRICE", decimal.NewFromInt(100)),
		},
		Redis: RedisConfig{
			Enabled:      getEnvAsBool("REDIS_ENABLED", false),
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			StreamMaxLen: int64(getEnvAsInt("REDIS_STREAM_MAXLEN", 100000)),
		},
		Activation: ActivationConfig{
			Channel:        getEnv("ACTIVATION_CHANNEL", "rule.activations"),
			Stream:         getEnv("ACTIVATION_STREAM", "rule.activations"),
			BufferSize:     getEnvAsInt("ACTIVATION_BUFFER_SIZE", 1024),
			BatchSize:      getEnvAsInt("ACTIVATION_BATCH_SIZE", 100),
			BatchTimeout:   getEnvAsDuration("ACTIVATION_BATCH_TIMEOUT", 100*time.Millisecond),
			PublishTimeout: getEnvAsDuration("ACTIVATION_PUBLISH_TIMEOUT", 2*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Rules.Clock {
	case ClockLive, ClockSimulated:
	default:
		return fmt.Errorf("RULES_CLOCK must be %q or %q, got %q", ClockLive, ClockSimulated, c.Rules.Clock)
	}
	if c.Rules.TimerResolution <= 0 {
		return fmt.Errorf("RULES_TIMER_RESOLUTION must be positive")
	}
	if c.Rules.SimStep <= 0 {
		return fmt.Errorf("RULES_SIM_STEP must be positive")
	}
	if c.Rules.HTTPPort <= 0 || c.Rules.HTTPPort > 65535 {
		return fmt.Errorf("RULES_HTTP_PORT is out of range: %d", c.Rules.HTTPPort)
	}
	if len(c.Demo.Securities) == 0 {
		return fmt.Errorf("RULES_DEMO_SECURITY must contain at least one security")
	}
	if c.Demo.TickInterval <= 0 {
		return fmt.Errorf("RULES_DEMO_TICK_INTERVAL must be positive")
	}
	if !c.Demo.StartPrice.IsPositive() {
		return fmt.Errorf("RULES_DEMO_START_PRICE must be positive")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is set")
	}
	if c.Redis.StreamMaxLen < 0 {
		return fmt.Errorf("REDIS_STREAM_MAXLEN must not be negative")
	}
	if c.Activation.BufferSize <= 0 {
		return fmt.Errorf("ACTIVATION_BUFFER_SIZE must be positive")
	}
	if c.Activation.BatchSize <= 0 {
		return fmt.Errorf("ACTIVATION_BATCH_SIZE must be positive")
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
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Split by comma and trim spaces
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
