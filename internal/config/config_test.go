package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RULES_CLOCK", "")
	t.Setenv("REDIS_ENABLED", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ClockLive, cfg.Rules.Clock)
	assert.Equal(t, 100*time.Millisecond, cfg.Rules.TimerResolution)
	assert.Equal(t, []string{"AAPL"}, cfg.Demo.Securities)
	assert.True(t, cfg.Demo.StartPrice.Equal(decimal.NewFromInt(100)))
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "rule.activations", cfg.Activation.Stream)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("RULES_CLOCK", "Simulated")
	t.Setenv("RULES_SIM_STEP", "250ms")
	t.Setenv("RULES_HTTP_PORT", "9000")
	t.Setenv("RULES_DEMO_SECURITY", "MSFT, GOOG ,")
	t.Setenv("RULES_DEMO_START_PRICE", "42.5")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_STREAM_MAXLEN", "500")
	t.Setenv("ACTIVATION_BUFFER_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ClockSimulated, cfg.Rules.Clock)
	assert.Equal(t, 250*time.Millisecond, cfg.Rules.SimStep)
	assert.Equal(t, 9000, cfg.Rules.HTTPPort)
	assert.Equal(t, []string{"MSFT", "GOOG"}, cfg.Demo.Securities)
	assert.Equal(t, "42.5", cfg.Demo.StartPrice.String())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, int64(500), cfg.Redis.StreamMaxLen)
	assert.Equal(t, 1024, cfg.Activation.BufferSize)
}

func validConfig() *Config {
	return &Config{
		Rules: RulesConfig{
			Clock:           ClockLive,
			TimerResolution: time.Second,
			SimStep:         time.Second,
			HTTPPort:        8095,
		},
		Demo: DemoConfig{
			Securities:   []string{"AAPL"},
			TickInterval: time.Second,
			StartPrice:   decimal.NewFromInt(10),
		},
		Redis:      RedisConfig{Host: "localhost"},
		Activation: ActivationConfig{BufferSize: 1, BatchSize: 1},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown clock", func(c *Config) { c.Rules.Clock = "wall" }, "RULES_CLOCK"},
		{"zero resolution", func(c *Config) { c.Rules.TimerResolution = 0 }, "RULES_TIMER_RESOLUTION"},
		{"negative step", func(c *Config) { c.Rules.SimStep = -time.Second }, "RULES_SIM_STEP"},
		{"bad port", func(c *Config) { c.Rules.HTTPPort = 70000 }, "RULES_HTTP_PORT"},
		{"no securities", func(c *Config) { c.Demo.Securities = nil }, "RULES_DEMO_SECURITY"},
		{"zero price", func(c *Config) { c.Demo.StartPrice = decimal.Zero }, "RULES_DEMO_START_PRICE"},
		{"redis without host", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Host = ""
		}, "REDIS_HOST"},
		{"redis disabled without host", func(c *Config) { c.Redis.Host = "" }, ""},
		{"negative stream trim", func(c *Config) { c.Redis.StreamMaxLen = -1 }, "REDIS_STREAM_MAXLEN"},
		{"zero buffer", func(c *Config) { c.Activation.BufferSize = 0 }, "ACTIVATION_BUFFER_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
