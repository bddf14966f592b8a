package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mohamedkhairy/market-rules/internal/config"
)

func TestRedisOptions(t *testing.T) {
	opts := redisOptions(config.RedisConfig{
		Host:         "cache",
		Port:         6380,
		Password:     "secret",
		DB:           2,
		PoolSize:     7,
		MinIdleConns: 1,
	})

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 1, opts.MinIdleConns)
}

func TestXAddArgs_Trim(t *testing.T) {
	values := map[string]interface{}{"activation": "{}"}

	untrimmed := (&RedisClientImpl{}).xaddArgs("rule.activations", values)
	assert.Equal(t, "rule.activations", untrimmed.Stream)
	assert.Zero(t, untrimmed.MaxLen)
	assert.False(t, untrimmed.Approx)

	trimmed := (&RedisClientImpl{maxLen: 1000}).xaddArgs("rule.activations", values)
	assert.Equal(t, int64(1000), trimmed.MaxLen)
	assert.True(t, trimmed.Approx)
	assert.Equal(t, values, trimmed.Values)
}
