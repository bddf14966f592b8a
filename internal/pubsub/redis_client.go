package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/market-rules/internal/config"
	"github.com/mohamedkhairy/market-rules/internal/storage"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

const dialCheckTimeout = 5 * time.Second

// RedisClientImpl ships activations over go-redis. Stream writes are
// trimmed approximately to maxLen entries when maxLen is positive.
type RedisClientImpl struct {
	client *redis.Client
	maxLen int64
}

var _ storage.RedisClient = (*RedisClientImpl)(nil)

// NewRedisClient connects and pings Redis before returning
func NewRedisClient(cfg config.RedisConfig) (*RedisClientImpl, error) {
	rc := &RedisClientImpl{
		client: redis.NewClient(redisOptions(cfg)),
		maxLen: cfg.StreamMaxLen,
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialCheckTimeout)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		_ = rc.client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", rc.client.Options().Addr, err)
	}

	logger.Info("Redis connected",
		logger.String("addr", rc.client.Options().Addr),
		logger.Int("db", cfg.DB),
		logger.Int64("stream_max_len", cfg.StreamMaxLen),
	)
	return rc, nil
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
}

func (r *RedisClientImpl) xaddArgs(stream string, values map[string]interface{}) *redis.XAddArgs {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return args
}

// PublishToStream appends value, JSON encoded, under a single field
func (r *RedisClientImpl) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode stream entry: %w", err)
	}
	return r.PublishBatchToStream(ctx, stream, []map[string]interface{}{{key: string(raw)}})
}

// PublishBatchToStream appends every entry in one pipeline round trip
func (r *RedisClientImpl) PublishBatchToStream(ctx context.Context, stream string, messages []map[string]interface{}) error {
	if len(messages) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, values := range messages {
			pipe.XAdd(ctx, r.xaddArgs(stream, values))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xadd %d entries to %s: %w", len(messages), stream, err)
	}
	return nil
}

// Publish sends message on channel. Strings and byte slices go out
// as-is, anything else is JSON encoded.
func (r *RedisClientImpl) Publish(ctx context.Context, channel string, message interface{}) error {
	var payload interface{}
	switch m := message.(type) {
	case string, []byte:
		payload = m
	default:
		raw, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", channel, err)
		}
		payload = raw
	}

	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (r *RedisClientImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClientImpl) Close() error {
	return r.client.Close()
}
