package storage

import "context"

// RedisClient is the slice of Redis that rule activations are shipped
// through: stream appends for durable consumers and pub/sub for live
// listeners.
type RedisClient interface {
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error
	PublishBatchToStream(ctx context.Context, stream string, messages []map[string]interface{}) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Ping(ctx context.Context) error
	Close() error
}
