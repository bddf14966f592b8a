package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// StreamEntry is one recorded stream append
type StreamEntry struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// ChannelMessage is one recorded pub/sub publish
type ChannelMessage struct {
	Channel string
	Message string
}

// MockRedisClient is an in-memory RedisClient for tests. Published
// messages are recorded in the order they arrive.
type MockRedisClient struct {
	mu         sync.Mutex
	StreamData []StreamEntry
	PubSubData []ChannelMessage
	nextID     int

	PublishErr error
	StreamErr  error
	PingErr    error
	Closed     bool
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.PublishBatchToStream(ctx, stream, []map[string]interface{}{{key: string(jsonData)}})
}

func (m *MockRedisClient) PublishBatchToStream(ctx context.Context, stream string, messages []map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StreamErr != nil {
		return m.StreamErr
	}
	for _, msg := range messages {
		m.nextID++
		m.StreamData = append(m.StreamData, StreamEntry{
			ID:     fmt.Sprintf("%d-0", m.nextID),
			Stream: stream,
			Values: msg,
		})
	}
	return nil
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	var payload string
	switch v := message.(type) {
	case string:
		payload = v
	case []byte:
		payload = string(v)
	default:
		jsonData, err := json.Marshal(message)
		if err != nil {
			return err
		}
		payload = string(jsonData)
	}
	m.PubSubData = append(m.PubSubData, ChannelMessage{Channel: channel, Message: payload})
	return nil
}

func (m *MockRedisClient) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MockRedisClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Streamed returns a copy of the recorded stream messages
func (m *MockRedisClient) Streamed() []StreamEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StreamEntry(nil), m.StreamData...)
}

// Published returns a copy of the recorded pub/sub messages
func (m *MockRedisClient) Published() []ChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChannelMessage(nil), m.PubSubData...)
}
