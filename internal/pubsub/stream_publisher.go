package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/storage"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

var (
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_stream_publish_total",
			Help: "Total number of activations written to streams",
		},
		[]string{"stream"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_stream_publish_errors_total",
			Help: "Total number of activations that could not be written",
		},
		[]string{"stream"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activation_stream_publish_latency_seconds",
			Help:    "Stream write latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"stream"},
	)

	batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activation_stream_batch_size",
			Help:    "Number of activations per stream write",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"stream"},
	)
)

// StreamPublisherConfig holds configuration for the stream publisher
type StreamPublisherConfig struct {
	StreamName    string
	BatchSize     int
	BatchTimeout  time.Duration
	Partitions    int // streams are split by container name when > 0
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultStreamPublisherConfig returns default configuration
func DefaultStreamPublisherConfig(streamName string) StreamPublisherConfig {
	return StreamPublisherConfig{
		StreamName:    streamName,
		BatchSize:     100,
		BatchTimeout:  100 * time.Millisecond,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// StreamPublisher batches activations into Redis streams
type StreamPublisher struct {
	config  StreamPublisherConfig
	redis   storage.RedisClient
	batch   []*models.Activation
	batchMu sync.Mutex
	flushMu sync.Mutex
	ticker  *time.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(redis storage.RedisClient, config StreamPublisherConfig) *StreamPublisher {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 100 * time.Millisecond
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &StreamPublisher{
		config: config,
		redis:  redis,
		batch:  make([]*models.Activation, 0, config.BatchSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the periodic flush loop
func (p *StreamPublisher) Start() {
	p.ticker = time.NewTicker(p.config.BatchTimeout)
	p.wg.Add(1)
	go p.batchLoop()
}

// Publish queues an activation and flushes when the batch is full
func (p *StreamPublisher) Publish(activation *models.Activation) error {
	if activation == nil {
		return fmt.Errorf("activation cannot be nil")
	}
	if err := activation.Validate(); err != nil {
		return fmt.Errorf("invalid activation: %w", err)
	}

	p.batchMu.Lock()
	p.batch = append(p.batch, activation)
	shouldFlush := len(p.batch) >= p.config.BatchSize
	p.batchMu.Unlock()

	if shouldFlush {
		return p.flush()
	}
	return nil
}

func (p *StreamPublisher) batchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.ticker.C:
			_ = p.flush()
		}
	}
}

// flush writes the pending batch. Writes are serialized so stream
// order follows Publish order.
func (p *StreamPublisher) flush() error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchMu.Unlock()
		return nil
	}
	batch := make([]*models.Activation, len(p.batch))
	copy(batch, p.batch)
	p.batch = p.batch[:0]
	p.batchMu.Unlock()

	batchSize.WithLabelValues(p.config.StreamName).Observe(float64(len(batch)))

	if p.config.Partitions <= 0 {
		return p.publishBatch(batch, p.config.StreamName)
	}

	partitions := make(map[int][]*models.Activation)
	order := make([]int, 0)
	for _, a := range batch {
		partition := p.partition(a.Container)
		if _, ok := partitions[partition]; !ok {
			order = append(order, partition)
		}
		partitions[partition] = append(partitions[partition], a)
	}

	var lastErr error
	for _, partition := range order {
		if err := p.publishBatch(partitions[partition], p.PartitionStreamName(partition)); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (p *StreamPublisher) publishBatch(activations []*models.Activation, streamName string) error {
	startTime := time.Now()

	messages := make([]map[string]interface{}, 0, len(activations))
	for _, a := range activations {
		data, err := json.Marshal(a)
		if err != nil {
			logger.Error("Failed to marshal activation",
				logger.ErrorField(err),
				logger.String("activation_id", a.ID),
			)
			continue
		}
		messages = append(messages, map[string]interface{}{
			"activation": string(data),
		})
	}
	if len(messages) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		err = p.redis.PublishBatchToStream(context.Background(), streamName, messages)
		if err == nil {
			break
		}
		if attempt < p.config.RetryAttempts-1 {
			logger.Warn("Failed to publish activations, retrying",
				logger.ErrorField(err),
				logger.String("stream", streamName),
				logger.Int("attempt", attempt+1),
				logger.Int("count", len(messages)),
			)
			time.Sleep(p.config.RetryDelay * time.Duration(attempt+1))
		}
	}

	if err != nil {
		publishErrors.WithLabelValues(streamName).Add(float64(len(messages)))
		logger.Error("Failed to publish activations after retries",
			logger.ErrorField(err),
			logger.String("stream", streamName),
			logger.Int("count", len(messages)),
		)
		return err
	}

	publishTotal.WithLabelValues(streamName).Add(float64(len(messages)))
	publishLatency.WithLabelValues(streamName).Observe(time.Since(startTime).Seconds())

	logger.Debug("Published activations to stream",
		logger.String("stream", streamName),
		logger.Int("count", len(messages)),
	)
	return nil
}

func (p *StreamPublisher) partition(container string) int {
	if p.config.Partitions <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(container))
	return int(h.Sum32() % uint32(p.config.Partitions))
}

// PartitionStreamName returns the stream name for a partition
func (p *StreamPublisher) PartitionStreamName(partition int) string {
	if p.config.Partitions <= 0 {
		return p.config.StreamName
	}
	return p.config.StreamName + ".p" + strconv.Itoa(partition)
}

// Flush forces an immediate flush of the current batch
func (p *StreamPublisher) Flush() error {
	return p.flush()
}

// Close stops the flush loop and writes what is left
func (p *StreamPublisher) Close() error {
	p.cancel()
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.wg.Wait()
	return p.flush()
}

// Pending returns the number of queued activations
func (p *StreamPublisher) Pending() int {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	return len(p.batch)
}
