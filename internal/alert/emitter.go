package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/storage"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

var ErrEmitterRunning = errors.New("emitter already running")

var (
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activation_emitter_dropped_total",
		Help: "Activations dropped because the emitter queue was full",
	})

	emittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_emitter_emitted_total",
			Help: "Activations handed to Redis by outcome",
		},
		[]string{"outcome"},
	)
)

// StreamSink accepts activations for stream persistence
type StreamSink interface {
	Publish(activation *models.Activation) error
}

// EmitterConfig holds configuration for the activation emitter
type EmitterConfig struct {
	Channel        string // Redis pub/sub channel, empty disables
	BufferSize     int
	PublishTimeout time.Duration
}

// DefaultEmitterConfig returns default configuration
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		Channel:        "rule.activations",
		BufferSize:     1024,
		PublishTimeout: 2 * time.Second,
	}
}

// Emitter ships rule activations to Redis. RuleActivated never blocks
// the rule that fired: activations are queued and a worker publishes
// them, and a full queue drops the activation.
type Emitter struct {
	config EmitterConfig
	redis  storage.RedisClient
	stream StreamSink

	queue  chan *models.Activation
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stats  EmitterStats
}

// EmitterStats holds statistics about activation emission
type EmitterStats struct {
	Queued    int64
	Published int64
	Failed    int64
	Dropped   int64
	LastEmit  time.Time
	mu        sync.RWMutex
}

// NewEmitter creates an emitter. stream may be nil to skip persistence.
func NewEmitter(redis storage.RedisClient, stream StreamSink, config EmitterConfig) *Emitter {
	if redis == nil {
		panic("redis client cannot be nil")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEmitterConfig().BufferSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultEmitterConfig().PublishTimeout
	}

	return &Emitter{
		config: config,
		redis:  redis,
		stream: stream,
		queue:  make(chan *models.Activation, config.BufferSize),
	}
}

// RuleActivated queues an activation for publishing
func (e *Emitter) RuleActivated(activation *models.Activation) {
	if activation == nil {
		return
	}
	if activation.ID == "" {
		activation.ID = uuid.New().String()
	}
	if activation.Timestamp.IsZero() {
		activation.Timestamp = time.Now()
	}

	select {
	case e.queue <- activation:
		e.stats.mu.Lock()
		e.stats.Queued++
		e.stats.mu.Unlock()
	default:
		droppedTotal.Inc()
		e.stats.mu.Lock()
		e.stats.Dropped++
		e.stats.mu.Unlock()
		logger.Warn("Activation queue full, dropping activation",
			logger.String("rule_id", activation.RuleID),
			logger.String("container", activation.Container),
		)
	}
}

// Start starts the publishing worker
func (e *Emitter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return ErrEmitterRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.worker(ctx)

	logger.Info("Activation emitter started",
		logger.String("channel", e.config.Channel),
		logger.Int("buffer_size", e.config.BufferSize),
	)
	return nil
}

// Stop stops the worker and publishes what is still queued
func (e *Emitter) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.drain()

	logger.Info("Activation emitter stopped")
}

// Run starts the emitter and blocks until ctx is done
func (e *Emitter) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

func (e *Emitter) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case activation := <-e.queue:
			e.record(e.Emit(activation))
		}
	}
}

func (e *Emitter) drain() {
	for {
		select {
		case activation := <-e.queue:
			e.record(e.Emit(activation))
		default:
			return
		}
	}
}

func (e *Emitter) record(err error) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()

	if err != nil {
		e.stats.Failed++
		emittedTotal.WithLabelValues("failed").Inc()
		return
	}
	e.stats.Published++
	e.stats.LastEmit = time.Now()
	emittedTotal.WithLabelValues("published").Inc()
}

// Emit publishes one activation synchronously
func (e *Emitter) Emit(activation *models.Activation) error {
	if activation == nil {
		return fmt.Errorf("activation cannot be nil")
	}
	if err := activation.Validate(); err != nil {
		return fmt.Errorf("invalid activation: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.PublishTimeout)
	defer cancel()

	// Publish to pub/sub channel (real-time delivery)
	if e.config.Channel != "" {
		if err := e.redis.Publish(ctx, e.config.Channel, activation); err != nil {
			logger.Error("Failed to publish activation to pub/sub",
				logger.ErrorField(err),
				logger.String("channel", e.config.Channel),
				logger.String("activation_id", activation.ID),
			)
			// Stream persistence still gets the activation
		} else {
			logger.Debug("Published activation to pub/sub",
				logger.String("channel", e.config.Channel),
				logger.String("activation_id", activation.ID),
				logger.String("rule", activation.RuleName),
			)
		}
	}

	if e.stream != nil {
		if err := e.stream.Publish(activation); err != nil {
			logger.Error("Failed to queue activation for stream",
				logger.ErrorField(err),
				logger.String("activation_id", activation.ID),
			)
			return fmt.Errorf("failed to publish activation to stream: %w", err)
		}
	}

	return nil
}

// GetStats returns a copy of the emitter statistics
func (e *Emitter) GetStats() EmitterStats {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	return EmitterStats{
		Queued:    e.stats.Queued,
		Published: e.stats.Published,
		Failed:    e.stats.Failed,
		Dropped:   e.stats.Dropped,
		LastEmit:  e.stats.LastEmit,
	}
}
