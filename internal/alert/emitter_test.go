package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohamedkhairy/market-rules/internal/connector"
	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/pubsub"
	"github.com/mohamedkhairy/market-rules/internal/rules"
	"github.com/mohamedkhairy/market-rules/internal/storage"
	"github.com/mohamedkhairy/market-rules/internal/timer"
)

type recordingStream struct {
	got []*models.Activation
	err error
}

func (s *recordingStream) Publish(a *models.Activation) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, a)
	return nil
}

func TestEmitter_EmitPublishesToChannelAndStream(t *testing.T) {
	mockRedis := storage.NewMockRedisClient()
	stream := &recordingStream{}
	emitter := NewEmitter(mockRedis, stream, DefaultEmitterConfig())

	a := &models.Activation{ID: "a1", RuleID: "r1", RuleName: "stop", Timestamp: time.Now()}
	require.NoError(t, emitter.Emit(a))

	published := mockRedis.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "rule.activations", published[0].Channel)

	var got models.Activation
	require.NoError(t, json.Unmarshal([]byte(published[0].Message), &got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, []*models.Activation{a}, stream.got)
}

func TestEmitter_EmitErrors(t *testing.T) {
	mockRedis := storage.NewMockRedisClient()
	stream := &recordingStream{err: errors.New("closed")}
	emitter := NewEmitter(mockRedis, stream, DefaultEmitterConfig())

	assert.Error(t, emitter.Emit(nil))
	assert.ErrorIs(t, emitter.Emit(&models.Activation{ID: "a", Timestamp: time.Now()}), models.ErrInvalidRuleID)

	err := emitter.Emit(&models.Activation{ID: "a", RuleID: "r", Timestamp: time.Now()})
	assert.ErrorContains(t, err, "closed")
}

func TestEmitter_PubSubFailureStillPersists(t *testing.T) {
	mockRedis := storage.NewMockRedisClient()
	mockRedis.PublishErr = errors.New("no route")
	stream := &recordingStream{}
	emitter := NewEmitter(mockRedis, stream, DefaultEmitterConfig())

	require.NoError(t, emitter.Emit(&models.Activation{ID: "a", RuleID: "r", Timestamp: time.Now()}))
	assert.Len(t, stream.got, 1)
}

func TestEmitter_RuleActivatedFillsIdentity(t *testing.T) {
	emitter := NewEmitter(storage.NewMockRedisClient(), nil, DefaultEmitterConfig())

	a := &models.Activation{RuleID: "r"}
	emitter.RuleActivated(a)

	assert.NotEmpty(t, a.ID)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, int64(1), emitter.GetStats().Queued)
}

func TestEmitter_DropsWhenQueueFull(t *testing.T) {
	config := DefaultEmitterConfig()
	config.BufferSize = 2
	emitter := NewEmitter(storage.NewMockRedisClient(), nil, config)

	for i := 0; i < 5; i++ {
		emitter.RuleActivated(&models.Activation{RuleID: "r"})
	}

	stats := emitter.GetStats()
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(3), stats.Dropped)
}

func TestEmitter_StartStop(t *testing.T) {
	mockRedis := storage.NewMockRedisClient()
	emitter := NewEmitter(mockRedis, nil, DefaultEmitterConfig())

	require.NoError(t, emitter.Start(context.Background()))
	assert.ErrorIs(t, emitter.Start(context.Background()), ErrEmitterRunning)

	emitter.RuleActivated(&models.Activation{RuleID: "r1"})
	require.Eventually(t, func() bool {
		return len(mockRedis.Published()) == 1
	}, time.Second, 5*time.Millisecond)

	emitter.Stop()
	emitter.Stop()

	emitter.RuleActivated(&models.Activation{RuleID: "r2"})
	assert.Len(t, mockRedis.Published(), 1)
}

func TestEmitter_StopDrainsQueue(t *testing.T) {
	mockRedis := storage.NewMockRedisClient()
	emitter := NewEmitter(mockRedis, nil, DefaultEmitterConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		emitter.RuleActivated(&models.Activation{RuleID: "r"})
	}
	require.NoError(t, emitter.Run(ctx))

	assert.Len(t, mockRedis.Published(), 3)
	assert.Equal(t, int64(3), emitter.GetStats().Published)
}

func TestEmitter_ContainerSinkEndToEnd(t *testing.T) {
	mockRedis := storage.NewMockRedisClient()
	streamConfig := pubsub.DefaultStreamPublisherConfig("rule.activations")
	streamConfig.BatchSize = 1
	stream := pubsub.NewStreamPublisher(mockRedis, streamConfig)
	emitter := NewEmitter(mockRedis, stream, DefaultEmitterConfig())

	clock := timer.NewSimClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	emu := connector.NewEmulator("emu", clock)
	c := rules.NewContainer("bracket",
		rules.WithLogger(zap.NewNop()),
		rules.WithClock(clock),
		rules.WithSink(emitter),
	)

	r, err := rules.WhenIntervalElapsed(emu, time.Second)
	require.NoError(t, err)
	r.UpdateName("heartbeat").Once().Do(func(models.Connector) {})
	require.NoError(t, r.Apply(c))

	clock.Advance(time.Second)
	require.NoError(t, emitter.Run(cancelled()))

	published := mockRedis.Published()
	require.Len(t, published, 1)
	var got models.Activation
	require.NoError(t, json.Unmarshal([]byte(published[0].Message), &got))
	assert.Equal(t, "bracket", got.Container)
	assert.Equal(t, "heartbeat", got.RuleName)
	assert.True(t, got.Finished)
	assert.Len(t, mockRedis.Streamed(), 1)
}

func cancelled() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
