package rules

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContainerMetrics(t *testing.T) {
	c := NewContainer("metrics-test", WithLogger(zap.NewNop()))

	once := manualRule("once").Once()
	kept := manualRule("kept")
	gone := manualRule("gone")
	for _, r := range []*MarketRule[string, int]{once, kept, gone} {
		require.NoError(t, r.Apply(c))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(liveRules.WithLabelValues("metrics-test")))

	once.activate(1)
	kept.activate(1)
	assert.Equal(t, 2.0, testutil.ToFloat64(activationsTotal.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(removedTotal.WithLabelValues("metrics-test", removeFinished)))

	require.True(t, c.TryRemoveRule(gone, false))
	assert.Equal(t, 1.0, testutil.ToFloat64(removedTotal.WithLabelValues("metrics-test", removeManual)))

	require.NoError(t, c.SuspendRules())
	kept.activate(2)
	require.NoError(t, c.ResumeRules())
	assert.Equal(t, 1.0, testutil.ToFloat64(activationSkipped.WithLabelValues("metrics-test", skipSuspended)))

	kept.Dispose()
	assert.Equal(t, 1.0, testutil.ToFloat64(removedTotal.WithLabelValues("metrics-test", removeDispose)))
	assert.Equal(t, 0.0, testutil.ToFloat64(liveRules.WithLabelValues("metrics-test")))
}
