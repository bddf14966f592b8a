package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/timer"
)

func newSeries() *models.CandleSeries {
	return models.NewTimeFrameSeries(models.NewSecurity("A", "A", nil), time.Minute)
}

func TestCandleStateRules(t *testing.T) {
	c := newTestContainer()
	series := newSeries()

	started, err := WhenCandlesStarted(series)
	require.NoError(t, err)
	finished, err := WhenCandlesFinished(series)
	require.NoError(t, err)
	all, err := WhenCandles(series)
	require.NoError(t, err)
	changed, err := WhenCandlesChanged(series)
	require.NoError(t, err)

	counts := map[string]int{}
	started.Do(func(*models.Candle) { counts["started"]++ })
	finished.Do(func(*models.Candle) { counts["finished"]++ })
	all.Do(func(*models.Candle) { counts["all"]++ })
	changed.Do(func(*models.Candle) { counts["changed"]++ })
	for _, r := range []*MarketRule[*models.CandleSeries, *models.Candle]{started, finished, all, changed} {
		require.NoError(t, r.Apply(c))
	}

	candle := models.NewCandle(series, epoch, d(10))
	series.Process(candle)
	candle.Add(d(11), d(1))
	series.Process(candle)
	candle.State = models.CandleFinished
	series.Process(candle)

	assert.Equal(t, map[string]int{"started": 2, "finished": 1, "all": 3, "changed": 2}, counts)
	assert.Same(t, series, started.Entity())
}

func TestCandleRules_Errors(t *testing.T) {
	_, err := WhenCandlesStarted(nil)
	assert.ErrorIs(t, err, ErrNoSeries)
	_, err = WhenCandleChanged(nil)
	assert.ErrorIs(t, err, ErrNilCandle)

	orphan := &models.Candle{}
	_, err = WhenCandleFinished(orphan)
	assert.ErrorIs(t, err, ErrNoSeries)

	candle := models.NewCandle(newSeries(), epoch, d(10))
	_, err = WhenClosePriceMore(candle, models.Offset(d(0)))
	assert.ErrorIs(t, err, models.ErrInvalidOffset)
	_, err = WhenClosePriceLess(candle, models.Limit(d(-3)))
	assert.ErrorIs(t, err, models.ErrInvalidOffset)

	_, err = WhenCurrentCandleTotalVolumeMore(newSeries(), models.Offset(d(5)))
	assert.ErrorIs(t, err, models.ErrNoCurrentValue)
}

func TestWhenCandleChangedAndFinished(t *testing.T) {
	c := newTestContainer()
	series := newSeries()
	candle := models.NewCandle(series, epoch, d(10))
	other := models.NewCandle(series, epoch.Add(time.Minute), d(10))

	changed, err := WhenCandleChanged(candle)
	require.NoError(t, err)
	finished, err := WhenCandleFinished(candle)
	require.NoError(t, err)

	var fired []string
	changed.Do(func(*models.Candle) { fired = append(fired, "changed") })
	finished.Do(func(*models.Candle) { fired = append(fired, "finished") })
	require.NoError(t, changed.Apply(c))
	require.NoError(t, finished.Apply(c))

	series.Process(candle)
	series.Process(other)
	candle.State = models.CandleFinished
	series.Process(candle)
	series.Process(candle)

	assert.Equal(t, []string{"changed", "finished"}, fired)
	assert.True(t, finished.IsDisposed())
	assert.True(t, changed.IsReady())
}

func TestWhenClosePriceMore(t *testing.T) {
	c := newTestContainer()
	series := newSeries()
	candle := models.NewCandle(series, epoch, d(10))

	r, err := WhenClosePriceMore(candle, models.Offset(d(2)))
	require.NoError(t, err)
	calls := 0
	r.Do(func(*models.Candle) { calls++ })
	require.NoError(t, r.Apply(c))

	candle.Add(d(12), d(1))
	series.Process(candle)
	assert.Equal(t, 0, calls)

	candle.Add(d(13), d(1))
	series.Process(candle)
	assert.Equal(t, 1, calls)
}

func TestWhenClosePriceLess_Limit(t *testing.T) {
	c := newTestContainer()
	series := newSeries()
	candle := models.NewCandle(series, epoch, d(10))

	r, err := WhenClosePriceLess(candle, models.Limit(d(9)))
	require.NoError(t, err)
	calls := 0
	r.Do(func(*models.Candle) { calls++ })
	require.NoError(t, r.Apply(c))

	candle.Add(d(9), d(1))
	series.Process(candle)
	candle.Add(d(8), d(1))
	series.Process(candle)
	assert.Equal(t, 1, calls)
}

func TestWhenTotalVolumeMore(t *testing.T) {
	c := newTestContainer()
	series := newSeries()
	candle := models.NewCandle(series, epoch, d(10))
	candle.Add(d(10), d(5))

	r, err := WhenTotalVolumeMore(candle, models.Offset(d(5)))
	require.NoError(t, err)
	calls := 0
	r.Do(func(*models.Candle) { calls++ })
	require.NoError(t, r.Apply(c))

	candle.Add(d(10), d(5))
	series.Process(candle)
	assert.Equal(t, 0, calls)

	candle.Add(d(10), d(1))
	series.Process(candle)
	assert.Equal(t, 1, calls)
}

func TestWhenCurrentCandleTotalVolumeMore(t *testing.T) {
	c := newTestContainer()
	series := newSeries()
	first := models.NewCandle(series, epoch, d(10))
	first.Add(d(10), d(4))
	series.Process(first)

	r, err := WhenCurrentCandleTotalVolumeMore(series, models.Offset(d(6)))
	require.NoError(t, err)
	calls := 0
	r.Do(func(*models.Candle) { calls++ })
	require.NoError(t, r.Apply(c))

	next := models.NewCandle(series, epoch.Add(time.Minute), d(10))
	next.Add(d(10), d(10))
	series.Process(next)
	assert.Equal(t, 0, calls)

	next.Add(d(10), d(1))
	series.Process(next)
	assert.Equal(t, 1, calls)
}

func TestWhenCandlePartiallyFinished_Tick(t *testing.T) {
	c := newTestContainer()
	clock := timer.NewSimClock(epoch)
	series := models.NewTickSeries(models.NewSecurity("A", "A", nil), 10)
	candle := models.NewCandle(series, epoch, d(10))

	r, err := WhenCandlePartiallyFinished(candle, clock, d(50))
	require.NoError(t, err)
	var counts []int
	r.Do(func(cd *models.Candle) { counts = append(counts, cd.TradeCount) })
	require.NoError(t, r.Apply(c))

	for i := 0; i < 6; i++ {
		candle.Add(d(10), d(1))
		series.Process(candle)
	}
	assert.Equal(t, []int{5, 6}, counts)
}

func TestWhenCandlesPartiallyFinished_Range(t *testing.T) {
	c := newTestContainer()
	clock := timer.NewSimClock(epoch)
	series := models.NewRangeSeries(models.NewSecurity("A", "A", nil), models.Offset(d(10)))

	r, err := WhenCandlesPartiallyFinished(series, clock, d(50))
	require.NoError(t, err)
	calls := 0
	r.Do(func(*models.Candle) { calls++ })
	require.NoError(t, r.Apply(c))

	candle := models.NewCandle(series, epoch, d(100))
	candle.Add(d(104), d(1))
	series.Process(candle)
	assert.Equal(t, 0, calls)

	candle.Add(d(105), d(1))
	series.Process(candle)
	assert.Equal(t, 1, calls)
}

func TestWhenCandlesPartiallyFinished_Volume(t *testing.T) {
	c := newTestContainer()
	clock := timer.NewSimClock(epoch)
	series := models.NewVolumeSeries(models.NewSecurity("A", "A", nil), d(100))

	r, err := WhenCandlesPartiallyFinished(series, clock, d(25))
	require.NoError(t, err)
	calls := 0
	r.Do(func(*models.Candle) { calls++ })
	require.NoError(t, r.Apply(c))

	candle := models.NewCandle(series, epoch, d(10))
	candle.Add(d(10), d(24))
	series.Process(candle)
	candle.Add(d(10), d(1))
	series.Process(candle)
	assert.Equal(t, 1, calls)
}

func TestWhenCandlePartiallyFinished_TimeFrame(t *testing.T) {
	c := newTestContainer()
	clock := timer.NewSimClock(epoch.Add(15 * time.Second))
	series := newSeries()
	candle := models.NewCandle(series, epoch, d(10))

	r, err := WhenCandlePartiallyFinished(candle, clock, d(50))
	require.NoError(t, err)
	var got []*models.Candle
	r.Do(func(cd *models.Candle) { got = append(got, cd) })
	require.NoError(t, r.Apply(c))

	clock.Advance(10 * time.Second)
	assert.Empty(t, got)

	clock.Advance(5 * time.Second)
	require.Len(t, got, 1)
	assert.Same(t, candle, got[0])

	clock.Advance(time.Minute)
	assert.Len(t, got, 1)
}

func TestWhenCandlesPartiallyFinished_TimeFrameIsPeriodic(t *testing.T) {
	c := newTestContainer()
	clock := timer.NewSimClock(epoch.Add(45 * time.Second))
	series := newSeries()
	series.Process(models.NewCandle(series, epoch, d(10)))

	r, err := WhenCandlesPartiallyFinished(series, clock, d(50))
	require.NoError(t, err)
	var at []time.Time
	r.Do(func(*models.Candle) { at = append(at, clock.Now()) })
	require.NoError(t, r.Apply(c))

	for i := 0; i < 16; i++ {
		clock.Advance(15 * time.Second)
	}

	assert.Equal(t, []time.Time{
		epoch.Add(90 * time.Second),
		epoch.Add(150 * time.Second),
		epoch.Add(210 * time.Second),
		epoch.Add(270 * time.Second),
	}, at)
}

func TestPartialFireTime(t *testing.T) {
	series := newSeries()
	half := decimal.NewFromInt(50)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before the mark", epoch.Add(10 * time.Second), epoch.Add(30 * time.Second)},
		{"on the mark", epoch.Add(30 * time.Second), epoch.Add(90 * time.Second)},
		{"after the mark", epoch.Add(45 * time.Second), epoch.Add(90 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, partialFireTime(series, tt.now, half))
		})
	}
}

func TestPartialRules_Errors(t *testing.T) {
	clock := timer.NewSimClock(epoch)
	series := newSeries()
	candle := models.NewCandle(series, epoch, d(10))

	_, err := WhenCandlePartiallyFinished(candle, clock, d(0))
	assert.ErrorIs(t, err, ErrInvalidPercent)
	_, err = WhenCandlesPartiallyFinished(series, nil, d(50))
	assert.ErrorIs(t, err, ErrNoConnector)

	odd := &models.CandleSeries{Type: models.CandleType(42)}
	_, err = WhenCandlesPartiallyFinished(odd, clock, d(50))
	assert.ErrorIs(t, err, ErrUnsupportedCandleType)

	_, err = WhenCandlesPartiallyFinished(models.NewTimeFrameSeries(nil, 0), clock, d(50))
	assert.ErrorIs(t, err, ErrInvalidInterval)
}
