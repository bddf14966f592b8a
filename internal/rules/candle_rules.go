package rules

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/timer"
)

var hundred = decimal.NewFromInt(100)

func newSeriesRule(series *models.CandleSeries, name string, cond func(*models.Candle) bool) *MarketRule[*models.CandleSeries, *models.Candle] {
	r := newRule[*models.CandleSeries, *models.Candle](series, name)
	r.onDispose(series.OnProcessing(func(c *models.Candle) {
		if c != nil && cond(c) {
			r.activate(c)
		}
	}))
	return r
}

func candleStateRule(series *models.CandleSeries, name string, states ...models.CandleState) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	if series == nil {
		return nil, ErrNoSeries
	}
	return newSeriesRule(series, name+" "+series.String(), func(c *models.Candle) bool {
		for _, s := range states {
			if c.State == s {
				return true
			}
		}
		return false
	}), nil
}

// WhenCandlesStarted fires for every active candle of the series
func WhenCandlesStarted(series *models.CandleSeries) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	return candleStateRule(series, "candles started", models.CandleActive)
}

// WhenCandlesFinished fires for every finished candle of the series
func WhenCandlesFinished(series *models.CandleSeries) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	return candleStateRule(series, "candles finished", models.CandleFinished)
}

// WhenCandles fires for every processed candle of the series
func WhenCandles(series *models.CandleSeries) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	return candleStateRule(series, "candles", models.CandleActive, models.CandleFinished)
}

// WhenCandlesChanged fires whenever an active candle of the series changes
func WhenCandlesChanged(series *models.CandleSeries) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	if series == nil {
		return nil, ErrNoSeries
	}
	return newSeriesRule(series, "candles changed "+series.String(), func(c *models.Candle) bool {
		return c.State == models.CandleActive
	}), nil
}

func candleSeries(candle *models.Candle) (*models.CandleSeries, error) {
	if candle == nil {
		return nil, ErrNilCandle
	}
	if candle.Series == nil {
		return nil, fmt.Errorf("%s: %w", candle, ErrNoSeries)
	}
	return candle.Series, nil
}

// changedCandleRule fires while the given candle is active and cond holds
func changedCandleRule(candle *models.Candle, name string, cond func(*models.Candle) bool) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	series, err := candleSeries(candle)
	if err != nil {
		return nil, err
	}
	return newSeriesRule(series, name, func(c *models.Candle) bool {
		return c == candle && c.State == models.CandleActive && cond(c)
	}), nil
}

// WhenCandleChanged fires on every change of the active candle
func WhenCandleChanged(candle *models.Candle) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	return changedCandleRule(candle, "candle changed", func(*models.Candle) bool { return true })
}

// WhenCandleFinished fires once when the candle is finished
func WhenCandleFinished(candle *models.Candle) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	series, err := candleSeries(candle)
	if err != nil {
		return nil, err
	}
	r := newSeriesRule(series, "candle finished "+candle.String(), func(c *models.Candle) bool {
		return c == candle && c.State == models.CandleFinished
	})
	return r.Once(), nil
}

func closePriceRule(candle *models.Candle, price models.Unit, below bool) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	if candle == nil {
		return nil, ErrNilCandle
	}
	if err := price.Validate(); err != nil {
		return nil, err
	}
	if !price.Value.IsPositive() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidOffset, price)
	}

	finish := price.Above(candle.Close)
	op := ">"
	if below {
		finish = price.Below(candle.Close)
		op = "<"
	}

	return changedCandleRule(candle, fmt.Sprintf("%s close %s %s", candle, op, finish), func(c *models.Candle) bool {
		if below {
			return c.Close.LessThan(finish)
		}
		return c.Close.GreaterThan(finish)
	})
}

// WhenClosePriceMore fires when the close of the active candle rises strictly above the level
func WhenClosePriceMore(candle *models.Candle, price models.Unit) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	return closePriceRule(candle, price, false)
}

// WhenClosePriceLess fires when the close of the active candle drops strictly below the level
func WhenClosePriceLess(candle *models.Candle, price models.Unit) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	return closePriceRule(candle, price, true)
}

// WhenTotalVolumeMore fires when the volume of the active candle rises strictly above the level
func WhenTotalVolumeMore(candle *models.Candle, volume models.Unit) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	if candle == nil {
		return nil, ErrNilCandle
	}

	finish, err := threshold(volume, candle.TotalVolume, false)
	if err != nil {
		return nil, err
	}

	return changedCandleRule(candle, fmt.Sprintf("%s volume > %s", candle, finish), func(c *models.Candle) bool {
		return c.TotalVolume.GreaterThan(finish)
	})
}

// WhenCurrentCandleTotalVolumeMore fires when the volume of any active
// candle of the series rises strictly above the level. A relative level
// is resolved against the current candle.
func WhenCurrentCandleTotalVolumeMore(series *models.CandleSeries, volume models.Unit) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	if series == nil {
		return nil, ErrNoSeries
	}

	current := decimal.Zero
	if !volume.IsLimit() {
		c := series.CurrentCandle()
		if c == nil {
			return nil, fmt.Errorf("series %s has no current candle: %w", series, models.ErrNoCurrentValue)
		}
		current = c.TotalVolume
	}

	finish, err := threshold(volume, current, false)
	if err != nil {
		return nil, err
	}

	return newSeriesRule(series, fmt.Sprintf("%s current volume > %s", series, finish), func(c *models.Candle) bool {
		return c.State == models.CandleActive && c.TotalVolume.GreaterThan(finish)
	}), nil
}

// partialCondition evaluates completion of tick, range and volume candles
// directly against the running candle.
func partialCondition(series *models.CandleSeries, percent decimal.Decimal) (func(*models.Candle) bool, error) {
	ratio := percent.Div(hundred)

	switch series.Type {
	case models.CandleTick:
		count := ratio.Mul(decimal.NewFromInt(int64(series.TradeCount)))
		return func(c *models.Candle) bool {
			return decimal.NewFromInt(int64(c.TradeCount)).GreaterThanOrEqual(count)
		}, nil
	case models.CandleRange:
		return func(c *models.Candle) bool {
			full := series.Range.Above(c.Low).Sub(c.Low)
			return c.High.Sub(c.Low).GreaterThanOrEqual(ratio.Mul(full))
		}, nil
	case models.CandleVolume:
		volume := ratio.Mul(series.Volume)
		return func(c *models.Candle) bool {
			return c.TotalVolume.GreaterThanOrEqual(volume)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCandleType, series.Type)
	}
}

// partialFireTime returns the first instant percent into a time-frame
// bucket that is not before now.
func partialFireTime(series *models.CandleSeries, now time.Time, percent decimal.Decimal) time.Time {
	tf := series.TimeFrame

	var loc *time.Location
	if series.Security != nil {
		loc = series.Security.Location()
	}
	start, _ := models.CandleBounds(tf, now, loc)

	offset := time.Duration(decimal.NewFromInt(int64(tf)).Mul(percent).Div(hundred).IntPart())
	diff := start.Add(offset).Sub(now)

	switch {
	case diff == 0:
		return now.Add(tf)
	case diff > 0:
		return now.Add(diff)
	default:
		return now.Add(tf + diff)
	}
}

func checkPartial(series *models.CandleSeries, clock models.Clock, percent decimal.Decimal) error {
	if clock == nil {
		return ErrNoConnector
	}
	if !percent.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPercent, percent)
	}
	if series.Type == models.CandleTimeFrame && series.TimeFrame <= 0 {
		return fmt.Errorf("series %s: %w", series, ErrInvalidInterval)
	}
	return nil
}

// WhenCandlePartiallyFinished fires when the candle is percent complete.
// Time-frame candles are timed on the clock, other candles are checked
// on every change.
func WhenCandlePartiallyFinished(candle *models.Candle, clock models.Clock, percent decimal.Decimal) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	series, err := candleSeries(candle)
	if err != nil {
		return nil, err
	}
	if err := checkPartial(series, clock, percent); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s %s%% finished", candle, percent)
	if series.Type != models.CandleTimeFrame {
		cond, err := partialCondition(series, percent)
		if err != nil {
			return nil, err
		}
		return changedCandleRule(candle, name, cond)
	}

	r := newRule[*models.CandleSeries, *models.Candle](series, name)
	tm := timer.New(clock, func() { r.activate(candle) })
	tm.At(partialFireTime(series, clock.Now(), percent)).Start()
	r.onDispose(tm.Dispose)
	return r, nil
}

// WhenCandlesPartiallyFinished fires when each candle of the series is
// percent complete, with the current candle of the series.
func WhenCandlesPartiallyFinished(series *models.CandleSeries, clock models.Clock, percent decimal.Decimal) (*MarketRule[*models.CandleSeries, *models.Candle], error) {
	if series == nil {
		return nil, ErrNoSeries
	}
	if err := checkPartial(series, clock, percent); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s candles %s%% finished", series, percent)
	if series.Type != models.CandleTimeFrame {
		cond, err := partialCondition(series, percent)
		if err != nil {
			return nil, err
		}
		return newSeriesRule(series, name, func(c *models.Candle) bool {
			return c.State == models.CandleActive && cond(c)
		}), nil
	}

	r := newRule[*models.CandleSeries, *models.Candle](series, name)
	tm := timer.New(clock, func() {
		if c := series.CurrentCandle(); c != nil {
			r.activate(c)
		}
	})
	tm.Every(partialFireTime(series, clock.Now(), percent), series.TimeFrame).Start()
	r.onDispose(tm.Dispose)
	return r, nil
}
