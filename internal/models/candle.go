package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CandleType is the aggregation rule of a candle series
type CandleType int

const (
	CandleTimeFrame CandleType = iota
	CandleTick
	CandleRange
	CandleVolume
)

func (t CandleType) String() string {
	switch t {
	case CandleTimeFrame:
		return "timeframe"
	case CandleTick:
		return "tick"
	case CandleRange:
		return "range"
	case CandleVolume:
		return "volume"
	default:
		return fmt.Sprintf("candle(%d)", int(t))
	}
}

// CandleState is the build state of a candle
type CandleState int

const (
	CandleActive CandleState = iota
	CandleFinished
)

func (s CandleState) String() string {
	if s == CandleFinished {
		return "finished"
	}
	return "active"
}

// Candle is an OHLCV bar. The series builder owns its fields and mutates
// them only between calls to CandleSeries.Process on the same goroutine.
type Candle struct {
	Series      *CandleSeries
	OpenTime    time.Time
	CloseTime   time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	TotalVolume decimal.Decimal
	TradeCount  int
	State       CandleState
}

// NewCandle opens a candle at price
func NewCandle(series *CandleSeries, openTime time.Time, price decimal.Decimal) *Candle {
	return &Candle{
		Series:   series,
		OpenTime: openTime,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		State:    CandleActive,
	}
}

// Add folds a trade into the candle
func (c *Candle) Add(price, volume decimal.Decimal) {
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.TotalVolume = c.TotalVolume.Add(volume)
	c.TradeCount++
}

func (c *Candle) String() string {
	return fmt.Sprintf("candle %s O=%s H=%s L=%s C=%s V=%s %s",
		c.OpenTime.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.TotalVolume, c.State)
}

// CandleSeries describes how candles of a security are built and
// broadcasts every processed candle.
type CandleSeries struct {
	Security *Security
	Type     CandleType

	TimeFrame  time.Duration
	TradeCount int
	Range      Unit
	Volume     decimal.Decimal

	mu         sync.RWMutex
	current    *Candle
	processing Hub[*Candle]
}

func NewTimeFrameSeries(security *Security, tf time.Duration) *CandleSeries {
	return &CandleSeries{Security: security, Type: CandleTimeFrame, TimeFrame: tf}
}

func NewTickSeries(security *Security, trades int) *CandleSeries {
	return &CandleSeries{Security: security, Type: CandleTick, TradeCount: trades}
}

func NewRangeSeries(security *Security, r Unit) *CandleSeries {
	return &CandleSeries{Security: security, Type: CandleRange, Range: r}
}

func NewVolumeSeries(security *Security, volume decimal.Decimal) *CandleSeries {
	return &CandleSeries{Security: security, Type: CandleVolume, Volume: volume}
}

// Process records c as the current candle and publishes it
func (s *CandleSeries) Process(c *Candle) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	s.processing.Publish(c)
}

// CurrentCandle returns the last processed candle, or nil
func (s *CandleSeries) CurrentCandle() *Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnProcessing registers fn for every processed candle
func (s *CandleSeries) OnProcessing(fn func(*Candle)) func() {
	return s.processing.Subscribe(fn)
}

func (s *CandleSeries) String() string {
	var arg string
	switch s.Type {
	case CandleTimeFrame:
		arg = s.TimeFrame.String()
	case CandleTick:
		arg = fmt.Sprintf("%d", s.TradeCount)
	case CandleRange:
		arg = s.Range.String()
	case CandleVolume:
		arg = s.Volume.String()
	}
	sec := ""
	if s.Security != nil {
		sec = s.Security.String()
	}
	return fmt.Sprintf("%s %s(%s)", sec, s.Type, arg)
}

// CandleBounds returns the time-frame bucket containing t, aligned to
// midnight in loc for frames up to one day.
func CandleBounds(tf time.Duration, t time.Time, loc *time.Location) (time.Time, time.Time) {
	if tf <= 0 {
		return t, t
	}
	if loc == nil {
		loc = time.UTC
	}
	if tf > 24*time.Hour {
		start := t.Truncate(tf)
		return start, start.Add(tf)
	}

	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	elapsed := local.Sub(midnight)
	start := midnight.Add(elapsed - elapsed%tf)
	return start, start.Add(tf)
}
