package connector

import (
	"sync"
	"time"

	"github.com/mohamedkhairy/market-rules/internal/models"
)

// CandleBuilder folds trades of one security into time-frame candles and
// processes them through the series. A trade in a new bucket finishes the
// current candle before opening the next one.
type CandleBuilder struct {
	series *models.CandleSeries

	mu      sync.Mutex
	current *models.Candle
}

// NewCandleBuilder creates a builder for a time-frame series
func NewCandleBuilder(series *models.CandleSeries) *CandleBuilder {
	if series == nil || series.Type != models.CandleTimeFrame || series.TimeFrame <= 0 {
		panic("candle builder needs a time-frame series")
	}
	return &CandleBuilder{series: series}
}

// Series returns the built series
func (b *CandleBuilder) Series() *models.CandleSeries {
	return b.series
}

// AddTrades folds the trades of the series security, in order
func (b *CandleBuilder) AddTrades(trades []*models.Trade) {
	for _, t := range trades {
		if t == nil || t.Security != b.series.Security {
			continue
		}
		b.add(t)
	}
}

func (b *CandleBuilder) add(t *models.Trade) {
	var loc *time.Location
	if b.series.Security != nil {
		loc = b.series.Security.Location()
	}
	start, end := models.CandleBounds(b.series.TimeFrame, t.Time, loc)

	b.mu.Lock()
	var finished *models.Candle
	if b.current != nil && !b.current.OpenTime.Equal(start) {
		finished = b.current
		finished.State = models.CandleFinished
		b.current = nil
	}
	if b.current == nil {
		b.current = models.NewCandle(b.series, start, t.Price)
		b.current.CloseTime = end
	}
	b.current.Add(t.Price, t.Volume)
	current := b.current
	b.mu.Unlock()

	if finished != nil {
		b.series.Process(finished)
	}
	b.series.Process(current)
}

// Flush finishes the current candle, if any
func (b *CandleBuilder) Flush() {
	b.mu.Lock()
	c := b.current
	b.current = nil
	b.mu.Unlock()

	if c != nil {
		c.State = models.CandleFinished
		b.series.Process(c)
	}
}
