package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/timer"
)

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestEmulator() (*Emulator, *timer.SimClock) {
	clock := timer.NewSimClock(epoch)
	return NewEmulator("test", clock), clock
}

func newTestOrder(sec *models.Security, typ models.OrderType, volume int64) *models.Order {
	return models.NewOrder(1, sec, nil, typ, models.Buy, decimal.NewFromInt(100), decimal.NewFromInt(volume))
}

func TestEmulator_RegisterOrder(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)

	var added []*models.Order
	emu.NewOrders().Subscribe(func(orders []*models.Order) { added = append(added, orders...) })

	order := newTestOrder(sec, models.OrderLimit, 10)
	require.NoError(t, emu.RegisterOrder(order))

	assert.Equal(t, models.OrderActive, order.State())
	assert.Equal(t, int64(1), order.ID())
	assert.Same(t, emu, order.Connector())
	require.Len(t, added, 1)
	assert.Same(t, order, added[0])
}

func TestEmulator_StopOrdersUseOwnFeeds(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)

	var regular, stop int
	emu.NewOrders().Subscribe(func(orders []*models.Order) { regular += len(orders) })
	emu.NewStopOrders().Subscribe(func(orders []*models.Order) { stop += len(orders) })

	require.NoError(t, emu.RegisterOrder(newTestOrder(sec, models.OrderConditional, 5)))

	assert.Equal(t, 0, regular)
	assert.Equal(t, 1, stop)
}

func TestEmulator_MatchOrder(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)
	order := newTestOrder(sec, models.OrderLimit, 10)
	require.NoError(t, emu.RegisterOrder(order))

	var events []string
	emu.NewMyTrades().Subscribe(func([]*models.MyTrade) { events = append(events, "trade") })
	emu.OrdersChanged().Subscribe(func([]*models.Order) { events = append(events, "order") })

	own, err := emu.MatchOrder(order, decimal.NewFromInt(100), decimal.NewFromInt(4))
	require.NoError(t, err)
	assert.True(t, own.Trade.Volume.Equal(decimal.NewFromInt(4)))
	assert.True(t, order.Balance().Equal(decimal.NewFromInt(6)))
	assert.Equal(t, models.OrderActive, order.State())

	_, err = emu.MatchOrder(order, decimal.NewFromInt(100), decimal.NewFromInt(7))
	assert.True(t, errors.Is(err, ErrInvalidVolume))

	_, err = emu.MatchOrder(order, decimal.NewFromInt(100), decimal.NewFromInt(6))
	require.NoError(t, err)
	assert.Equal(t, models.OrderDone, order.State())
	assert.True(t, order.IsMatched())

	assert.Equal(t, []string{"trade", "order", "trade", "order"}, events)

	_, err = emu.MatchOrder(order, decimal.NewFromInt(100), decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, ErrOrderNotActive))
}

func TestEmulator_CancelOrder(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)
	order := newTestOrder(sec, models.OrderLimit, 10)

	err := emu.CancelOrder(order)
	assert.True(t, errors.Is(err, ErrOrderNotActive))

	require.NoError(t, emu.RegisterOrder(order))
	require.NoError(t, emu.CancelOrder(order))
	assert.True(t, order.IsCanceled())
}

func TestEmulator_FailRegistration(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)
	order := newTestOrder(sec, models.OrderLimit, 10)

	var fails []*models.OrderFail
	emu.OrdersRegisterFailed().Subscribe(func(f []*models.OrderFail) { fails = append(fails, f...) })

	cause := errors.New("insufficient funds")
	emu.FailRegistration(order, cause)

	require.Len(t, fails, 1)
	assert.Same(t, order, fails[0].Order)
	assert.Equal(t, cause, fails[0].Err)
	assert.Equal(t, epoch, fails[0].Time)
	assert.Equal(t, models.OrderFailed, order.State())
}

func TestEmulator_Level1(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)

	_, ok := emu.SecurityValue(sec, models.Level1BestBidPrice)
	assert.False(t, ok)

	var changed int
	emu.SecuritiesChanged().Subscribe(func(s []*models.Security) { changed += len(s) })

	emu.UpdateLevel1(sec, map[models.Level1Field]decimal.Decimal{
		models.Level1BestBidPrice: decimal.NewFromInt(99),
	})
	v, ok := emu.SecurityValue(sec, models.Level1BestBidPrice)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, 1, changed)

	emu.AddTrades(&models.Trade{Security: sec, Price: decimal.NewFromInt(101), Volume: decimal.NewFromInt(1)})
	v, ok = emu.SecurityValue(sec, models.Level1LastTradePrice)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(101)))
}

func TestEmulator_EmptyBatchesAreNotPublished(t *testing.T) {
	emu, _ := newTestEmulator()

	calls := 0
	emu.NewTrades().Subscribe(func([]*models.Trade) { calls++ })
	emu.PortfoliosChanged().Subscribe(func([]*models.Portfolio) { calls++ })

	emu.AddTrades()
	emu.ChangePortfolios()
	assert.Equal(t, 0, calls)
}

func TestEmulator_ClockDelegation(t *testing.T) {
	emu, clock := newTestEmulator()

	var ticks []time.Time
	cancel := emu.OnTick(func(now time.Time) { ticks = append(ticks, now) })
	clock.Advance(time.Second)
	cancel()
	clock.Advance(time.Second)

	assert.Equal(t, epoch.Add(2*time.Second), emu.Now())
	assert.Equal(t, []time.Time{epoch.Add(time.Second)}, ticks)
}

func TestCandleBuilder_FinishesOnNewBucket(t *testing.T) {
	sec := models.NewSecurity("AAPL", "AAPL", nil)
	series := models.NewTimeFrameSeries(sec, time.Minute)
	builder := NewCandleBuilder(series)

	var processed []models.CandleState
	series.OnProcessing(func(c *models.Candle) { processed = append(processed, c.State) })

	trade := func(at time.Time, price int64) *models.Trade {
		return &models.Trade{Security: sec, Price: decimal.NewFromInt(price), Volume: decimal.NewFromInt(1), Time: at}
	}

	builder.AddTrades([]*models.Trade{
		trade(epoch.Add(5*time.Second), 10),
		trade(epoch.Add(20*time.Second), 12),
		trade(epoch.Add(70*time.Second), 11),
	})

	assert.Equal(t, []models.CandleState{
		models.CandleActive,
		models.CandleActive,
		models.CandleFinished,
		models.CandleActive,
	}, processed)

	current := series.CurrentCandle()
	require.NotNil(t, current)
	assert.Equal(t, epoch.Add(time.Minute), current.OpenTime)
	assert.True(t, current.Open.Equal(decimal.NewFromInt(11)))

	builder.Flush()
	assert.Equal(t, models.CandleFinished, series.CurrentCandle().State)
}

func TestCandleBuilder_IgnoresOtherSecurities(t *testing.T) {
	sec := models.NewSecurity("AAPL", "AAPL", nil)
	other := models.NewSecurity("MSFT", "MSFT", nil)
	builder := NewCandleBuilder(models.NewTimeFrameSeries(sec, time.Minute))

	builder.AddTrades([]*models.Trade{{Security: other, Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1), Time: epoch}})
	assert.Nil(t, builder.Series().CurrentCandle())
}

func TestFeeder_Step(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)

	cfg := DefaultFeederConfig()
	cfg.Seed = 42
	feeder := NewFeeder(emu, cfg, sec)

	var trades, depths int
	emu.NewTrades().Subscribe(func(t []*models.Trade) { trades += len(t) })
	emu.MarketDepthsChanged().Subscribe(func(d []*models.MarketDepth) { depths += len(d) })

	feeder.Step()
	feeder.Step()

	assert.Equal(t, 2, trades)
	assert.Equal(t, 2, depths)

	bid, ok := emu.SecurityValue(sec, models.Level1BestBidPrice)
	require.True(t, ok)
	ask, ok := emu.SecurityValue(sec, models.Level1BestAskPrice)
	require.True(t, ok)
	assert.True(t, ask.GreaterThan(bid))

	spread, ok := feeder.Depth(sec).Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(cfg.Spread))

	last, ok := emu.SecurityValue(sec, models.Level1LastTradePrice)
	require.True(t, ok)
	assert.True(t, last.Equal(feeder.Price(sec)))
}

func TestFeeder_StartStop(t *testing.T) {
	emu, _ := newTestEmulator()
	sec := models.NewSecurity("AAPL", "AAPL", nil)

	cfg := DefaultFeederConfig()
	cfg.Interval = 5 * time.Millisecond
	feeder := NewFeeder(emu, cfg, sec)

	require.NoError(t, feeder.Start(context.Background()))
	assert.ErrorIs(t, feeder.Start(context.Background()), ErrFeederRunning)

	require.Eventually(t, func() bool {
		_, ok := emu.SecurityValue(sec, models.Level1LastTradePrice)
		return ok
	}, time.Second, 5*time.Millisecond)

	feeder.Stop()
	feeder.Stop()
}
