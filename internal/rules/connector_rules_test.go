package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/market-rules/internal/models"
)

func TestWhenIntervalElapsed(t *testing.T) {
	c := newTestContainer()
	emu, clock := newTestConnector()

	r, err := WhenIntervalElapsed(emu, time.Second)
	require.NoError(t, err)
	var at []time.Time
	r.Do(func(models.Connector) { at = append(at, clock.Now()) })
	require.NoError(t, r.Apply(c))

	clock.Advance(500 * time.Millisecond)
	clock.Advance(500 * time.Millisecond)
	clock.Advance(1500 * time.Millisecond)
	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []time.Time{
		epoch.Add(time.Second),
		epoch.Add(2500 * time.Millisecond),
		epoch.Add(3 * time.Second),
	}, at)

	r.Dispose()
	clock.Advance(time.Minute)
	assert.Len(t, at, 3)
}

func TestWhenIntervalElapsed_Once(t *testing.T) {
	c := newTestContainer()
	emu, clock := newTestConnector()

	r, err := WhenIntervalElapsed(emu, time.Second)
	require.NoError(t, err)
	calls := 0
	r.Once().Do(func(models.Connector) { calls++ })
	require.NoError(t, r.Apply(c))

	clock.Advance(time.Second)
	clock.Advance(time.Second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, c.Len())
}

func TestWhenIntervalElapsed_Errors(t *testing.T) {
	emu, _ := newTestConnector()

	_, err := WhenIntervalElapsed(nil, time.Second)
	assert.ErrorIs(t, err, ErrNoConnector)
	_, err = WhenIntervalElapsed(emu, 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestWhenNewOrdersAndTrades(t *testing.T) {
	c := newTestContainer()
	emu, _ := newTestConnector()

	orders, err := WhenNewOrders(emu)
	require.NoError(t, err)
	myTrades, err := WhenNewMyTrades(emu)
	require.NoError(t, err)
	trades, err := WhenNewTrades(emu)
	require.NoError(t, err)

	var orderBatches, myTradeBatches, tradeBatches int
	orders.Do(func(o []*models.Order) { orderBatches++ })
	myTrades.Do(func(mt []*models.MyTrade) { myTradeBatches++ })
	trades.Do(func(tr []*models.Trade) { tradeBatches++ })
	require.NoError(t, orders.Apply(c))
	require.NoError(t, myTrades.Apply(c))
	require.NoError(t, trades.Apply(c))

	order := newOrder(models.OrderLimit, 5)
	require.NoError(t, emu.RegisterOrder(order))
	_, err = emu.MatchOrder(order, d(100), d(5))
	require.NoError(t, err)
	emu.AddTrades(&models.Trade{Security: order.Security, Price: d(100), Volume: d(1)})

	assert.Equal(t, 1, orderBatches)
	assert.Equal(t, 1, myTradeBatches)
	assert.Equal(t, 1, tradeBatches)

	_, err = WhenNewOrders(nil)
	assert.ErrorIs(t, err, ErrNoConnector)
}
