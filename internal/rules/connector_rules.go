package rules

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/timer"
)

// WhenIntervalElapsed fires every interval of connector time
func WhenIntervalElapsed(conn models.Connector, interval time.Duration) (*MarketRule[models.Connector, models.Connector], error) {
	if conn == nil {
		return nil, ErrNoConnector
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	r := newRule[models.Connector, models.Connector](conn, "interval "+interval.String())
	tm := timer.New(conn, func() { r.activate(conn) })
	tm.Interval(interval).Start()
	r.onDispose(tm.Dispose)
	return r, nil
}

// WhenNewMyTrades fires with every batch of own trades
func WhenNewMyTrades(conn models.Connector) (*MarketRule[models.Connector, []*models.MyTrade], error) {
	if conn == nil {
		return nil, ErrNoConnector
	}

	r := newRule[models.Connector, []*models.MyTrade](conn, "new my trades")
	r.onDispose(conn.NewMyTrades().Subscribe(func(trades []*models.MyTrade) {
		if len(trades) > 0 {
			r.activate(trades)
		}
	}))
	return r, nil
}

// WhenNewOrders fires with every batch of new orders
func WhenNewOrders(conn models.Connector) (*MarketRule[models.Connector, []*models.Order], error) {
	if conn == nil {
		return nil, ErrNoConnector
	}

	r := newRule[models.Connector, []*models.Order](conn, "new orders")
	r.onDispose(conn.NewOrders().Subscribe(func(orders []*models.Order) {
		if len(orders) > 0 {
			r.activate(orders)
		}
	}))
	return r, nil
}

// WhenNewTrades fires with every batch of public trades
func WhenNewTrades(conn models.Connector) (*MarketRule[models.Connector, []*models.Trade], error) {
	if conn == nil {
		return nil, ErrNoConnector
	}

	r := newRule[models.Connector, []*models.Trade](conn, "new trades")
	r.onDispose(conn.NewTrades().Subscribe(func(trades []*models.Trade) {
		if len(trades) > 0 {
			r.activate(trades)
		}
	}))
	return r, nil
}
