package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/timer"
)

func checkSecurity(sec *models.Security, conn models.Connector) error {
	if sec == nil {
		return models.ErrNilSecurity
	}
	if conn == nil {
		return ErrNoConnector
	}
	return nil
}

// securityChangedRule fires with the first changed security that matches
// sec (for a basket, the matching constituent) and satisfies cond.
func securityChangedRule(sec *models.Security, conn models.Connector, name string, cond func(*models.Security) bool) *MarketRule[*models.Security, *models.Security] {
	r := newRule[*models.Security, *models.Security](sec, name)
	r.onDispose(conn.SecuritiesChanged().Subscribe(func(securities []*models.Security) {
		for _, s := range securities {
			if m, ok := sec.Match(s); ok && cond(m) {
				r.activate(m)
				return
			}
		}
	}))
	return r
}

// WhenSecurityChanged fires when the security or a basket constituent changes
func WhenSecurityChanged(sec *models.Security, conn models.Connector) (*MarketRule[*models.Security, *models.Security], error) {
	if err := checkSecurity(sec, conn); err != nil {
		return nil, err
	}
	return securityChangedRule(sec, conn, "security changed "+sec.String(), func(*models.Security) bool { return true }), nil
}

// WhenSecurityNewTrades fires with the new public trades of the security.
// Every batch is filtered trade by trade whatever its size.
func WhenSecurityNewTrades(sec *models.Security, conn models.Connector) (*MarketRule[*models.Security, []*models.Trade], error) {
	if err := checkSecurity(sec, conn); err != nil {
		return nil, err
	}

	r := newRule[*models.Security, []*models.Trade](sec, "security new trades "+sec.String())
	r.onDispose(conn.NewTrades().Subscribe(func(trades []*models.Trade) {
		var matched []*models.Trade
		for _, t := range trades {
			if t != nil && sec.Contains(t.Security) {
				matched = append(matched, t)
			}
		}
		if len(matched) > 0 {
			r.activate(matched)
		}
	}))
	return r, nil
}

// WhenSecurityOrderLog fires with new order log rows of the security
func WhenSecurityOrderLog(sec *models.Security, conn models.Connector) (*MarketRule[*models.Security, []*models.OrderLogItem], error) {
	if err := checkSecurity(sec, conn); err != nil {
		return nil, err
	}

	r := newRule[*models.Security, []*models.OrderLogItem](sec, "security order log "+sec.String())
	r.onDispose(conn.NewOrderLogItems().Subscribe(func(items []*models.OrderLogItem) {
		var matched []*models.OrderLogItem
		for _, item := range items {
			if item != nil && item.Order != nil && sec.Contains(item.Order.Security) {
				matched = append(matched, item)
			}
		}
		if len(matched) > 0 {
			r.activate(matched)
		}
	}))
	return r, nil
}

// WhenSecurityDepthChanged fires with the first changed book of the security
func WhenSecurityDepthChanged(sec *models.Security, conn models.Connector) (*MarketRule[*models.Security, *models.MarketDepth], error) {
	if err := checkSecurity(sec, conn); err != nil {
		return nil, err
	}

	r := newRule[*models.Security, *models.MarketDepth](sec, "security depth changed "+sec.String())
	r.onDispose(conn.MarketDepthsChanged().Subscribe(func(depths []*models.MarketDepth) {
		for _, d := range depths {
			if d != nil && sec.Contains(d.Security) {
				r.activate(d)
				return
			}
		}
	}))
	return r, nil
}

// WhenBasketDepthChanged fires with every changed book of the basket constituents
func WhenBasketDepthChanged(basket *models.Security, conn models.Connector) (*MarketRule[*models.Security, []*models.MarketDepth], error) {
	if err := checkSecurity(basket, conn); err != nil {
		return nil, err
	}
	if !basket.IsBasket() {
		return nil, fmt.Errorf("%w: %s", ErrNotBasket, basket)
	}

	r := newRule[*models.Security, []*models.MarketDepth](basket, "basket depth changed "+basket.String())
	r.onDispose(conn.MarketDepthsChanged().Subscribe(func(depths []*models.MarketDepth) {
		var matched []*models.MarketDepth
		for _, d := range depths {
			if d != nil && basket.Contains(d.Security) {
				matched = append(matched, d)
			}
		}
		if len(matched) > 0 {
			r.activate(matched)
		}
	}))
	return r, nil
}

// priceLevel resolves a price unit against the current value of field.
// Every unit must be positive, and a relative unit needs a current value.
func priceLevel(provider models.MarketDataProvider, sec *models.Security, field models.Level1Field, unit models.Unit, below bool) (decimal.Decimal, error) {
	if err := unit.Validate(); err != nil {
		return decimal.Zero, err
	}
	if !unit.Value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrInvalidOffset, unit)
	}

	current, ok := provider.SecurityValue(sec, field)
	if !ok && !unit.IsLimit() {
		return decimal.Zero, fmt.Errorf("%s of %s: %w", field, sec, models.ErrNoCurrentValue)
	}
	if below {
		return unit.Below(current), nil
	}
	return unit.Above(current), nil
}

func level1Condition(provider models.MarketDataProvider, field models.Level1Field, finish decimal.Decimal, below bool) func(*models.Security) bool {
	return func(s *models.Security) bool {
		v, ok := provider.SecurityValue(s, field)
		if !ok {
			return false
		}
		if below {
			return v.LessThan(finish)
		}
		return v.GreaterThan(finish)
	}
}

func quoteRule(sec *models.Security, conn models.Connector, field models.Level1Field, price models.Unit, below bool) (*MarketRule[*models.Security, *models.Security], error) {
	if err := checkSecurity(sec, conn); err != nil {
		return nil, err
	}

	finish, err := priceLevel(conn, sec, field, price, below)
	if err != nil {
		return nil, err
	}

	op := ">"
	if below {
		op = "<"
	}
	name := fmt.Sprintf("%s %s %s %s", sec, field, op, finish)
	return securityChangedRule(sec, conn, name, level1Condition(conn, field, finish, below)), nil
}

// WhenBestBidPriceMore fires when the best bid rises strictly above the level
func WhenBestBidPriceMore(sec *models.Security, conn models.Connector, price models.Unit) (*MarketRule[*models.Security, *models.Security], error) {
	return quoteRule(sec, conn, models.Level1BestBidPrice, price, false)
}

// WhenBestBidPriceLess fires when the best bid drops strictly below the level
func WhenBestBidPriceLess(sec *models.Security, conn models.Connector, price models.Unit) (*MarketRule[*models.Security, *models.Security], error) {
	return quoteRule(sec, conn, models.Level1BestBidPrice, price, true)
}

// WhenBestAskPriceMore fires when the best ask rises strictly above the level
func WhenBestAskPriceMore(sec *models.Security, conn models.Connector, price models.Unit) (*MarketRule[*models.Security, *models.Security], error) {
	return quoteRule(sec, conn, models.Level1BestAskPrice, price, false)
}

// WhenBestAskPriceLess fires when the best ask drops strictly below the level
func WhenBestAskPriceLess(sec *models.Security, conn models.Connector, price models.Unit) (*MarketRule[*models.Security, *models.Security], error) {
	return quoteRule(sec, conn, models.Level1BestAskPrice, price, true)
}

func lastTradeRule(sec *models.Security, conn models.Connector, provider models.MarketDataProvider, price models.Unit, below bool) (*MarketRule[*models.Security, *models.Security], error) {
	if err := checkSecurity(sec, conn); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrNoProvider
	}

	finish, err := priceLevel(provider, sec, models.Level1LastTradePrice, price, below)
	if err != nil {
		return nil, err
	}
	cond := level1Condition(provider, models.Level1LastTradePrice, finish, below)

	op := ">"
	if below {
		op = "<"
	}
	r := securityChangedRule(sec, conn, fmt.Sprintf("%s last trade %s %s", sec, op, finish), cond)
	r.onDispose(conn.NewTrades().Subscribe(func(trades []*models.Trade) {
		for _, t := range trades {
			if t == nil {
				continue
			}
			if m, ok := sec.Match(t.Security); ok && cond(m) {
				r.activate(m)
				return
			}
		}
	}))
	return r, nil
}

// WhenLastTradePriceMore fires when the last trade price rises strictly above the level
func WhenLastTradePriceMore(sec *models.Security, conn models.Connector, provider models.MarketDataProvider, price models.Unit) (*MarketRule[*models.Security, *models.Security], error) {
	return lastTradeRule(sec, conn, provider, price, false)
}

// WhenLastTradePriceLess fires when the last trade price drops strictly below the level
func WhenLastTradePriceLess(sec *models.Security, conn models.Connector, provider models.MarketDataProvider, price models.Unit) (*MarketRule[*models.Security, *models.Security], error) {
	return lastTradeRule(sec, conn, provider, price, true)
}

// WhenTimeCome fires at each of times that is still in the future, in
// chronological order and once per distinct instant, then finishes.
func WhenTimeCome(sec *models.Security, conn models.Connector, times ...time.Time) (*MarketRule[*models.Security, time.Time], error) {
	if err := checkSecurity(sec, conn); err != nil {
		return nil, err
	}

	now := conn.Now()
	schedule := futureTimes(now, times)

	r := newRule[*models.Security, time.Time](sec, "time come "+sec.String())

	var mu sync.Mutex
	next := 0
	r.setTerminal(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return next >= len(schedule)
	})

	if len(schedule) == 0 {
		return r, nil
	}

	var tm *timer.Timer
	tm = timer.New(conn, func() {
		mu.Lock()
		if next >= len(schedule) {
			mu.Unlock()
			return
		}
		at := schedule[next]
		next++
		more := next < len(schedule)
		if more {
			tm.At(schedule[next]).Start()
		}
		mu.Unlock()

		r.activate(at)
	})
	tm.At(schedule[0]).Start()
	r.onDispose(tm.Dispose)
	return r, nil
}

func futureTimes(now time.Time, times []time.Time) []time.Time {
	sorted := make([]time.Time, 0, len(times))
	for _, t := range times {
		if t.After(now) {
			sorted = append(sorted, t)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	out := sorted[:0]
	for i, t := range sorted {
		if i > 0 && t.Equal(sorted[i-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}
