package rules

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"

	"github.com/mohamedkhairy/market-rules/internal/models"
)

// orderBinding holds the subscriptions of an order rule. It starts
// Unbound, waiting for the order to be attached to a connector, and moves
// to Bound exactly once.
type orderBinding struct {
	mu       sync.Mutex
	bound    bool
	disposed bool
	pending  func()
	cancels  []func()
}

func bindOrder(rule Rule, order *models.Order, subscribe func(conn models.Connector) []func()) {
	b := &orderBinding{}
	rule.core().onDispose(b.dispose)

	if order.Connector() == nil {
		b.mu.Lock()
		if !b.disposed {
			b.pending = order.OnAttached(func(conn models.Connector) {
				if b.bind(conn, subscribe) {
					logRule(rule.Container(), rule, zapcore.DebugLevel, "subscribed on connector attach")
				}
			})
		}
		b.mu.Unlock()
	}

	// the order may have been attached while the observer was registered
	if conn := order.Connector(); conn != nil {
		b.bind(conn, subscribe)
	}
}

func (b *orderBinding) bind(conn models.Connector, subscribe func(conn models.Connector) []func()) bool {
	b.mu.Lock()
	if b.bound || b.disposed {
		b.mu.Unlock()
		return false
	}
	b.bound = true
	b.cancels = subscribe(conn)
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if pending != nil {
		pending()
	}
	return true
}

func (b *orderBinding) dispose() {
	b.mu.Lock()
	b.disposed = true
	cancels := b.cancels
	pending := b.pending
	b.cancels, b.pending = nil, nil
	b.mu.Unlock()

	if pending != nil {
		pending()
	}
	for _, cancel := range cancels {
		cancel()
	}
}

func orderFeeds(conn models.Connector, order *models.Order) (changed, added models.Feed[*models.Order]) {
	if order.IsConditional() {
		return conn.StopOrdersChanged(), conn.NewStopOrders()
	}
	return conn.OrdersChanged(), conn.NewOrders()
}

func containsOrder(orders []*models.Order, order *models.Order) bool {
	for _, o := range orders {
		if o == order {
			return true
		}
	}
	return false
}

// newOrderRule creates a rule that also finishes once the order is Done or Failed
func newOrderRule[A any](order *models.Order, name string) *MarketRule[*models.Order, A] {
	r := newRule[*models.Order, A](order, name+" "+order.String())
	r.setTerminal(order.IsTerminal)
	return r
}

func changedOrNewOrderRule(order *models.Order, name string, cond func(*models.Order) bool) (*MarketRule[*models.Order, *models.Order], error) {
	if order == nil {
		return nil, ErrNilOrder
	}

	r := newOrderRule[*models.Order](order, name)
	handler := func(orders []*models.Order) {
		if containsOrder(orders, order) && cond(order) {
			r.activate(order)
		}
	}

	bindOrder(r, order, func(conn models.Connector) []func() {
		changed, added := orderFeeds(conn, order)
		return []func(){changed.Subscribe(handler), added.Subscribe(handler)}
	})
	return r, nil
}

// WhenOrderRegistered fires once when the order becomes Active
func WhenOrderRegistered(order *models.Order) (*MarketRule[*models.Order, *models.Order], error) {
	r, err := changedOrNewOrderRule(order, "order registered", func(o *models.Order) bool {
		return o.State() == models.OrderActive
	})
	if err != nil {
		return nil, err
	}
	return r.Once(), nil
}

// WhenOrderActivated fires once when a conditional order produces its derived order
func WhenOrderActivated(stopOrder *models.Order) (*MarketRule[*models.Order, *models.Order], error) {
	r, err := changedOrNewOrderRule(stopOrder, "stop order activated", func(o *models.Order) bool {
		return o.DerivedOrder() != nil
	})
	if err != nil {
		return nil, err
	}
	return r.Once(), nil
}

// WhenOrderPartiallyMatched fires whenever the order balance moves
func WhenOrderPartiallyMatched(order *models.Order) (*MarketRule[*models.Order, *models.Order], error) {
	if order == nil {
		return nil, ErrNilOrder
	}

	var mu sync.Mutex
	balance := order.Volume
	hasVolume := !balance.IsZero()

	return changedOrNewOrderRule(order, "order partially matched", func(o *models.Order) bool {
		mu.Lock()
		defer mu.Unlock()

		if !hasVolume {
			balance = o.Volume
			hasVolume = !balance.IsZero()
		}

		current := o.Balance()
		changed := hasVolume && !current.Equal(balance)
		balance = current
		return changed
	})
}

// WhenOrderCanceled fires once when the order is done with volume left over
func WhenOrderCanceled(order *models.Order) (*MarketRule[*models.Order, *models.Order], error) {
	r, err := changedOrNewOrderRule(order, "order canceled", (*models.Order).IsCanceled)
	if err != nil {
		return nil, err
	}
	return r.Once(), nil
}

// WhenOrderMatched fires once when the order is fully filled
func WhenOrderMatched(order *models.Order) (*MarketRule[*models.Order, *models.Order], error) {
	r, err := changedOrNewOrderRule(order, "order matched", (*models.Order).IsMatched)
	if err != nil {
		return nil, err
	}
	return r.Once(), nil
}

// WhenOrderChanged fires on every change of the order
func WhenOrderChanged(order *models.Order) (*MarketRule[*models.Order, *models.Order], error) {
	return changedOrNewOrderRule(order, "order changed", func(*models.Order) bool { return true })
}

func failOrderRule(order *models.Order, name string, feed func(conn models.Connector) models.Feed[*models.OrderFail]) (*MarketRule[*models.Order, *models.OrderFail], error) {
	if order == nil {
		return nil, ErrNilOrder
	}

	r := newOrderRule[*models.OrderFail](order, name)
	bindOrder(r, order, func(conn models.Connector) []func() {
		return []func(){feed(conn).Subscribe(func(fails []*models.OrderFail) {
			for _, f := range fails {
				if f.Order == order {
					r.activate(f)
					return
				}
			}
		})}
	})
	return r, nil
}

// WhenOrderRegisterFailed fires once when registration of the order fails
func WhenOrderRegisterFailed(order *models.Order) (*MarketRule[*models.Order, *models.OrderFail], error) {
	r, err := failOrderRule(order, "order register failed", func(conn models.Connector) models.Feed[*models.OrderFail] {
		if order.IsConditional() {
			return conn.StopOrdersRegisterFailed()
		}
		return conn.OrdersRegisterFailed()
	})
	if err != nil {
		return nil, err
	}
	return r.Once(), nil
}

// WhenOrderCancelFailed fires on every failed cancellation of the order
func WhenOrderCancelFailed(order *models.Order) (*MarketRule[*models.Order, *models.OrderFail], error) {
	return failOrderRule(order, "order cancel failed", func(conn models.Connector) models.Feed[*models.OrderFail] {
		if order.IsConditional() {
			return conn.StopOrdersCancelFailed()
		}
		return conn.OrdersCancelFailed()
	})
}

// orderTrades filters own trades of an order, or of the derived order of
// a conditional order, and sums their volume.
type orderTrades struct {
	order *models.Order

	mu       sync.Mutex
	received decimal.Decimal
	seenIDs  map[int64]struct{}
	seen     map[*models.MyTrade]struct{}
	trades   []*models.MyTrade
}

func newOrderTrades(order *models.Order) *orderTrades {
	return &orderTrades{
		order:   order,
		seenIDs: make(map[int64]struct{}),
		seen:    make(map[*models.MyTrade]struct{}),
	}
}

// markSeen reports whether mt is new. Trades without an ID are only
// recognised as repeats when the same value is delivered again.
func (t *orderTrades) markSeen(mt *models.MyTrade) bool {
	if _, dup := t.seen[mt]; dup {
		return false
	}
	if id := mt.Trade.ID; id != 0 {
		if _, dup := t.seenIDs[id]; dup {
			return false
		}
		t.seenIDs[id] = struct{}{}
	}
	t.seen[mt] = struct{}{}
	return true
}

func (t *orderTrades) filter(trades []*models.MyTrade) []*models.MyTrade {
	var derived *models.Order
	if t.order.IsConditional() {
		derived = t.order.DerivedOrder()
	}

	var out []*models.MyTrade
	for _, mt := range trades {
		if mt == nil || mt.Trade == nil {
			continue
		}
		if mt.Order == t.order || (derived != nil && mt.Order == derived) {
			out = append(out, mt)
		}
	}
	return out
}

// add accumulates unseen trades and returns them
func (t *orderTrades) add(trades []*models.MyTrade, keep bool) []*models.MyTrade {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fresh []*models.MyTrade
	for _, mt := range trades {
		if !t.markSeen(mt) {
			continue
		}
		t.received = t.received.Add(mt.Trade.Volume)
		fresh = append(fresh, mt)
	}
	if keep {
		t.trades = append(t.trades, fresh...)
	}
	return fresh
}

func (t *orderTrades) snapshot() []*models.MyTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*models.MyTrade(nil), t.trades...)
}

// allReceived reports whether the order is terminal and its matched
// volume equals the volume of the trades seen so far.
func (t *orderTrades) allReceived() bool {
	if !t.order.IsTerminal() {
		return false
	}

	t.mu.Lock()
	received := t.received
	t.mu.Unlock()

	return t.order.MatchedVolume().Equal(received)
}

func (t *orderTrades) finished() bool {
	return t.order.State() == models.OrderFailed || t.allReceived()
}

// WhenOrderNewTrades fires with every batch of new own trades of the order
func WhenOrderNewTrades(order *models.Order) (*MarketRule[*models.Order, []*models.MyTrade], error) {
	if order == nil {
		return nil, ErrNilOrder
	}

	tracker := newOrderTrades(order)
	r := newRule[*models.Order, []*models.MyTrade](order, "order new trades "+order.String())
	r.setTerminal(tracker.finished)

	bindOrder(r, order, func(conn models.Connector) []func() {
		return []func(){conn.NewMyTrades().Subscribe(func(trades []*models.MyTrade) {
			if fresh := tracker.add(tracker.filter(trades), false); len(fresh) > 0 {
				r.activate(fresh)
			}
		})}
	})
	return r, nil
}

// WhenOrderAllTrades fires once, with every trade of the order, when the
// order is terminal and the received volume covers its matched volume.
func WhenOrderAllTrades(order *models.Order) (*MarketRule[*models.Order, []*models.MyTrade], error) {
	if order == nil {
		return nil, ErrNilOrder
	}

	tracker := newOrderTrades(order)
	r := newRule[*models.Order, []*models.MyTrade](order, "order all trades "+order.String())
	r.setTerminal(tracker.finished)

	tryActivate := func() {
		if tracker.allReceived() {
			r.activate(tracker.snapshot())
		}
	}

	bindOrder(r, order, func(conn models.Connector) []func() {
		onOrders := func(orders []*models.Order) {
			if containsOrder(orders, order) {
				tryActivate()
			}
		}
		changed, added := orderFeeds(conn, order)

		return []func(){
			changed.Subscribe(onOrders),
			added.Subscribe(onOrders),
			conn.NewMyTrades().Subscribe(func(trades []*models.MyTrade) {
				if filtered := tracker.filter(trades); len(filtered) > 0 {
					tracker.add(filtered, true)
					tryActivate()
				}
			}),
		}
	})
	return r, nil
}
