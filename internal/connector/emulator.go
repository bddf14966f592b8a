package connector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

var (
	// ErrOrderNotActive is returned when matching or canceling an order that is not Active
	ErrOrderNotActive = errors.New("order is not active")
	// ErrInvalidVolume is returned when a fill volume is not positive or exceeds the balance
	ErrInvalidVolume = errors.New("invalid fill volume")
)

// Emulator is an in-process connector. Every Push-style method delivers
// its batch synchronously on the calling goroutine.
type Emulator struct {
	name  string
	clock models.Clock

	mu     sync.RWMutex
	level1 map[*models.Security]map[models.Level1Field]decimal.Decimal

	nextOrderID atomic.Int64
	nextTradeID atomic.Int64

	ordersChanged     models.Hub[[]*models.Order]
	newOrders         models.Hub[[]*models.Order]
	stopOrdersChanged models.Hub[[]*models.Order]
	newStopOrders     models.Hub[[]*models.Order]

	ordersRegisterFailed     models.Hub[[]*models.OrderFail]
	stopOrdersRegisterFailed models.Hub[[]*models.OrderFail]
	ordersCancelFailed       models.Hub[[]*models.OrderFail]
	stopOrdersCancelFailed   models.Hub[[]*models.OrderFail]

	newMyTrades      models.Hub[[]*models.MyTrade]
	newTrades        models.Hub[[]*models.Trade]
	newOrderLogItems models.Hub[[]*models.OrderLogItem]

	portfoliosChanged models.Hub[[]*models.Portfolio]
	positionsChanged  models.Hub[[]*models.Position]
	securitiesChanged models.Hub[[]*models.Security]
	depthsChanged     models.Hub[[]*models.MarketDepth]
}

// NewEmulator creates an emulator that reports time from clock
func NewEmulator(name string, clock models.Clock) *Emulator {
	if clock == nil {
		panic("clock cannot be nil")
	}

	return &Emulator{
		name:   name,
		clock:  clock,
		level1: make(map[*models.Security]map[models.Level1Field]decimal.Decimal),
	}
}

func (e *Emulator) Name() string {
	return e.name
}

func (e *Emulator) Now() time.Time {
	return e.clock.Now()
}

func (e *Emulator) OnTick(fn func(now time.Time)) func() {
	return e.clock.OnTick(fn)
}

// SecurityValue returns the last known level1 value of the security
func (e *Emulator) SecurityValue(security *models.Security, field models.Level1Field) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	values, ok := e.level1[security]
	if !ok {
		return decimal.Zero, false
	}
	v, ok := values[field]
	return v, ok
}

// SetSecurityValue stores a level1 value without notifying observers
func (e *Emulator) SetSecurityValue(security *models.Security, field models.Level1Field, value decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	values, ok := e.level1[security]
	if !ok {
		values = make(map[models.Level1Field]decimal.Decimal)
		e.level1[security] = values
	}
	values[field] = value
}

// UpdateLevel1 stores level1 values and publishes the security as changed
func (e *Emulator) UpdateLevel1(security *models.Security, values map[models.Level1Field]decimal.Decimal) {
	for field, v := range values {
		e.SetSecurityValue(security, field, v)
	}
	e.ChangeSecurities(security)
}

func (e *Emulator) OrdersChanged() models.Feed[*models.Order]     { return &e.ordersChanged }
func (e *Emulator) NewOrders() models.Feed[*models.Order]         { return &e.newOrders }
func (e *Emulator) StopOrdersChanged() models.Feed[*models.Order] { return &e.stopOrdersChanged }
func (e *Emulator) NewStopOrders() models.Feed[*models.Order]     { return &e.newStopOrders }

func (e *Emulator) OrdersRegisterFailed() models.Feed[*models.OrderFail] {
	return &e.ordersRegisterFailed
}

func (e *Emulator) StopOrdersRegisterFailed() models.Feed[*models.OrderFail] {
	return &e.stopOrdersRegisterFailed
}

func (e *Emulator) OrdersCancelFailed() models.Feed[*models.OrderFail] {
	return &e.ordersCancelFailed
}

func (e *Emulator) StopOrdersCancelFailed() models.Feed[*models.OrderFail] {
	return &e.stopOrdersCancelFailed
}

func (e *Emulator) NewMyTrades() models.Feed[*models.MyTrade]           { return &e.newMyTrades }
func (e *Emulator) NewTrades() models.Feed[*models.Trade]               { return &e.newTrades }
func (e *Emulator) NewOrderLogItems() models.Feed[*models.OrderLogItem] { return &e.newOrderLogItems }
func (e *Emulator) PortfoliosChanged() models.Feed[*models.Portfolio]   { return &e.portfoliosChanged }
func (e *Emulator) PositionsChanged() models.Feed[*models.Position]     { return &e.positionsChanged }
func (e *Emulator) SecuritiesChanged() models.Feed[*models.Security]    { return &e.securitiesChanged }
func (e *Emulator) MarketDepthsChanged() models.Feed[*models.MarketDepth] {
	return &e.depthsChanged
}

// ChangeOrders publishes order changes, routing stop orders to their own feed
func (e *Emulator) ChangeOrders(orders ...*models.Order) {
	regular, stop := splitOrders(orders)
	if len(regular) > 0 {
		e.ordersChanged.Publish(regular)
	}
	if len(stop) > 0 {
		e.stopOrdersChanged.Publish(stop)
	}
}

// AddOrders publishes new orders, routing stop orders to their own feed
func (e *Emulator) AddOrders(orders ...*models.Order) {
	regular, stop := splitOrders(orders)
	if len(regular) > 0 {
		e.newOrders.Publish(regular)
	}
	if len(stop) > 0 {
		e.newStopOrders.Publish(stop)
	}
}

func splitOrders(orders []*models.Order) (regular, stop []*models.Order) {
	for _, o := range orders {
		if o == nil {
			continue
		}
		if o.IsConditional() {
			stop = append(stop, o)
		} else {
			regular = append(regular, o)
		}
	}
	return regular, stop
}

// RegisterOrder attaches the order, assigns an exchange ID and activates it
func (e *Emulator) RegisterOrder(order *models.Order) error {
	if order == nil {
		return errors.New("order is nil")
	}
	if err := order.Attach(e); err != nil {
		return err
	}

	order.SetID(e.nextOrderID.Add(1))
	order.SetState(models.OrderActive)
	e.AddOrders(order)

	logger.Debug("Order registered",
		logger.String("connector", e.name),
		logger.Int64("transaction_id", order.TransactionID),
		logger.Int64("order_id", order.ID()),
	)
	return nil
}

// FailRegistration marks the order Failed and publishes the failure
func (e *Emulator) FailRegistration(order *models.Order, cause error) {
	order.SetState(models.OrderFailed)
	fail := &models.OrderFail{Order: order, Err: cause, Time: e.Now()}

	if order.IsConditional() {
		e.stopOrdersRegisterFailed.Publish([]*models.OrderFail{fail})
	} else {
		e.ordersRegisterFailed.Publish([]*models.OrderFail{fail})
	}
	e.ChangeOrders(order)
}

// FailCancellation publishes a failed cancel without changing the order
func (e *Emulator) FailCancellation(order *models.Order, cause error) {
	fail := &models.OrderFail{Order: order, Err: cause, Time: e.Now()}

	if order.IsConditional() {
		e.stopOrdersCancelFailed.Publish([]*models.OrderFail{fail})
	} else {
		e.ordersCancelFailed.Publish([]*models.OrderFail{fail})
	}
}

// CancelOrder finishes an active order with its remaining balance
func (e *Emulator) CancelOrder(order *models.Order) error {
	if order.State() != models.OrderActive {
		return fmt.Errorf("cancel order %d: %w", order.TransactionID, ErrOrderNotActive)
	}
	order.SetState(models.OrderDone)
	e.ChangeOrders(order)
	return nil
}

// MatchOrder fills volume of an active order at price. The own trade is
// published before the order change, so the order is Done only after its
// last trade was delivered.
func (e *Emulator) MatchOrder(order *models.Order, price, volume decimal.Decimal) (*models.MyTrade, error) {
	if order.State() != models.OrderActive {
		return nil, fmt.Errorf("match order %d: %w", order.TransactionID, ErrOrderNotActive)
	}
	balance := order.Balance()
	if !volume.IsPositive() || volume.GreaterThan(balance) {
		return nil, fmt.Errorf("match order %d with %s: %w", order.TransactionID, volume, ErrInvalidVolume)
	}

	trade := &models.Trade{
		ID:       e.nextTradeID.Add(1),
		Security: order.Security,
		Price:    price,
		Volume:   volume,
		Time:     e.Now(),
	}
	own := &models.MyTrade{Order: order, Trade: trade}

	order.SetBalance(balance.Sub(volume))
	if order.Balance().IsZero() {
		order.SetState(models.OrderDone)
	}

	e.newMyTrades.Publish([]*models.MyTrade{own})
	e.ChangeOrders(order)
	return own, nil
}

// AddMyTrades publishes own trades
func (e *Emulator) AddMyTrades(trades ...*models.MyTrade) {
	if len(trades) > 0 {
		e.newMyTrades.Publish(trades)
	}
}

// AddTrades records the last trade price of each security and publishes the trades
func (e *Emulator) AddTrades(trades ...*models.Trade) {
	if len(trades) == 0 {
		return
	}
	for _, t := range trades {
		if t.ID == 0 {
			t.ID = e.nextTradeID.Add(1)
		}
		if t.Security != nil {
			e.SetSecurityValue(t.Security, models.Level1LastTradePrice, t.Price)
		}
	}
	e.newTrades.Publish(trades)
}

// AddOrderLog publishes order log rows
func (e *Emulator) AddOrderLog(items ...*models.OrderLogItem) {
	if len(items) > 0 {
		e.newOrderLogItems.Publish(items)
	}
}

// ChangePortfolios publishes portfolio changes
func (e *Emulator) ChangePortfolios(portfolios ...*models.Portfolio) {
	if len(portfolios) > 0 {
		e.portfoliosChanged.Publish(portfolios)
	}
}

// ChangePositions publishes position changes
func (e *Emulator) ChangePositions(positions ...*models.Position) {
	if len(positions) > 0 {
		e.positionsChanged.Publish(positions)
	}
}

// ChangeSecurities publishes security changes
func (e *Emulator) ChangeSecurities(securities ...*models.Security) {
	if len(securities) > 0 {
		e.securitiesChanged.Publish(securities)
	}
}

// ChangeDepths publishes order book changes
func (e *Emulator) ChangeDepths(depths ...*models.MarketDepth) {
	if len(depths) > 0 {
		e.depthsChanged.Publish(depths)
	}
}

var _ models.Connector = (*Emulator)(nil)
