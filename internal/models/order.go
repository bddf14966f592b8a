package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the kind of order
type OrderType int

const (
	OrderLimit OrderType = iota
	OrderMarket
	// OrderConditional is a stop order that produces a derived order when triggered
	OrderConditional
)

// Side is the order direction
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// OrderState is the exchange-side lifecycle of an order
type OrderState int

const (
	OrderNone OrderState = iota
	OrderPending
	OrderActive
	OrderDone
	OrderFailed
)

func (s OrderState) String() string {
	switch s {
	case OrderNone:
		return "none"
	case OrderPending:
		return "pending"
	case OrderActive:
		return "active"
	case OrderDone:
		return "done"
	case OrderFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Order is a trading order. Mutable fields are guarded and read through accessors.
type Order struct {
	TransactionID int64
	Security      *Security
	Portfolio     *Portfolio
	Type          OrderType
	Side          Side
	Price         decimal.Decimal
	Volume        decimal.Decimal

	mu        sync.RWMutex
	id        int64
	state     OrderState
	balance   decimal.Decimal
	derived   *Order
	connector Connector
	attached  Hub[Connector]
}

// NewOrder creates an unregistered order with a full balance
func NewOrder(transactionID int64, security *Security, portfolio *Portfolio, typ OrderType, side Side, price, volume decimal.Decimal) *Order {
	return &Order{
		TransactionID: transactionID,
		Security:      security,
		Portfolio:     portfolio,
		Type:          typ,
		Side:          side,
		Price:         price,
		Volume:        volume,
		balance:       volume,
	}
}

func (o *Order) ID() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.id
}

func (o *Order) SetID(id int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.id = id
}

func (o *Order) State() OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Order) SetState(state OrderState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
}

// Balance is the unfilled volume
func (o *Order) Balance() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.balance
}

func (o *Order) SetBalance(balance decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.balance = balance
}

// DerivedOrder is the live order a conditional order produced, if any
func (o *Order) DerivedOrder() *Order {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.derived
}

func (o *Order) SetDerivedOrder(derived *Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.derived = derived
}

// Connector returns the connector the order is registered with, or nil
func (o *Order) Connector() Connector {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.connector
}

// Attach binds the order to a connector and notifies attach observers once.
// Re-attaching to the same connector is a no-op.
func (o *Order) Attach(conn Connector) error {
	if conn == nil {
		return ErrNoConnector
	}

	o.mu.Lock()
	if o.connector != nil {
		same := o.connector == conn
		o.mu.Unlock()
		if same {
			return nil
		}
		return fmt.Errorf("order %d is already attached to another connector", o.TransactionID)
	}
	o.connector = conn
	o.mu.Unlock()

	o.attached.Publish(conn)
	return nil
}

// OnAttached registers fn to be called when the order acquires a connector
func (o *Order) OnAttached(fn func(Connector)) func() {
	return o.attached.Subscribe(fn)
}

// IsConditional reports whether the order is a stop order
func (o *Order) IsConditional() bool {
	return o.Type == OrderConditional
}

// IsTerminal reports whether the order reached Done or Failed
func (o *Order) IsTerminal() bool {
	s := o.State()
	return s == OrderDone || s == OrderFailed
}

// IsCanceled reports whether the order is done with volume left over
func (o *Order) IsCanceled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == OrderDone && o.balance.IsPositive()
}

// IsMatched reports whether the order is done and fully filled
func (o *Order) IsMatched() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == OrderDone && o.balance.IsZero()
}

// MatchedVolume is Volume minus Balance
func (o *Order) MatchedVolume() decimal.Decimal {
	return o.Volume.Sub(o.Balance())
}

func (o *Order) String() string {
	return fmt.Sprintf("order %d %s %s@%s", o.TransactionID, o.Side, o.Volume, o.Price)
}

// OrderFail is a failed registration or cancellation
type OrderFail struct {
	Order *Order
	Err   error
	Time  time.Time
}

// Trade is a public tick trade
type Trade struct {
	ID       int64
	Security *Security
	Price    decimal.Decimal
	Volume   decimal.Decimal
	Time     time.Time
}

// MyTrade is a fill of one of our orders
type MyTrade struct {
	Order *Order
	Trade *Trade
}

// OrderLogItem is one row of the exchange order log.
// Trade is set when the row records a match.
type OrderLogItem struct {
	Order *Order
	Trade *Trade
}
