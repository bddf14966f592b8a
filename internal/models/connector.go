package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level1Field names a top-of-book value of a security
type Level1Field int

const (
	Level1BestBidPrice Level1Field = iota
	Level1BestAskPrice
	Level1LastTradePrice
)

func (f Level1Field) String() string {
	switch f {
	case Level1BestBidPrice:
		return "best_bid_price"
	case Level1BestAskPrice:
		return "best_ask_price"
	case Level1LastTradePrice:
		return "last_trade_price"
	default:
		return fmt.Sprintf("level1(%d)", int(f))
	}
}

// Clock is a time source that may be live or simulated.
// OnTick handlers are called with the current time on every advance.
type Clock interface {
	Now() time.Time
	OnTick(fn func(now time.Time)) func()
}

// MarketDataProvider looks up current level1 values
type MarketDataProvider interface {
	SecurityValue(security *Security, field Level1Field) (decimal.Decimal, bool)
}

// Connector is the trading connection the rules observe.
// Every feed delivers batches; a single change is a batch of one.
type Connector interface {
	Clock
	MarketDataProvider

	OrdersChanged() Feed[*Order]
	NewOrders() Feed[*Order]
	StopOrdersChanged() Feed[*Order]
	NewStopOrders() Feed[*Order]

	OrdersRegisterFailed() Feed[*OrderFail]
	StopOrdersRegisterFailed() Feed[*OrderFail]
	OrdersCancelFailed() Feed[*OrderFail]
	StopOrdersCancelFailed() Feed[*OrderFail]

	NewMyTrades() Feed[*MyTrade]
	NewTrades() Feed[*Trade]
	NewOrderLogItems() Feed[*OrderLogItem]

	PortfoliosChanged() Feed[*Portfolio]
	PositionsChanged() Feed[*Position]
	SecuritiesChanged() Feed[*Security]
	MarketDepthsChanged() Feed[*MarketDepth]
}
