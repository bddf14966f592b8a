package models

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price level of an order book
type Quote struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// MarketDepth is the order book of a security.
// Bids are sorted best-first (descending), asks best-first (ascending).
type MarketDepth struct {
	Security *Security

	mu         sync.RWMutex
	bids       []Quote
	asks       []Quote
	lastChange time.Time
	changed    Hub[*MarketDepth]
}

// NewMarketDepth creates an empty book
func NewMarketDepth(security *Security) *MarketDepth {
	return &MarketDepth{Security: security}
}

// Update replaces the book and notifies quote observers
func (d *MarketDepth) Update(bids, asks []Quote, at time.Time) {
	d.mu.Lock()
	d.bids = append([]Quote(nil), bids...)
	d.asks = append([]Quote(nil), asks...)
	d.lastChange = at
	d.mu.Unlock()

	d.changed.Publish(d)
}

// OnQuotesChanged registers fn for book updates
func (d *MarketDepth) OnQuotesChanged(fn func(*MarketDepth)) func() {
	return d.changed.Subscribe(fn)
}

func (d *MarketDepth) BestBid() (Quote, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.bids) == 0 {
		return Quote{}, false
	}
	return d.bids[0], true
}

func (d *MarketDepth) BestAsk() (Quote, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.asks) == 0 {
		return Quote{}, false
	}
	return d.asks[0], true
}

// BestPair returns both sides under one lock
func (d *MarketDepth) BestPair() (bid Quote, hasBid bool, ask Quote, hasAsk bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.bids) > 0 {
		bid, hasBid = d.bids[0], true
	}
	if len(d.asks) > 0 {
		ask, hasAsk = d.asks[0], true
	}
	return
}

// Spread is best ask minus best bid; ok is false when a side is empty
func (d *MarketDepth) Spread() (decimal.Decimal, bool) {
	bid, hasBid, ask, hasAsk := d.BestPair()
	if !hasBid || !hasAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

func (d *MarketDepth) LastChange() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastChange
}

func (d *MarketDepth) String() string {
	if d.Security == nil {
		return "depth"
	}
	return "depth " + d.Security.String()
}
