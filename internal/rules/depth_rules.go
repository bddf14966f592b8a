package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mohamedkhairy/market-rules/internal/models"
)

func newDepthRule(depth *models.MarketDepth, name string, cond func(*models.MarketDepth) bool) *MarketRule[*models.MarketDepth, *models.MarketDepth] {
	r := newRule[*models.MarketDepth, *models.MarketDepth](depth, name)
	r.onDispose(depth.OnQuotesChanged(func(d *models.MarketDepth) {
		if cond(d) {
			r.activate(d)
		}
	}))
	return r
}

// WhenDepthChanged fires on every update of the book
func WhenDepthChanged(depth *models.MarketDepth) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	if depth == nil {
		return nil, ErrNilDepth
	}
	return newDepthRule(depth, depth.String()+" changed", func(*models.MarketDepth) bool { return true }), nil
}

func spreadRule(depth *models.MarketDepth, price models.Unit, below bool) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	if depth == nil {
		return nil, ErrNilDepth
	}

	// an incomplete book counts as a zero spread
	spread, _ := depth.Spread()
	finish, err := threshold(price, spread, below)
	if err != nil {
		return nil, err
	}

	op := ">"
	if below {
		op = "<"
	}
	return newDepthRule(depth, fmt.Sprintf("%s spread %s %s", depth, op, finish), func(d *models.MarketDepth) bool {
		s, ok := d.Spread()
		if !ok {
			return false
		}
		if below {
			return s.LessThan(finish)
		}
		return s.GreaterThan(finish)
	}), nil
}

// WhenSpreadMore fires when the spread widens strictly above the level
func WhenSpreadMore(depth *models.MarketDepth, price models.Unit) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	return spreadRule(depth, price, false)
}

// WhenSpreadLess fires when the spread narrows strictly below the level
func WhenSpreadLess(depth *models.MarketDepth, price models.Unit) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	return spreadRule(depth, price, true)
}

type quoteSide struct {
	name string
	best func(*models.MarketDepth) (models.Quote, bool)
}

var (
	bidSide = quoteSide{name: "best bid", best: (*models.MarketDepth).BestBid}
	askSide = quoteSide{name: "best ask", best: (*models.MarketDepth).BestAsk}
)

func depthQuoteRule(depth *models.MarketDepth, side quoteSide, price models.Unit, below bool) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	if depth == nil {
		return nil, ErrNilDepth
	}

	current := decimal.Zero
	if !price.IsLimit() {
		q, ok := side.best(depth)
		if !ok {
			return nil, fmt.Errorf("%s of %s: %w", side.name, depth, ErrNoQuote)
		}
		current = q.Price
	}

	finish, err := threshold(price, current, below)
	if err != nil {
		return nil, err
	}

	op := ">"
	if below {
		op = "<"
	}
	return newDepthRule(depth, fmt.Sprintf("%s %s %s %s", depth, side.name, op, finish), func(d *models.MarketDepth) bool {
		q, ok := side.best(d)
		if !ok {
			return false
		}
		if below {
			return q.Price.LessThan(finish)
		}
		return q.Price.GreaterThan(finish)
	}), nil
}

// WhenDepthBestBidMore fires when the best bid rises strictly above the level
func WhenDepthBestBidMore(depth *models.MarketDepth, price models.Unit) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	return depthQuoteRule(depth, bidSide, price, false)
}

// WhenDepthBestBidLess fires when the best bid drops strictly below the level
func WhenDepthBestBidLess(depth *models.MarketDepth, price models.Unit) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	return depthQuoteRule(depth, bidSide, price, true)
}

// WhenDepthBestAskMore fires when the best ask rises strictly above the level
func WhenDepthBestAskMore(depth *models.MarketDepth, price models.Unit) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	return depthQuoteRule(depth, askSide, price, false)
}

// WhenDepthBestAskLess fires when the best ask drops strictly below the level
func WhenDepthBestAskLess(depth *models.MarketDepth, price models.Unit) (*MarketRule[*models.MarketDepth, *models.MarketDepth], error) {
	return depthQuoteRule(depth, askSide, price, true)
}
