package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mohamedkhairy/market-rules/internal/models"
)

// threshold resolves a unit against the value seen at construction.
// Relative offsets must be positive; limits are taken as is.
func threshold(unit models.Unit, current decimal.Decimal, below bool) (decimal.Decimal, error) {
	if err := unit.Validate(); err != nil {
		return decimal.Zero, err
	}
	if !unit.IsLimit() && !unit.Value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrInvalidOffset, unit)
	}
	if below {
		return unit.Below(current), nil
	}
	return unit.Above(current), nil
}

func newPortfolioRule(pf *models.Portfolio, name string, cond func(*models.Portfolio) bool) (*MarketRule[*models.Portfolio, *models.Portfolio], error) {
	conn := pf.Connector()
	if conn == nil {
		return nil, fmt.Errorf("portfolio %s: %w", pf.Name, models.ErrNoConnector)
	}

	r := newRule[*models.Portfolio, *models.Portfolio](pf, name)
	r.onDispose(conn.PortfoliosChanged().Subscribe(func(portfolios []*models.Portfolio) {
		for _, p := range portfolios {
			if p == pf {
				if cond(pf) {
					r.activate(pf)
				}
				return
			}
		}
	}))
	return r, nil
}

// WhenMoneyLess fires when the portfolio value drops strictly below the level
func WhenMoneyLess(pf *models.Portfolio, money models.Unit) (*MarketRule[*models.Portfolio, *models.Portfolio], error) {
	if pf == nil {
		return nil, models.ErrNilPortfolio
	}

	finish, err := threshold(money, pf.CurrentValue(), true)
	if err != nil {
		return nil, err
	}

	return newPortfolioRule(pf, fmt.Sprintf("portfolio %s money < %s", pf.Name, finish), func(p *models.Portfolio) bool {
		return p.CurrentValue().LessThan(finish)
	})
}

// WhenMoneyMore fires when the portfolio value rises strictly above the level
func WhenMoneyMore(pf *models.Portfolio, money models.Unit) (*MarketRule[*models.Portfolio, *models.Portfolio], error) {
	if pf == nil {
		return nil, models.ErrNilPortfolio
	}

	finish, err := threshold(money, pf.CurrentValue(), false)
	if err != nil {
		return nil, err
	}

	return newPortfolioRule(pf, fmt.Sprintf("portfolio %s money > %s", pf.Name, finish), func(p *models.Portfolio) bool {
		return p.CurrentValue().GreaterThan(finish)
	})
}

func newPositionRule(pos *models.Position, name string, cond func(*models.Position) bool) (*MarketRule[*models.Position, *models.Position], error) {
	if pos == nil {
		return nil, models.ErrNilPosition
	}
	if pos.Portfolio == nil || pos.Portfolio.Connector() == nil {
		return nil, fmt.Errorf("position %s: %w", pos, models.ErrNoConnector)
	}
	conn := pos.Portfolio.Connector()

	r := newRule[*models.Position, *models.Position](pos, name)
	r.onDispose(conn.PositionsChanged().Subscribe(func(positions []*models.Position) {
		for _, p := range positions {
			if p == pos {
				if cond(pos) {
					r.activate(pos)
				}
				return
			}
		}
	}))
	return r, nil
}

// WhenPositionLess fires when the position drops strictly below the level
func WhenPositionLess(pos *models.Position, value models.Unit) (*MarketRule[*models.Position, *models.Position], error) {
	if pos == nil {
		return nil, models.ErrNilPosition
	}

	finish, err := threshold(value, pos.CurrentValue(), true)
	if err != nil {
		return nil, err
	}

	return newPositionRule(pos, fmt.Sprintf("position %s < %s", pos, finish), func(p *models.Position) bool {
		return p.CurrentValue().LessThan(finish)
	})
}

// WhenPositionMore fires when the position rises strictly above the level
func WhenPositionMore(pos *models.Position, value models.Unit) (*MarketRule[*models.Position, *models.Position], error) {
	if pos == nil {
		return nil, models.ErrNilPosition
	}

	finish, err := threshold(value, pos.CurrentValue(), false)
	if err != nil {
		return nil, err
	}

	return newPositionRule(pos, fmt.Sprintf("position %s > %s", pos, finish), func(p *models.Position) bool {
		return p.CurrentValue().GreaterThan(finish)
	})
}

// WhenPositionChanged fires on every change of the position
func WhenPositionChanged(pos *models.Position) (*MarketRule[*models.Position, *models.Position], error) {
	if pos == nil {
		return nil, models.ErrNilPosition
	}
	return newPositionRule(pos, "position changed "+pos.String(), func(*models.Position) bool { return true })
}
