package models

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Board is the trading venue of a security
type Board struct {
	Code     string
	Location *time.Location
}

// Security is a tradable instrument. A security with legs is a basket.
type Security struct {
	ID    string
	Code  string
	Board *Board

	legs []*Security
}

// NewSecurity creates a plain instrument
func NewSecurity(id, code string, board *Board) *Security {
	return &Security{ID: id, Code: code, Board: board}
}

// NewBasket creates a composite instrument over legs
func NewBasket(id string, board *Board, legs ...*Security) (*Security, error) {
	if len(legs) == 0 {
		return nil, ErrEmptyBasket
	}
	for _, leg := range legs {
		if leg == nil {
			return nil, ErrNilSecurity
		}
	}
	return &Security{ID: id, Code: id, Board: board, legs: append([]*Security(nil), legs...)}, nil
}

// IsBasket reports whether the security has constituents
func (s *Security) IsBasket() bool {
	return len(s.legs) > 0
}

// Legs returns the basket constituents
func (s *Security) Legs() []*Security {
	return append([]*Security(nil), s.legs...)
}

// Match returns the security that makes other match s: other itself when it
// is s, or when s is a basket containing other at any depth.
func (s *Security) Match(other *Security) (*Security, bool) {
	if s == nil || other == nil {
		return nil, false
	}
	if s == other {
		return other, true
	}
	for _, leg := range s.legs {
		if m, ok := leg.Match(other); ok {
			return m, true
		}
	}
	return nil, false
}

// Contains reports whether other is s or one of its constituents
func (s *Security) Contains(other *Security) bool {
	_, ok := s.Match(other)
	return ok
}

// Location returns the board time zone, UTC when unknown
func (s *Security) Location() *time.Location {
	if s.Board != nil && s.Board.Location != nil {
		return s.Board.Location
	}
	return time.UTC
}

func (s *Security) String() string {
	if s.Board != nil && s.Board.Code != "" {
		return s.Code + "@" + s.Board.Code
	}
	return s.Code
}

// Portfolio is a trading account
type Portfolio struct {
	Name string

	mu           sync.RWMutex
	currentValue decimal.Decimal
	connector    Connector
}

// NewPortfolio creates a portfolio bound to conn (which may be nil)
func NewPortfolio(name string, conn Connector) *Portfolio {
	return &Portfolio{Name: name, connector: conn}
}

func (p *Portfolio) CurrentValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentValue
}

func (p *Portfolio) SetCurrentValue(v decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentValue = v
}

func (p *Portfolio) Connector() Connector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connector
}

func (p *Portfolio) SetConnector(conn Connector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connector = conn
}

func (p *Portfolio) String() string {
	return p.Name
}

// Position is the holding of a security in a portfolio
type Position struct {
	Security  *Security
	Portfolio *Portfolio

	mu           sync.RWMutex
	currentValue decimal.Decimal
}

// NewPosition creates a flat position
func NewPosition(security *Security, portfolio *Portfolio) *Position {
	return &Position{Security: security, Portfolio: portfolio}
}

func (p *Position) CurrentValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentValue
}

func (p *Position) SetCurrentValue(v decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentValue = v
}

func (p *Position) String() string {
	name := ""
	if p.Portfolio != nil {
		name = p.Portfolio.Name
	}
	if p.Security != nil {
		return name + "/" + p.Security.String()
	}
	return name
}
