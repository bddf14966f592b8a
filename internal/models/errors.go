package models

import "errors"

var (
	ErrNilSecurity    = errors.New("security is nil")
	ErrNilPortfolio   = errors.New("portfolio is nil")
	ErrNilPosition    = errors.New("position is nil")
	ErrNoConnector    = errors.New("entity is not attached to a connector")
	ErrInvalidOffset  = errors.New("offset must be positive")
	ErrNoCurrentValue = errors.New("current value is not available")
	ErrInvalidUnit    = errors.New("invalid unit type")
	ErrEmptyBasket    = errors.New("basket has no legs")
)
