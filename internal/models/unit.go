package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UnitType tells how a Unit value is interpreted
type UnitType int

const (
	// UnitLimit is an absolute level
	UnitLimit UnitType = iota
	// UnitAbsolute is a shift expressed in the value's own units
	UnitAbsolute
	// UnitPercent is a shift expressed as a percentage of the base value
	UnitPercent
)

func (t UnitType) String() string {
	switch t {
	case UnitLimit:
		return "limit"
	case UnitAbsolute:
		return "absolute"
	case UnitPercent:
		return "percent"
	default:
		return fmt.Sprintf("unit(%d)", int(t))
	}
}

// Unit is either an absolute level or an offset from a base value
type Unit struct {
	Value decimal.Decimal
	Type  UnitType
}

// Limit returns an absolute level
func Limit(v decimal.Decimal) Unit {
	return Unit{Value: v, Type: UnitLimit}
}

// Offset returns a shift in the value's own units
func Offset(v decimal.Decimal) Unit {
	return Unit{Value: v, Type: UnitAbsolute}
}

// Percent returns a shift as a percentage of the base value
func Percent(v decimal.Decimal) Unit {
	return Unit{Value: v, Type: UnitPercent}
}

// IsLimit reports whether the unit is an absolute level
func (u Unit) IsLimit() bool {
	return u.Type == UnitLimit
}

// Validate rejects unknown unit types
func (u Unit) Validate() error {
	switch u.Type {
	case UnitLimit, UnitAbsolute, UnitPercent:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidUnit, u.Type)
	}
}

func (u Unit) shift(base decimal.Decimal) decimal.Decimal {
	if u.Type == UnitPercent {
		return base.Mul(u.Value).Div(decimal.NewFromInt(100))
	}
	return u.Value
}

// Above resolves the unit against base for an upward threshold
func (u Unit) Above(base decimal.Decimal) decimal.Decimal {
	if u.IsLimit() {
		return u.Value
	}
	return base.Add(u.shift(base))
}

// Below resolves the unit against base for a downward threshold
func (u Unit) Below(base decimal.Decimal) decimal.Decimal {
	if u.IsLimit() {
		return u.Value
	}
	return base.Sub(u.shift(base))
}

func (u Unit) String() string {
	switch u.Type {
	case UnitPercent:
		return u.Value.String() + "%"
	case UnitLimit:
		return "=" + u.Value.String()
	default:
		return u.Value.String()
	}
}
