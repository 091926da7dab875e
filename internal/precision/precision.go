// Package precision rounds and validates order quantities and prices
// against per-symbol trading rules before anything reaches a venue.
//
// Rounding is always toward zero: a quantity is snapped down to the nearest
// step multiple, a price down to the nearest tick. When a symbol reports a
// zero step or tick, rounding falls back to plain decimal-place truncation
// at the symbol's quantity or price precision.
package precision

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

// InvalidOrderError names the field that failed validation together with
// the value offered by the caller and the rule it violated.
type InvalidOrderError struct {
	Field    string
	Offered  decimal.Decimal
	Required decimal.Decimal
	Reason   string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order: %s %s (offered %s, required %s)",
		e.Field, e.Reason, e.Offered.String(), e.Required.String())
}

// RoundQuantity snaps q toward zero onto the step grid. With a zero step it
// truncates to precision decimal places instead.
func RoundQuantity(q, stepSize decimal.Decimal, precision int32) decimal.Decimal {
	if stepSize.IsPositive() {
		return q.Sub(q.Mod(stepSize))
	}
	return q.Truncate(precision)
}

// RoundPrice snaps p toward zero onto the tick grid. With a zero tick it
// truncates to precision decimal places instead.
func RoundPrice(p, tickSize decimal.Decimal, precision int32) decimal.Decimal {
	if tickSize.IsPositive() {
		return p.Sub(p.Mod(tickSize))
	}
	return p.Truncate(precision)
}

// ValidateQuantity checks that q is a non-negative exact multiple of the
// step and within [min, max]. A zero max means unbounded.
func ValidateQuantity(q decimal.Decimal, info types.SymbolInfo) error {
	if q.IsNegative() {
		return &InvalidOrderError{Field: "quantity", Offered: q, Required: decimal.Zero, Reason: "must be non-negative"}
	}
	if q.LessThan(info.MinQuantity) {
		return &InvalidOrderError{Field: "quantity", Offered: q, Required: info.MinQuantity, Reason: "below minimum"}
	}
	if info.MaxQuantity.IsPositive() && q.GreaterThan(info.MaxQuantity) {
		return &InvalidOrderError{Field: "quantity", Offered: q, Required: info.MaxQuantity, Reason: "above maximum"}
	}
	if info.StepSize.IsPositive() && !q.Mod(info.StepSize).IsZero() {
		return &InvalidOrderError{Field: "quantity", Offered: q, Required: info.StepSize, Reason: "not a step multiple"}
	}
	return nil
}

// ValidatePrice checks that p is strictly positive and on the tick grid.
func ValidatePrice(p decimal.Decimal, info types.SymbolInfo) error {
	if !p.IsPositive() {
		return &InvalidOrderError{Field: "price", Offered: p, Required: decimal.Zero, Reason: "must be positive"}
	}
	if info.TickSize.IsPositive() && !p.Mod(info.TickSize).IsZero() {
		return &InvalidOrderError{Field: "price", Offered: p, Required: info.TickSize, Reason: "not a tick multiple"}
	}
	return nil
}

// ValidateNotional checks that quantity times price meets the symbol's
// minimum quote-currency value.
func ValidateNotional(q, p, minNotional decimal.Decimal) error {
	notional := q.Mul(p)
	if notional.LessThan(minNotional) {
		return &InvalidOrderError{Field: "notional", Offered: notional, Required: minNotional, Reason: "below minimum"}
	}
	return nil
}
