// Package risk converts relative stop-loss and take-profit specifications
// into absolute prices and normalises order volume to a symbol's lot rules.
package risk

import (
	"github.com/shopspring/decimal"

	"execution-core/pkg/exchanges/common"
)

var hundred = decimal.NewFromInt(100)

// DeriveStop returns the absolute stop price for a position opened at base.
// A BUY stop sits below base, a SELL stop above. Fixed prices pass through
// untouched.
func DeriveStop(base float64, s StopSpec, side common.Side, spec SymbolSpec) (float64, error) {
	return derive(base, s, side, spec, true)
}

// DeriveTarget mirrors DeriveStop: a BUY target sits above base.
func DeriveTarget(base float64, s TargetSpec, side common.Side, spec SymbolSpec) (float64, error) {
	return derive(base, s, side, spec, false)
}

func derive(base float64, s Spec, side common.Side, spec SymbolSpec, stop bool) (float64, error) {
	if side != common.SideBuy && side != common.SideSell {
		return 0, &InvalidRiskSpecError{Kind: s.Kind, Reason: "side must be BUY or SELL, got " + string(side)}
	}
	if s.Value <= 0 {
		return 0, &InvalidRiskSpecError{Kind: s.Kind, Reason: "value must be positive"}
	}

	var offset decimal.Decimal
	switch s.Kind {
	case KindFixedPrice:
		return s.Value, nil
	case KindPoints:
		if spec.Point <= 0 {
			return 0, &InvalidRiskSpecError{Kind: s.Kind, Reason: "symbol point size unknown"}
		}
		offset = decimal.NewFromFloat(s.Value).Mul(decimal.NewFromFloat(spec.Point))
	case KindPercentage:
		offset = decimal.NewFromFloat(base).Mul(decimal.NewFromFloat(s.Value)).Div(hundred)
	default:
		return 0, &InvalidRiskSpecError{Kind: s.Kind, Reason: "unknown kind"}
	}
	if base <= 0 {
		return 0, &InvalidRiskSpecError{Kind: s.Kind, Reason: "base price must be positive"}
	}

	// below: BUY stop, SELL target
	below := (side == common.SideBuy) == stop
	price := decimal.NewFromFloat(base)
	if below {
		price = price.Sub(offset)
	} else {
		price = price.Add(offset)
	}
	if spec.Digits > 0 {
		price = price.Round(int32(spec.Digits))
	}
	return price.InexactFloat64(), nil
}

// ValidateDistance checks that price is at least minPoints points away from
// entry. A non-positive minPoints disables the check.
func ValidateDistance(entry, price, minPoints, point float64) error {
	if minPoints <= 0 || price <= 0 {
		return nil
	}
	if point <= 0 {
		point = DefaultSymbolSpec().Point
	}
	dist := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(price)).Abs().
		Div(decimal.NewFromFloat(point))
	if dist.LessThan(decimal.NewFromFloat(minPoints)) {
		return &InvalidRiskSpecError{
			Reason: "level " + decimal.NewFromFloat(price).String() + " is " + dist.StringFixed(1) +
				" points from entry, minimum is " + decimal.NewFromFloat(minPoints).String(),
		}
	}
	return nil
}
