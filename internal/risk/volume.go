package risk

import "github.com/shopspring/decimal"

// NormalizeVolume clamps volume into the intersection of the configured and
// symbol lot bounds, then rounds down to the symbol lot step. Volumes below
// the minimum are raised to it, never rejected.
func NormalizeVolume(volume float64, spec SymbolSpec, minLot, maxLot float64) float64 {
	spec = spec.WithDefaults()
	lower := spec.MinLot
	if minLot > lower {
		lower = minLot
	}
	upper := spec.MaxLot
	if maxLot > 0 && maxLot < upper {
		upper = maxLot
	}
	if upper < lower {
		upper = lower
	}

	v := decimal.NewFromFloat(volume)
	lo := decimal.NewFromFloat(lower)
	hi := decimal.NewFromFloat(upper)
	if v.LessThan(lo) {
		v = lo
	}
	if v.GreaterThan(hi) {
		v = hi
	}

	step := decimal.NewFromFloat(spec.LotStep)
	stepped := v.Div(step).Floor().Mul(step)
	if stepped.LessThan(lo) {
		stepped = v.Div(step).Ceil().Mul(step)
	}
	return stepped.InexactFloat64()
}
