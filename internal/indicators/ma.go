package indicators

// SMA returns the simple moving average of every full window of period
// closes. The result has len(closes)-period+1 values, or nil when there is
// not enough data.
func SMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	out := make([]float64, 0, len(closes)-period+1)
	sum := 0.0
	for i, v := range closes {
		sum += v
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA seeds with the SMA of the first period closes and then applies the
// 2/(period+1) multiplier. Output length matches SMA.
func EMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	seed := 0.0
	for _, v := range closes[:period] {
		seed += v
	}
	seed /= float64(period)

	k := 2 / float64(period+1)
	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, seed)
	prev := seed
	for _, v := range closes[period:] {
		prev = (v-prev)*k + prev
		out = append(out, prev)
	}
	return out
}
