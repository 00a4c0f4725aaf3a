package indicators

// MACDResult holds the three MACD series, each aligned to its own tail.
type MACDResult struct {
	MACD      []float64 `json:"macd"`
	Signal    []float64 `json:"signal"`
	Histogram []float64 `json:"histogram"`
}

// MACD computes EMA(fast)-EMA(slow) over the overlapping tail, an EMA signal
// line over that, and the histogram aligned to the signal line.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	if len(fastEMA) == 0 || len(slowEMA) == 0 {
		return MACDResult{}
	}
	fastEMA, slowEMA = alignTails(fastEMA, slowEMA)
	line := make([]float64, len(fastEMA))
	for i := range line {
		line[i] = fastEMA[i] - slowEMA[i]
	}

	sig := EMA(line, signal)
	if len(sig) == 0 {
		return MACDResult{MACD: line}
	}
	tail, _ := alignTails(line, sig)
	hist := make([]float64, len(sig))
	for i := range hist {
		hist[i] = tail[i] - sig[i]
	}
	return MACDResult{MACD: line, Signal: sig, Histogram: hist}
}

// alignTails trims the longer series so both end on the same close.
func alignTails(a, b []float64) ([]float64, []float64) {
	switch {
	case len(a) > len(b):
		return a[len(a)-len(b):], b
	case len(b) > len(a):
		return a, b[len(b)-len(a):]
	}
	return a, b
}
