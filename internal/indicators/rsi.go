package indicators

// RSI computes Wilder's Relative Strength Index. The first value uses the
// plain average gain and loss of the first period deltas; later values use
// the smoothing avg = (avg*(period-1) + current) / period. Output length is
// len(closes)-period.
//
// A window with no losses reads 100; a window with no movement at all reads 50.
func RSI(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		g, l := split(closes[i] - closes[i-1])
		avgGain += g
		avgLoss += l
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(closes)-period)
	out = append(out, rsiValue(avgGain, avgLoss))
	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		g, l := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
