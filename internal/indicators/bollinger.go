package indicators

import "math"

// Bands are Bollinger Bands; index i of each series covers the same window.
type Bands struct {
	Upper  []float64 `json:"upper"`
	Middle []float64 `json:"middle"`
	Lower  []float64 `json:"lower"`
}

// BollingerBands uses the SMA as the middle band and k population standard
// deviations of the window for the outer bands.
func BollingerBands(closes []float64, period int, k float64) Bands {
	middle := SMA(closes, period)
	if middle == nil {
		return Bands{}
	}
	b := Bands{
		Upper:  make([]float64, len(middle)),
		Middle: middle,
		Lower:  make([]float64, len(middle)),
	}
	for i, mean := range middle {
		window := closes[i : i+period]
		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		b.Upper[i] = mean + k*sd
		b.Lower[i] = mean - k*sd
	}
	return b
}
