// Package indicators holds pure technical indicator functions over a closes
// series plus a name-based dispatcher for API callers.
package indicators

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInsufficientData = errors.New("indicators: not enough data for period")

// UnsupportedIndicatorError is returned for an unknown indicator name.
type UnsupportedIndicatorError struct {
	Name string
}

func (e *UnsupportedIndicatorError) Error() string {
	return fmt.Sprintf("unsupported indicator %q", e.Name)
}

// Params tunes Calculate. Zero fields take the indicator's default.
type Params struct {
	Period int     `json:"period,omitempty"`
	Fast   int     `json:"fast,omitempty"`
	Slow   int     `json:"slow,omitempty"`
	Signal int     `json:"signal,omitempty"`
	StdDev float64 `json:"stdDev,omitempty"`
}

// Result is a named set of output series.
type Result struct {
	Name   string               `json:"name"`
	Params Params               `json:"params"`
	Series map[string][]float64 `json:"series"`
}

// Supported lists the names Calculate accepts.
func Supported() []string {
	return []string{"sma", "ema", "rsi", "macd", "bollinger"}
}

// Calculate dispatches by case-insensitive name.
func Calculate(name string, closes []float64, p Params) (Result, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	res := Result{Name: key, Series: map[string][]float64{}}
	switch key {
	case "sma":
		p.Period = orDefault(p.Period, 20)
		res.Series["sma"] = SMA(closes, p.Period)
	case "ema":
		p.Period = orDefault(p.Period, 20)
		res.Series["ema"] = EMA(closes, p.Period)
	case "rsi":
		p.Period = orDefault(p.Period, 14)
		res.Series["rsi"] = RSI(closes, p.Period)
	case "macd":
		p.Fast = orDefault(p.Fast, 12)
		p.Slow = orDefault(p.Slow, 26)
		p.Signal = orDefault(p.Signal, 9)
		m := MACD(closes, p.Fast, p.Slow, p.Signal)
		res.Series["macd"] = m.MACD
		res.Series["signal"] = m.Signal
		res.Series["histogram"] = m.Histogram
	case "bollinger", "bb", "bbands":
		res.Name = "bollinger"
		p.Period = orDefault(p.Period, 20)
		if p.StdDev <= 0 {
			p.StdDev = 2
		}
		b := BollingerBands(closes, p.Period, p.StdDev)
		res.Series["upper"] = b.Upper
		res.Series["middle"] = b.Middle
		res.Series["lower"] = b.Lower
	default:
		return Result{}, &UnsupportedIndicatorError{Name: name}
	}
	res.Params = p
	for _, s := range res.Series {
		if len(s) == 0 {
			return res, fmt.Errorf("%w: %s over %d closes", ErrInsufficientData, res.Name, len(closes))
		}
	}
	return res, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
