package market

import (
	"time"

	"execution-core/pkg/exchanges/common"
)

// Quote is the last known price of a canonical symbol.
type Quote struct {
	Symbol       string    `json:"symbol"`
	BrokerSymbol string    `json:"brokerSymbol"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Last         float64   `json:"last"`
	Spread       float64   `json:"spread"`
	ObservedAt   time.Time `json:"observedAt"`
	Stale        bool      `json:"stale"`
}

// Mid returns the midpoint, or whichever side is present.
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Bid > 0:
		return q.Bid
	default:
		return q.Ask
	}
}

// newQuote converts a broker price. Last falls back to the mid price and
// the spread is only defined when both sides are present.
func newQuote(canonical, broker string, p common.Price, observedAt time.Time) Quote {
	q := Quote{
		Symbol:       canonical,
		BrokerSymbol: broker,
		Bid:          p.Bid,
		Ask:          p.Ask,
		Last:         p.Last,
		ObservedAt:   observedAt,
	}
	if q.Bid > 0 && q.Ask > 0 {
		q.Spread = q.Ask - q.Bid
	}
	if q.Last <= 0 {
		q.Last = q.Mid()
	}
	return q
}
