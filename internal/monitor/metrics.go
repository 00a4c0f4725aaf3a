package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the execution core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	OrdersTotal         *prometheus.CounterVec
	OrderLatency        *prometheus.HistogramVec
	BatchSize           prometheus.Histogram
	PriceRequests       *prometheus.CounterVec
	SymbolResolutions   *prometheus.CounterVec
	SymbolProbes        prometheus.Counter
	Subscriptions       prometheus.Gauge
	SubscriptionDropped prometheus.Counter
	CandleRequests      *prometheus.CounterVec

	// ExecutionLatency keeps an in-process window for the stats endpoint.
	ExecutionLatency *LatencyHistogram
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "execution_orders_total", Help: "Trade outcomes by status and error kind"},
			[]string{"status", "error_kind"},
		),
		OrderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "execution_order_duration_seconds", Help: "placeTrade wall time", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12)},
			[]string{"status"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "execution_batch_size", Help: "Intents per batch submission", Buckets: []float64{1, 2, 5, 10, 20, 50, 100}},
		),
		PriceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "price_cache_requests_total", Help: "Price lookups by result (hit, miss, stale, error)"},
			[]string{"result"},
		),
		SymbolResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "symbol_resolutions_total", Help: "Symbol resolutions by result (cached, resolved, failed)"},
			[]string{"result"},
		),
		SymbolProbes: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "symbol_probes_total", Help: "Price probes issued while resolving symbols"},
		),
		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "price_subscriptions", Help: "Active price subscriptions"},
		),
		SubscriptionDropped: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "price_subscription_dropped_total", Help: "Quotes dropped because a subscriber queue was full"},
		),
		CandleRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "candle_requests_total", Help: "Candle lookups by result (fetched, fallback, error)"},
			[]string{"result"},
		),
		ExecutionLatency: NewLatencyHistogram(1000),
	}
	if reg != nil {
		reg.MustRegister(
			m.OrdersTotal, m.OrderLatency, m.BatchSize, m.PriceRequests,
			m.SymbolResolutions, m.SymbolProbes, m.Subscriptions,
			m.SubscriptionDropped, m.CandleRequests,
		)
	}
	return m
}

// ObserveOrder records one trade outcome.
func (m *Metrics) ObserveOrder(status, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(status, errorKind).Inc()
	m.OrderLatency.WithLabelValues(status).Observe(d.Seconds())
	m.ExecutionLatency.RecordDuration(d)
}

func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) PriceRequest(result string) {
	if m == nil {
		return
	}
	m.PriceRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) SymbolResolution(result string, probes int) {
	if m == nil {
		return
	}
	m.SymbolResolutions.WithLabelValues(result).Inc()
	m.SymbolProbes.Add(float64(probes))
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.Subscriptions.Set(float64(n))
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.SubscriptionDropped.Inc()
}

func (m *Metrics) CandleRequest(result string) {
	if m == nil {
		return
	}
	m.CandleRequests.WithLabelValues(result).Inc()
}
