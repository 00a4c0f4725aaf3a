package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"execution-core/pkg/exchanges/common"
)

// QuoteSetter is a simulated account whose quotes can be moved.
type QuoteSetter interface {
	GetSymbolPrice(ctx context.Context, symbol string) (common.Price, error)
	SetPrice(symbol string, bid, ask float64) error
}

// MockFeed random-walks the quotes of a simulated account so push
// subscriptions receive ticks during local development.
type MockFeed struct {
	Target   QuoteSetter
	Symbols  []string // broker symbols
	StepBps  float64
	Interval time.Duration
	Log      zerolog.Logger
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Target == nil || len(m.Symbols) == 0 {
		m.Log.Info().Msg("mock feed not configured; skipping")
		return
	}
	if m.StepBps <= 0 {
		m.StepBps = 2
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, sym := range m.Symbols {
					m.step(ctx, rng, sym)
				}
			}
		}
	}()
}

func (m *MockFeed) step(ctx context.Context, rng *rand.Rand, sym string) {
	p, err := m.Target.GetSymbolPrice(ctx, sym)
	if err != nil || !p.HasQuote() {
		return
	}
	move := 1 + (rng.Float64()*2-1)*m.StepBps/10000
	spread := p.Ask - p.Bid
	bid := p.Bid * move
	if err := m.Target.SetPrice(sym, bid, bid+spread); err != nil {
		m.Log.Debug().Err(err).Str("symbol", sym).Msg("mock feed step failed")
	}
}
