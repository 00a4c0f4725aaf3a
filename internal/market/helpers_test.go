package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"execution-core/internal/gateway"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/paper"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// switchableSource serves whichever paper account is current.
type switchableSource struct {
	mu  sync.Mutex
	cur *paper.Gateway
}

func (s *switchableSource) set(g *paper.Gateway) {
	s.mu.Lock()
	s.cur = g
	s.mu.Unlock()
}

func (s *switchableSource) Active() (gateway.Session, error) {
	s.mu.Lock()
	g := s.cur
	s.mu.Unlock()
	return gateway.GatewaySource(g).Active()
}

func connectedPaper(t *testing.T, account string) *paper.Gateway {
	t.Helper()
	g := paper.New(account, paper.Config{})
	require.NoError(t, g.Connect(context.Background()))
	return g
}

func newResolver() *symbols.Resolver {
	return symbols.NewResolver(nil, zerolog.Nop(), nil)
}
