// Package market serves quotes and candles for canonical symbols on top of
// the active broker account.
package market

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/monitor"
	"execution-core/internal/symbols"
	"execution-core/pkg/cache"
)

const DefaultPriceTTL = time.Second

type cachedQuote struct {
	quote      Quote
	generation uint64
}

// PriceCache keeps a short-lived quote per canonical symbol, fed by pull
// queries and push subscriptions. Entries are tagged with the resolver
// generation so an account switch hides them all at once.
type PriceCache struct {
	source   gateway.Source
	resolver *symbols.Resolver
	quotes   *cache.Sharded[cachedQuote]
	ttl      time.Duration
	now      func() time.Time
	bus      *events.Bus
	metrics  *monitor.Metrics
	log      zerolog.Logger

	hits        atomic.Uint64
	misses      atomic.Uint64
	staleServes atomic.Uint64

	subsMu  sync.Mutex
	subs    map[string]*subscription
	subSeq  atomic.Uint64
	dropped atomic.Uint64
}

// PriceCacheOption customises a PriceCache.
type PriceCacheOption func(*PriceCache)

func WithTTL(ttl time.Duration) PriceCacheOption {
	return func(pc *PriceCache) {
		if ttl > 0 {
			pc.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) PriceCacheOption {
	return func(pc *PriceCache) { pc.now = now }
}

func WithBus(bus *events.Bus) PriceCacheOption {
	return func(pc *PriceCache) { pc.bus = bus }
}

func WithMetrics(m *monitor.Metrics) PriceCacheOption {
	return func(pc *PriceCache) { pc.metrics = m }
}

func NewPriceCache(source gateway.Source, resolver *symbols.Resolver, log zerolog.Logger, opts ...PriceCacheOption) *PriceCache {
	pc := &PriceCache{
		source:   source,
		resolver: resolver,
		ttl:      DefaultPriceTTL,
		now:      time.Now,
		log:      log.With().Str("component", "price_cache").Logger(),
		subs:     make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(pc)
	}
	pc.quotes = cache.NewSharded[cachedQuote]().WithClock(pc.now)
	return pc
}

// TTL returns the freshness window.
func (pc *PriceCache) TTL() time.Duration { return pc.ttl }

// GetCurrentPrice returns a fresh cached quote, or fetches a live one. When
// the live path fails, the last known quote is returned with Stale set; an
// error is returned only when nothing was ever cached.
func (pc *PriceCache) GetCurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	canonical := strings.ToUpper(strings.TrimSpace(symbol))
	if canonical == "" {
		return Quote{}, symbols.ErrEmptySymbol
	}

	sess, sessErr := pc.source.Active()
	gen := pc.resolver.Generation()
	if sessErr == nil {
		gen = pc.resolver.BindAccount(sess.AccountID)
	}

	cached, ok := pc.lookup(canonical, gen)
	if ok && pc.now().Sub(cached.ObservedAt) < pc.ttl {
		pc.hits.Add(1)
		pc.metrics.PriceRequest("hit")
		return cached, nil
	}
	pc.misses.Add(1)

	if sessErr != nil {
		return pc.fallback(canonical, cached, ok, sessErr)
	}
	res, err := pc.resolver.Resolve(ctx, sess.AccountID, sess.Conn, canonical)
	if err != nil {
		return pc.fallback(canonical, cached, ok, err)
	}

	q := newQuote(canonical, res.BrokerSymbol, res.Price, pc.now())
	pc.store(q, gen)
	pc.metrics.PriceRequest("miss")
	return q, nil
}

func (pc *PriceCache) fallback(canonical string, cached Quote, ok bool, err error) (Quote, error) {
	if !ok {
		pc.metrics.PriceRequest("error")
		return Quote{}, err
	}
	pc.staleServes.Add(1)
	pc.metrics.PriceRequest("stale")
	pc.log.Warn().Err(err).Str("symbol", canonical).
		Dur("age", pc.now().Sub(cached.ObservedAt)).
		Msg("live price unavailable, serving stale quote")
	cached.Stale = true
	return cached, nil
}

// Peek returns the cached quote for symbol without any network call.
func (pc *PriceCache) Peek(symbol string) (Quote, bool) {
	q, ok := pc.lookup(strings.ToUpper(strings.TrimSpace(symbol)), pc.resolver.Generation())
	if ok && pc.now().Sub(q.ObservedAt) >= pc.ttl {
		q.Stale = true
	}
	return q, ok
}

func (pc *PriceCache) lookup(canonical string, gen uint64) (Quote, bool) {
	e, ok := pc.quotes.Get(canonical)
	if !ok || e.generation != gen {
		return Quote{}, false
	}
	return e.quote, true
}

// store writes q unless the generation moved on since it was fetched.
func (pc *PriceCache) store(q Quote, gen uint64) bool {
	if gen != pc.resolver.Generation() {
		return false
	}
	pc.quotes.SetAt(q.Symbol, cachedQuote{quote: q, generation: gen}, q.ObservedAt)
	pc.bus.Publish(events.EventPriceTick, q)
	return true
}

// Clear drops every cached quote.
func (pc *PriceCache) Clear() int {
	return pc.quotes.Clear()
}

// PriceStats describes the quote cache.
type PriceStats struct {
	Entries       int           `json:"entries"`
	Fresh         int           `json:"fresh"`
	Stale         int           `json:"stale"`
	Subscriptions int           `json:"subscriptions"`
	Hits          uint64        `json:"hits"`
	Misses        uint64        `json:"misses"`
	StaleServes   uint64        `json:"staleServes"`
	Dropped       uint64        `json:"droppedUpdates"`
	TTL           time.Duration `json:"ttl"`
}

func (pc *PriceCache) Stats() PriceStats {
	gen := pc.resolver.Generation()
	now := pc.now()
	s := PriceStats{
		Hits:        pc.hits.Load(),
		Misses:      pc.misses.Load(),
		StaleServes: pc.staleServes.Load(),
		Dropped:     pc.dropped.Load(),
		TTL:         pc.ttl,
	}
	pc.quotes.Range(func(_ string, e cachedQuote, _ time.Time) bool {
		if e.generation != gen {
			return true
		}
		s.Entries++
		if now.Sub(e.quote.ObservedAt) < pc.ttl {
			s.Fresh++
		} else {
			s.Stale++
		}
		return true
	})
	pc.subsMu.Lock()
	s.Subscriptions = len(pc.subs)
	pc.subsMu.Unlock()
	return s
}
