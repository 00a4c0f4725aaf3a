// Package symbols resolves canonical instrument names to the symbol string a
// given broker account actually trades.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/monitor"
	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
)

var (
	ErrEmptySymbol = errors.New("symbols: empty symbol")
	errNoQuote     = errors.New("quote has neither bid nor ask")
)

// SymbolResolutionError is returned once every variant has been probed
// without a usable quote.
type SymbolResolutionError struct {
	Symbol    string
	AccountID string
	Tried     []string
	Last      error
}

func (e *SymbolResolutionError) Error() string {
	msg := fmt.Sprintf("symbol %s not tradable on account %s (tried %s)", e.Symbol, e.AccountID, strings.Join(e.Tried, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *SymbolResolutionError) Unwrap() error { return e.Last }

// Prober issues the price query used to test a broker symbol.
type Prober interface {
	GetSymbolPrice(ctx context.Context, symbol string) (common.Price, error)
}

// Resolution is the result of a successful resolve. Price is the quote that
// validated BrokerSymbol.
type Resolution struct {
	Canonical    string
	BrokerSymbol string
	Price        common.Price
	Probes       int
	Cached       bool
	Generation   uint64 // resolver generation the result belongs to
}

type entry struct {
	broker     string
	generation uint64
}

// Resolver caches canonical -> broker symbol per account. Entries are tagged
// with a generation; bumping it hides every older entry at once.
type Resolver struct {
	catalog *Catalog
	entries *cache.Sharded[entry]
	log     zerolog.Logger
	metrics *monitor.Metrics

	generation atomic.Uint64
	mu         sync.Mutex
	account    string
}

func NewResolver(catalog *Catalog, log zerolog.Logger, metrics *monitor.Metrics) *Resolver {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Resolver{
		catalog: catalog,
		entries: cache.NewSharded[entry](),
		log:     log.With().Str("component", "symbol_resolver").Logger(),
		metrics: metrics,
	}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Generation returns the current cache generation.
func (r *Resolver) Generation() uint64 { return r.generation.Load() }

// BindAccount makes accountID current, bumping the generation when it
// differs from the previous account. It returns the generation to use.
func (r *Resolver) BindAccount(accountID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account != accountID {
		if r.account != "" {
			r.log.Info().Str("from", r.account).Str("to", accountID).Msg("account changed, invalidating resolutions")
		}
		r.account = accountID
		return r.generation.Add(1)
	}
	return r.generation.Load()
}

// Invalidate hides every cached resolution without blocking readers.
func (r *Resolver) Invalidate() uint64 {
	return r.generation.Add(1)
}

// Purge deletes entries from older generations and returns how many went.
func (r *Resolver) Purge() int {
	gen := r.generation.Load()
	return r.entries.Prune(func(_ string, e entry) bool { return e.generation != gen })
}

// Resolve returns the broker symbol for symbol on accountID. A cached
// resolution costs one probe; on failure the entry is evicted and the
// remaining variants are tried in order.
func (r *Resolver) Resolve(ctx context.Context, accountID string, prober Prober, symbol string) (Resolution, error) {
	canonical := normalize(symbol)
	if canonical == "" {
		return Resolution{}, ErrEmptySymbol
	}
	gen := r.BindAccount(accountID)
	key := entryKey(accountID, canonical)
	res := Resolution{Canonical: canonical, Generation: gen}

	var tried []string
	var lastErr error
	skip := ""
	if e, ok := r.entries.Get(key); ok && e.generation == gen {
		res.Probes++
		p, err := prober.GetSymbolPrice(ctx, e.broker)
		if err == nil && p.HasQuote() {
			res.BrokerSymbol, res.Price, res.Cached = e.broker, p, true
			r.metrics.SymbolResolution("cached", res.Probes)
			return res, nil
		}
		if err == nil {
			err = errNoQuote
		}
		r.log.Warn().Str("symbol", canonical).Str("broker_symbol", e.broker).Err(err).Msg("cached broker symbol failed, re-resolving")
		r.entries.DeleteIf(key, func(v entry) bool { return v == e })
		tried = append(tried, e.broker)
		skip = e.broker
		lastErr = err
	}

	for _, variant := range r.catalog.Variants(canonical) {
		if variant == skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		res.Probes++
		tried = append(tried, variant)
		p, err := prober.GetSymbolPrice(ctx, variant)
		if err == nil && !p.HasQuote() {
			err = errNoQuote
		}
		if err != nil {
			r.log.Debug().Str("symbol", canonical).Str("variant", variant).Err(err).Msg("variant probe failed")
			lastErr = err
			continue
		}
		// A switch that happened mid-probe must not be overwritten by this result.
		if r.generation.Load() == gen {
			r.entries.Set(key, entry{broker: variant, generation: gen})
		}
		res.BrokerSymbol, res.Price = variant, p
		r.metrics.SymbolResolution("resolved", res.Probes)
		r.log.Debug().Str("symbol", canonical).Str("broker_symbol", variant).Int("probes", res.Probes).Msg("symbol resolved")
		return res, nil
	}

	r.metrics.SymbolResolution("failed", res.Probes)
	return res, &SymbolResolutionError{Symbol: canonical, AccountID: accountID, Tried: tried, Last: lastErr}
}

// Cached returns the cached broker symbol without probing.
func (r *Resolver) Cached(accountID, symbol string) (string, bool) {
	e, ok := r.entries.Get(entryKey(accountID, normalize(symbol)))
	if !ok || e.generation != r.generation.Load() {
		return "", false
	}
	return e.broker, true
}

// BrokerToCanonical maps a broker symbol seen on accountID back to the
// canonical name, preferring live resolutions over the static catalog.
func (r *Resolver) BrokerToCanonical(accountID, broker string) string {
	gen := r.generation.Load()
	prefix := accountID + "|"
	found := ""
	r.entries.Range(func(key string, e entry, _ time.Time) bool {
		if e.generation == gen && e.broker == broker && strings.HasPrefix(key, prefix) {
			found = strings.TrimPrefix(key, prefix)
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	if sym, ok := r.catalog.Canonical(broker); ok {
		return sym
	}
	return broker
}

// Stats describes the resolution cache.
type Stats struct {
	Entries    int    `json:"entries"`
	Stale      int    `json:"stale"`
	Generation uint64 `json:"generation"`
	AccountID  string `json:"accountId"`
}

func (r *Resolver) Stats() Stats {
	gen := r.generation.Load()
	s := Stats{Generation: gen}
	r.entries.Range(func(_ string, e entry, _ time.Time) bool {
		if e.generation == gen {
			s.Entries++
		} else {
			s.Stale++
		}
		return true
	})
	r.mu.Lock()
	s.AccountID = r.account
	r.mu.Unlock()
	return s
}

func entryKey(accountID, canonical string) string {
	return accountID + "|" + canonical
}
