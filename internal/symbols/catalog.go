package symbols

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog maps canonical symbols to the ordered broker names to try.
type Catalog struct {
	mu       sync.RWMutex
	variants map[string][]string
}

// NewCatalog returns a catalog seeded with the built-in variant lists.
func NewCatalog() *Catalog {
	c := &Catalog{variants: make(map[string][]string)}
	for sym, vs := range builtinVariants() {
		c.variants[sym] = vs
	}
	return c
}

func builtinVariants() map[string][]string {
	out := map[string][]string{
		"XAUUSD": {"XAUUSD", "GOLD", "XAUUSDm", "XAUUSD.", "XAUUSD.r", "GOLDm", "GOLD.", "XAUUSD_o"},
		"XAGUSD": {"XAGUSD", "SILVER", "XAGUSDm", "XAGUSD.", "XAGUSD.r", "SILVERm", "SILVER.", "XAGUSD_o"},
		"US30":   {"US30", "DJ30", "WS30", "US30m", "US30.cash", "DJI"},
		"NAS100": {"NAS100", "USTEC", "NDX100", "US100", "NAS100m", "US100.cash"},
		"SPX500": {"SPX500", "US500", "SP500", "SPX500m", "US500.cash"},
		"GER40":  {"GER40", "DE40", "DAX40", "GER30", "DE40.cash"},
		"UK100":  {"UK100", "FTSE100", "UK100m", "UK100.cash"},
		"USOIL":  {"USOIL", "WTI", "XTIUSD", "USOILm", "CL-OIL"},
		"UKOIL":  {"UKOIL", "BRENT", "XBRUSD", "UKOILm"},
		"BTCUSD": {"BTCUSD", "BTCUSDm", "BTCUSD.", "BTCUSDT", "BITCOIN"},
		"ETHUSD": {"ETHUSD", "ETHUSDm", "ETHUSD.", "ETHUSDT", "ETHEREUM"},
	}
	for _, fx := range []string{"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "NZDUSD", "USDCAD", "EURJPY", "GBPJPY", "EURGBP"} {
		out[fx] = []string{fx, fx + "m", fx + ".", fx + ".r", fx + "_o", fx + ".pro"}
	}
	return out
}

type catalogFile struct {
	Symbols map[string][]string `yaml:"symbols"`
}

// LoadCatalog reads a YAML variant file and merges it over the built-ins.
// Lists in the file replace the built-in list for the same symbol.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbol catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse symbol catalog: %w", err)
	}
	for sym, vs := range f.Symbols {
		if err := c.Set(sym, vs); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Set replaces the variant list for a canonical symbol. Blank and duplicate
// entries are dropped.
func (c *Catalog) Set(canonical string, variants []string) error {
	canonical = normalize(canonical)
	if canonical == "" {
		return fmt.Errorf("symbol catalog: empty canonical symbol")
	}
	seen := make(map[string]struct{}, len(variants))
	clean := make([]string, 0, len(variants))
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		clean = append(clean, v)
	}
	if len(clean) == 0 {
		return fmt.Errorf("symbol catalog: %s has no variants", canonical)
	}
	c.mu.Lock()
	c.variants[canonical] = clean
	c.mu.Unlock()
	return nil
}

// Variants returns the ordered variants to try. Unknown symbols resolve to
// themselves only.
func (c *Catalog) Variants(canonical string) []string {
	canonical = normalize(canonical)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if vs, ok := c.variants[canonical]; ok {
		return append([]string(nil), vs...)
	}
	return []string{canonical}
}

// Canonical maps a broker symbol back to its canonical name. An exact match
// wins over a case-insensitive one.
func (c *Catalog) Canonical(broker string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var folded string
	for sym, vs := range c.variants {
		for _, v := range vs {
			if v == broker {
				return sym, true
			}
			if folded == "" && strings.EqualFold(v, broker) {
				folded = sym
			}
		}
	}
	return folded, folded != ""
}

// Symbols lists the canonical symbols with a variant list.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.variants))
	for sym := range c.variants {
		out = append(out, sym)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
