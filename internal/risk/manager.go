package risk

import (
	"github.com/rs/zerolog"

	"execution-core/pkg/exchanges/common"
)

// Config holds execution-wide risk limits.
type Config struct {
	MinLot                float64
	MaxLot                float64
	MinStopDistancePoints float64
}

// DefaultConfig mirrors the process defaults.
func DefaultConfig() Config {
	return Config{MinLot: 0.01, MaxLot: 100}
}

// Calculator applies Config to individual orders.
type Calculator struct {
	cfg Config
	log zerolog.Logger
}

func NewCalculator(cfg Config, log zerolog.Logger) *Calculator {
	if cfg.MinLot <= 0 {
		cfg.MinLot = DefaultConfig().MinLot
	}
	if cfg.MaxLot <= 0 {
		cfg.MaxLot = DefaultConfig().MaxLot
	}
	return &Calculator{cfg: cfg, log: log.With().Str("component", "risk").Logger()}
}

func (c *Calculator) Config() Config { return c.cfg }

// Protection is the absolute stop and target for an order; zero means none.
type Protection struct {
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
}

// Protect derives absolute levels for the optional stop and target and
// checks each against the minimum distance from base.
func (c *Calculator) Protect(base float64, side common.Side, stop *StopSpec, target *TargetSpec, spec SymbolSpec) (Protection, error) {
	var p Protection
	if stop != nil {
		sl, err := DeriveStop(base, *stop, side, spec)
		if err != nil {
			return Protection{}, err
		}
		if err := ValidateDistance(base, sl, c.cfg.MinStopDistancePoints, spec.Point); err != nil {
			return Protection{}, err
		}
		p.StopLoss = sl
	}
	if target != nil {
		tp, err := DeriveTarget(base, *target, side, spec)
		if err != nil {
			return Protection{}, err
		}
		if err := ValidateDistance(base, tp, c.cfg.MinStopDistancePoints, spec.Point); err != nil {
			return Protection{}, err
		}
		p.TakeProfit = tp
	}
	if stop != nil || target != nil {
		c.log.Debug().Float64("base", base).Str("side", string(side)).
			Float64("stop_loss", p.StopLoss).Float64("take_profit", p.TakeProfit).Msg("protection derived")
	}
	return p, nil
}

// Volume normalises a requested lot size for spec.
func (c *Calculator) Volume(volume float64, spec SymbolSpec) float64 {
	return NormalizeVolume(volume, spec, c.cfg.MinLot, c.cfg.MaxLot)
}
