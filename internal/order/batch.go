package order

import (
	"context"
	"sync"
)

// PlaceBatchTrades places every intent concurrently and returns outcomes
// index-aligned with intents. One failing or panicking intent never affects
// the others, since PlaceTrade folds both into its outcome. BatchConcurrency,
// when positive, caps in-flight placements.
func (e *Executor) PlaceBatchTrades(ctx context.Context, intents []TradeIntent) []TradeOutcome {
	out := make([]TradeOutcome, len(intents))
	if len(intents) == 0 {
		return out
	}

	var slots chan struct{}
	if e.cfg.BatchConcurrency > 0 {
		slots = make(chan struct{}, e.cfg.BatchConcurrency)
	}

	var wg sync.WaitGroup
	for i, in := range intents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if slots != nil {
				slots <- struct{}{}
				defer func() { <-slots }()
			}
			out[i] = e.PlaceTrade(ctx, in)
		}()
	}
	wg.Wait()

	ok := 0
	for _, o := range out {
		if o.Success {
			ok++
		}
	}
	e.metrics.ObserveBatch(len(intents))
	e.log.Info().Int("total", len(intents)).Int("succeeded", ok).Int("failed", len(intents)-ok).Msg("batch placed")
	return out
}
