package gateway

import (
	"fmt"

	"github.com/rs/zerolog"

	"execution-core/pkg/exchanges/bridge"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
)

// Factory builds a gateway for an account id.
type Factory func(accountID string) (common.Gateway, error)

// PaperFactory creates simulated accounts.
func PaperFactory(cfg paper.Config) Factory {
	return func(accountID string) (common.Gateway, error) {
		return paper.New(accountID, cfg), nil
	}
}

// BridgeFactory creates bridge clients sharing endpoint settings.
func BridgeFactory(cfg bridge.Config, log zerolog.Logger) Factory {
	return func(accountID string) (common.Gateway, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("bridge base url not configured")
		}
		c := cfg
		c.AccountID = accountID
		return bridge.NewClient(c, log), nil
	}
}
