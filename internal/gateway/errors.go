package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrPoolFull           = errors.New("gateway pool is full")
)

// GatewayUnavailableError reports that no connected account can serve a call.
type GatewayUnavailableError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *GatewayUnavailableError) Error() string {
	msg := "gateway unavailable"
	if e.AccountID != "" {
		msg += " for account " + e.AccountID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

func (e *GatewayUnavailableError) Is(target error) bool {
	return target == ErrGatewayUnavailable
}
