package gateway

import "execution-core/pkg/exchanges/common"

// Session is the active account and its connection handle.
type Session struct {
	AccountID string
	Conn      common.Connection
}

// Source yields the session calls should run against.
type Source interface {
	Active() (Session, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (Session, error)

func (f SourceFunc) Active() (Session, error) { return f() }

// GatewaySource serves the connection of a single gateway.
func GatewaySource(gw common.Gateway) Source {
	return SourceFunc(func() (Session, error) {
		if !gw.IsActive() {
			return Session{}, &GatewayUnavailableError{AccountID: gw.AccountID(), Reason: "not connected"}
		}
		conn, err := gw.Connection()
		if err != nil {
			return Session{}, &GatewayUnavailableError{AccountID: gw.AccountID(), Err: err}
		}
		return Session{AccountID: gw.AccountID(), Conn: conn}, nil
	})
}
