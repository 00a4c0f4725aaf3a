package order

import (
	"context"
	"errors"
	"fmt"

	"execution-core/internal/gateway"
	"execution-core/internal/risk"
	"execution-core/internal/symbols"
)

// ErrorKind is a stable classification of a failure.
type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "validation"
	ErrorKindSymbolResolution   ErrorKind = "symbol_resolution"
	ErrorKindGatewayUnavailable ErrorKind = "gateway_unavailable"
	ErrorKindBrokerRejection    ErrorKind = "broker_rejection"
	ErrorKindInvalidRiskSpec    ErrorKind = "invalid_risk_spec"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindGateway            ErrorKind = "gateway_error"
	ErrorKindInternal           ErrorKind = "internal"
)

// ValidationError reports a malformed intent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BrokerRejectionError reports a trade call the broker answered without
// accepting it.
type BrokerRejectionError struct {
	StringCode  string
	NumericCode int
	Message     string
}

func (e *BrokerRejectionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no order id returned"
	}
	switch {
	case e.StringCode != "":
		return fmt.Sprintf("broker rejected order (%s): %s", e.StringCode, msg)
	case e.NumericCode != 0:
		return fmt.Sprintf("broker rejected order (%d): %s", e.NumericCode, msg)
	}
	return "broker rejected order: " + msg
}

// PanicError carries a value recovered from a panicking broker adapter.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

// KindOf classifies err. Timeouts win over the error that carried them so a
// slow probe reads as a timeout, not as an unknown symbol.
func KindOf(err error) ErrorKind {
	var (
		verr *ValidationError
		serr *symbols.SymbolResolutionError
		berr *BrokerRejectionError
		rerr *risk.InvalidRiskSpecError
		perr *PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &perr):
		return ErrorKindInternal
	case errors.As(err, &verr):
		return ErrorKindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return ErrorKindGatewayUnavailable
	case errors.As(err, &serr), errors.Is(err, symbols.ErrEmptySymbol):
		return ErrorKindSymbolResolution
	case errors.As(err, &berr):
		return ErrorKindBrokerRejection
	case errors.As(err, &rerr):
		return ErrorKindInvalidRiskSpec
	}
	return ErrorKindGateway
}

func detailsFor(err error, stage Stage) *ErrorDetails {
	d := &ErrorDetails{Kind: KindOf(err), Stage: stage}
	var (
		verr *ValidationError
		serr *symbols.SymbolResolutionError
		berr *BrokerRejectionError
	)
	if errors.As(err, &verr) {
		d.Field = verr.Field
	}
	if errors.As(err, &serr) {
		d.Tried = append([]string(nil), serr.Tried...)
	}
	if errors.As(err, &berr) {
		d.BrokerCode = berr.StringCode
		d.NumericCode = berr.NumericCode
	}
	return d
}
