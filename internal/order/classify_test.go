package order

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"execution-core/internal/gateway"
	"execution-core/internal/risk"
	"execution-core/internal/symbols"
	"execution-core/pkg/exchanges/common"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		resp   common.TradeResponse
		want   Status
		reject bool
	}{
		{"string done", common.TradeResponse{StringCode: common.CodeDone, OrderID: "1", PositionID: "2"}, StatusFilled, false},
		{"string partial", common.TradeResponse{StringCode: common.CodeDonePartial, OrderID: "1"}, StatusFilled, false},
		{"string placed", common.TradeResponse{StringCode: common.CodePlaced, OrderID: "1"}, StatusPending, false},
		{"numeric done", common.TradeResponse{NumericCode: 10009, PositionID: "2"}, StatusFilled, false},
		{"numeric placed", common.TradeResponse{NumericCode: 10008, OrderID: "1"}, StatusPending, false},
		{"ids only fill", common.TradeResponse{OrderID: "1", PositionID: "2"}, StatusFilled, false},
		{"order id only", common.TradeResponse{OrderID: "1"}, StatusPending, false},
		{"done without ids", common.TradeResponse{StringCode: common.CodeDone}, StatusFailed, true},
		{"reject code with ids", common.TradeResponse{StringCode: common.CodeRejected, OrderID: "1"}, StatusFailed, true},
		{"unknown numeric", common.TradeResponse{NumericCode: common.NumericInvalid, OrderID: "1"}, StatusFailed, true},
		{"empty", common.TradeResponse{}, StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.resp)
			assert.Equal(t, tt.want, got)
			if tt.reject {
				var berr *BrokerRejectionError
				assert.ErrorAs(t, err, &berr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&ValidationError{Field: "side"}, ErrorKindValidation},
		{&symbols.SymbolResolutionError{Symbol: "X", Last: errors.New("unknown")}, ErrorKindSymbolResolution},
		{&symbols.SymbolResolutionError{Symbol: "X", Last: context.DeadlineExceeded}, ErrorKindTimeout},
		{&gateway.GatewayUnavailableError{AccountID: "a"}, ErrorKindGatewayUnavailable},
		{fmt.Errorf("submit: %w", &BrokerRejectionError{StringCode: common.CodeRejected}), ErrorKindBrokerRejection},
		{&risk.InvalidRiskSpecError{Kind: "atr"}, ErrorKindInvalidRiskSpec},
		{errors.New("connection reset"), ErrorKindGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.err.Error())
	}
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}
