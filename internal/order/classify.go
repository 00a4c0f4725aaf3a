package order

import "execution-core/pkg/exchanges/common"

var (
	filledCodes  = map[string]bool{common.CodeDone: true, common.CodeDonePartial: true}
	pendingCodes = map[string]bool{common.CodePlaced: true}
	filledNums   = map[int]bool{common.NumericDone: true, common.NumericDonePartial: true}
	pendingNums  = map[int]bool{common.NumericPlaced: true}
)

// Classify turns a raw broker answer into FILLED or PENDING, or a
// BrokerRejectionError. An explicit code decides when present; otherwise an
// order id plus position id means an immediate fill and an order id alone a
// pending order. A success code without any id is still a rejection.
func Classify(resp common.TradeResponse) (Status, error) {
	hasID := resp.OrderID != "" || resp.PositionID != ""
	reject := &BrokerRejectionError{StringCode: resp.StringCode, NumericCode: resp.NumericCode, Message: resp.Message}

	var status Status
	switch {
	case resp.StringCode != "":
		switch {
		case filledCodes[resp.StringCode]:
			status = StatusFilled
		case pendingCodes[resp.StringCode]:
			status = StatusPending
		default:
			return StatusFailed, reject
		}
	case resp.NumericCode != 0:
		switch {
		case filledNums[resp.NumericCode]:
			status = StatusFilled
		case pendingNums[resp.NumericCode]:
			status = StatusPending
		default:
			return StatusFailed, reject
		}
	case resp.OrderID != "" && resp.PositionID != "":
		return StatusFilled, nil
	case resp.OrderID != "":
		return StatusPending, nil
	default:
		return StatusFailed, reject
	}
	if !hasID {
		return StatusFailed, reject
	}
	return status, nil
}
