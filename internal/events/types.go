package events

// Event enumerates topics published inside the execution core.
type Event string

const (
	EventPriceTick        Event = "price_tick"
	EventOrderSubmitted   Event = "order.submitted"
	EventOrderFilled      Event = "order.filled"
	EventOrderPending     Event = "order.pending"
	EventOrderRejected    Event = "order.rejected"
	EventPositionClosed   Event = "position.closed"
	EventPositionModified Event = "position.modified"
	EventAccountSwitched  Event = "account.switched"
	EventSubscriberLagged Event = "subscription.lagged"
)

// AccountSwitch is the payload of EventAccountSwitched.
type AccountSwitch struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SubscriberLag is the payload of EventSubscriberLagged.
type SubscriberLag struct {
	SubscriptionID string `json:"subscriptionId"`
	Symbol         string `json:"symbol"`
	Dropped        uint64 `json:"dropped"`
}
