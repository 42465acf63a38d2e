package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventPriceUpdate     Event = "price_update"
	EventSignalQueued    Event = "signal.queued"
	EventSignalRejected  Event = "signal.rejected"
	EventOrderSubmitted  Event = "order.submitted"
	EventOrderFilled     Event = "order.filled"
	EventOrderRejected   Event = "order.rejected"
	EventOrderCancelled  Event = "order.cancelled"
	EventPositionOpened  Event = "position.opened"
	EventPositionClosed  Event = "position.closed"
	EventBalanceUpdate   Event = "balance.update"
	EventRiskAlert       Event = "risk.alert"
	EventEngineStatus    Event = "engine.status"
	EventBridgeDegraded  Event = "bridge.degraded"
	EventBridgeRecovered Event = "bridge.recovered"
)

// Envelope pairs a payload with its topic, used by wildcard subscribers
// (the websocket event stream) that forward every event.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}
