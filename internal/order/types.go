package order

import "time"

// Type is the order kind.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
	TypeStop   Type = "stop"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status is the order lifecycle state. pending is the only non-terminal
// state; filled, rejected, and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFilled    Status = "filled"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Order is a request to transact, owned by the executor until it reaches a
// terminal state.
type Order struct {
	ID        string    `json:"id"`
	SignalID  string    `json:"signal_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Type      Type      `json:"type"`
	Side      Side      `json:"side"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}
