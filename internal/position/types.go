// Package position tracks open market exposure, marks it to market on every
// price update, and turns closed positions into immutable trade records.
package position

import (
	"time"

	"trade-engine/internal/order"
)

// Status is the position lifecycle state. The only transition is
// open -> closed; a position is never reopened.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Close reasons recorded on trades.
const (
	ReasonStopLoss      = "stop_loss"
	ReasonTakeProfit    = "take_profit"
	ReasonRiskManager   = "risk_manager"
	ReasonSignal        = "signal"
	ReasonManual        = "manual"
	ReasonEmergencyStop = "emergency_stop"
)

// Position is an open market exposure created by exactly one filled order.
type Position struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"order_id"`
	Symbol           string     `json:"symbol"`
	Side             order.Side `json:"side"`
	Size             float64    `json:"size"`
	EntryPrice       float64    `json:"entry_price"`
	CurrentPrice     float64    `json:"current_price"`
	UnrealizedPnL    float64    `json:"unrealized_pnl"`
	UnrealizedPnLPct float64    `json:"unrealized_pnl_pct"`
	StopLoss         float64    `json:"stop_loss,omitempty"`
	TakeProfit       float64    `json:"take_profit,omitempty"`
	Margin           float64    `json:"margin"`
	Status           Status     `json:"status"`
	OpenedAt         time.Time  `json:"opened_at"`
	ClosedAt         time.Time  `json:"closed_at,omitempty"`
	CloseReason      string     `json:"close_reason,omitempty"`

	// shouldClose is the externally-set risk-manager exit flag, evaluated
	// after stop-loss and take-profit on each tick.
	shouldClose bool
	closeWhy    string
}

// Trade is the immutable record of a position's full lifecycle.
type Trade struct {
	ID          string        `json:"id"`
	PositionID  string        `json:"position_id"`
	Symbol      string        `json:"symbol"`
	Side        order.Side    `json:"side"`
	Size        float64       `json:"size"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	RealizedPnL float64       `json:"realized_pnl"`
	Duration    time.Duration `json:"duration_ms"`
	Reason      string        `json:"reason"`
	ClosedAt    time.Time     `json:"closed_at"`
}

// markTo recomputes current price and unrealized P&L from the book side a
// close would cross: bid for longs, ask for shorts.
func (p *Position) markTo(bid, ask float64) {
	if p.Side == order.SideBuy {
		p.CurrentPrice = bid
		p.UnrealizedPnL = (bid - p.EntryPrice) * p.Size
	} else {
		p.CurrentPrice = ask
		p.UnrealizedPnL = (p.EntryPrice - ask) * p.Size
	}
	if notional := p.EntryPrice * p.Size; notional > 0 {
		p.UnrealizedPnLPct = p.UnrealizedPnL / notional * 100
	}
}

// exitBreached reports the first matching exit condition, in fixed order:
// stop-loss, take-profit, then the external shouldClose flag.
func (p *Position) exitBreached() (string, bool) {
	if p.StopLoss > 0 {
		if (p.Side == order.SideBuy && p.CurrentPrice <= p.StopLoss) ||
			(p.Side == order.SideSell && p.CurrentPrice >= p.StopLoss) {
			return ReasonStopLoss, true
		}
	}
	if p.TakeProfit > 0 {
		if (p.Side == order.SideBuy && p.CurrentPrice >= p.TakeProfit) ||
			(p.Side == order.SideSell && p.CurrentPrice <= p.TakeProfit) {
			return ReasonTakeProfit, true
		}
	}
	if p.shouldClose {
		why := p.closeWhy
		if why == "" {
			why = ReasonRiskManager
		}
		return why, true
	}
	return "", false
}
