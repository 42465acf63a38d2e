// Package signal defines trading signals and the queue/dispatcher pair that
// serializes their execution.
package signal

import "time"

// Action is the intent carried by a signal.
type Action string

const (
	ActionBuy    Action = "buy"
	ActionSell   Action = "sell"
	ActionClose  Action = "close"
	ActionModify Action = "modify"
)

// Signal is a directional trading suggestion, not yet risk-checked.
// It is transient and consumed exactly once by the dispatcher.
type Signal struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Action           Action    `json:"action"`
	Strength         float64   `json:"strength"`
	Confidence       float64   `json:"confidence"`
	Source           string    `json:"source"`
	TargetPositionID string    `json:"target_position_id,omitempty"`
	At               time.Time `json:"at"`
}
