// Package bridge maintains the asynchronous channel to the external
// execution venue: request/response for order placement and a streaming
// subscription for market data.
package bridge

import (
	"encoding/json"
	"time"
)

// Stream message types delivered by the venue.
const (
	TopicPrice = "PRICE"
	TopicTick  = "TICK"
	TopicNews  = "NEWS"
)

// PriceUpdate is a bid/ask quote for a symbol.
type PriceUpdate struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	At     time.Time `json:"timestamp"`
}

// Tick is a last-trade print.
type Tick struct {
	Symbol string    `json:"symbol"`
	Last   float64   `json:"last"`
	Volume float64   `json:"volume"`
	At     time.Time `json:"timestamp"`
}

// News is a news-impact notification.
type News struct {
	Currencies []string `json:"currencies"`
	Impact     string   `json:"impact"` // low, medium, high
	Headline   string   `json:"headline,omitempty"`
}

// StreamHandlers receive typed stream messages. Handlers run on the bridge
// reader goroutine; they must hand work off quickly.
type StreamHandlers struct {
	OnPrice func(PriceUpdate)
	OnTick  func(Tick)
	OnNews  func(News)
}

// wireMessage is the single frame format on the venue channel. Frames with
// an ID are request/response pairs; frames without one are stream messages
// tagged by Type.
type wireMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Ticket  string          `json:"ticket,omitempty"`
	Price   float64         `json:"price,omitempty"`
	Error   string          `json:"error,omitempty"`
}
