// Package risk implements the gate every signal must pass before execution
// and the violation escalation ladder.
package risk

import (
	"fmt"

	"trade-engine/internal/signal"
	"trade-engine/pkg/config"
)

// GateConfig holds the limits the gate enforces.
type GateConfig struct {
	MaxDailyLossFraction float64 // fraction of reference balance
	MaxPositions         int
	MaxRiskPerTrade      float64 // fraction of equity
	MaxSpreadPct         float64 // percent of mid price
	DefaultStopLoss      float64 // fraction of entry price
	DefaultTakeProfit    float64 // fraction of entry price
}

// Snapshot captures the engine state a validation runs against. The gate is
// a pure function over snapshot + signal; it performs no I/O so the
// dispatcher can call it without yielding to other signals.
type Snapshot struct {
	Equity           float64
	ReferenceBalance float64
	DailyPnL         float64
	OpenPositions    int
	Bid              float64
	Ask              float64
}

// Decision is the gate's verdict, including the sized order on approval.
type Decision struct {
	Approved   bool
	Reason     string
	Size       float64
	Price      float64 // reference price the size was computed against
	StopLoss   float64
	TakeProfit float64
}

// Gate validates signals against exposure, loss, and size limits.
type Gate struct {
	cfg         GateConfig
	instruments config.Instruments
}

func NewGate(cfg GateConfig, instruments config.Instruments) *Gate {
	if instruments == nil {
		instruments = config.Instruments{}
	}
	return &Gate{cfg: cfg, instruments: instruments}
}

// Validate runs the checks in fixed order, short-circuiting on the first
// failure. Close/modify signals bypass exposure checks; they reduce risk.
func (g *Gate) Validate(sig signal.Signal, snap Snapshot) Decision {
	if sig.Action == signal.ActionClose || sig.Action == signal.ActionModify {
		return Decision{Approved: true}
	}

	// 1. Daily loss breach halts all new exposure.
	if g.cfg.MaxDailyLossFraction > 0 && snap.DailyPnL < -(g.cfg.MaxDailyLossFraction*snap.ReferenceBalance) {
		return reject(fmt.Sprintf("Daily loss limit breached: %.2f", snap.DailyPnL))
	}

	// 2. Position-count ceiling.
	if g.cfg.MaxPositions > 0 && snap.OpenPositions >= g.cfg.MaxPositions {
		return reject("Maximum positions reached")
	}

	// 3. Size from the per-trade risk budget, scaled by signal strength.
	// Strength is a fraction of the budget; anything above 1 would size
	// past the limit and is rejected here.
	price := referencePrice(sig, snap)
	if price <= 0 {
		return reject(fmt.Sprintf("No price available for %s", sig.Symbol))
	}
	riskAmount := snap.Equity * g.cfg.MaxRiskPerTrade
	size := riskAmount / price
	if sig.Strength > 0 {
		size *= sig.Strength
	}
	if size*price > riskAmount*(1+1e-9) {
		return reject(fmt.Sprintf("Position value %.2f exceeds risk limit %.2f", size*price, riskAmount))
	}

	// 4. Instrument-specific order floor.
	if min := g.instruments.MinSize(sig.Symbol); min > 0 && size < min {
		return reject(fmt.Sprintf("Order size %.6f below instrument minimum %.6f", size, min))
	}

	// 5. Spread/slippage guard.
	maxSpread := g.cfg.MaxSpreadPct
	if s := g.instruments.Get(sig.Symbol).MaxSpreadPct; s > 0 {
		maxSpread = s
	}
	if maxSpread > 0 && snap.Bid > 0 && snap.Ask > snap.Bid {
		mid := (snap.Bid + snap.Ask) / 2
		spreadPct := (snap.Ask - snap.Bid) / mid * 100
		if spreadPct > maxSpread {
			return reject(fmt.Sprintf("Spread %.4f%% exceeds limit %.4f%%", spreadPct, maxSpread))
		}
	}

	dec := Decision{Approved: true, Size: size, Price: price}
	if sig.Action == signal.ActionBuy {
		dec.StopLoss = price * (1 - g.cfg.DefaultStopLoss)
		dec.TakeProfit = price * (1 + g.cfg.DefaultTakeProfit)
	} else {
		dec.StopLoss = price * (1 + g.cfg.DefaultStopLoss)
		dec.TakeProfit = price * (1 - g.cfg.DefaultTakeProfit)
	}
	return dec
}

func reject(reason string) Decision {
	return Decision{Approved: false, Reason: reason}
}

// referencePrice picks the side of the book a fill would cross.
func referencePrice(sig signal.Signal, snap Snapshot) float64 {
	if sig.Action == signal.ActionBuy {
		return snap.Ask
	}
	return snap.Bid
}
