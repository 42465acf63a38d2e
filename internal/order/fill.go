package order

import (
	"math/rand"
	"sync"
	"time"
)

// FillModel produces simulated fill prices with bounded adverse slippage and
// computes commission. Paper fills and paper exit pricing share this single
// model so simulated P&L stays comparable to live results. The randomness
// source is seeded through configuration; tests pass a fixed seed for
// deterministic fills.
type FillModel struct {
	mu             sync.Mutex
	rng            *rand.Rand
	maxSlippage    float64 // fraction of price
	commissionRate float64 // fraction of notional, per side
}

// NewFillModel creates a model; seed 0 falls back to the wall clock.
func NewFillModel(seed int64, maxSlippage, commissionRate float64) *FillModel {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FillModel{
		rng:            rand.New(rand.NewSource(seed)),
		maxSlippage:    maxSlippage,
		commissionRate: commissionRate,
	}
}

// EntryPrice returns the simulated fill price for opening on the given side.
// Slippage is always adverse: buys fill above the mark, sells below.
func (m *FillModel) EntryPrice(side Side, mark float64) float64 {
	offset := m.slip() * mark
	if side == SideBuy {
		return mark + offset
	}
	return mark - offset
}

// ExitPrice returns the simulated price for closing a position held on the
// given side; the closing transaction crosses the opposite way.
func (m *FillModel) ExitPrice(side Side, mark float64) float64 {
	offset := m.slip() * mark
	if side == SideBuy {
		return mark - offset
	}
	return mark + offset
}

// RoundTripCommission is the open-plus-close commission on a notional value.
func (m *FillModel) RoundTripCommission(notional float64) float64 {
	if notional < 0 {
		notional = -notional
	}
	return notional * m.commissionRate * 2
}

// MaxSlippage exposes the configured bound.
func (m *FillModel) MaxSlippage() float64 { return m.maxSlippage }

func (m *FillModel) slip() float64 {
	if m.maxSlippage <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() * m.maxSlippage
}
