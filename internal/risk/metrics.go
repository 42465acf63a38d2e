package risk

import (
	"log"
	"sync"
)

// Metrics tracks intraday realized results feeding the daily-loss check.
type Metrics struct {
	mu          sync.RWMutex
	dailyPnL    float64
	dailyTrades int
	dailyLosses float64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTrade folds a realized trade result into the daily counters.
func (m *Metrics) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyTrades++
	m.dailyPnL += pnl
	if pnl < 0 {
		m.dailyLosses += -pnl
	}
}

// DailyPnL returns cumulative realized P&L since the last reset.
func (m *Metrics) DailyPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL
}

// DailyTrades returns the trade count since the last reset.
func (m *Metrics) DailyTrades() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyTrades
}

// Reset clears daily counters; call at the start of a trading day.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Printf("risk: daily metrics reset, prev pnl=%.2f trades=%d losses=%.2f",
		m.dailyPnL, m.dailyTrades, m.dailyLosses)
	m.dailyPnL = 0
	m.dailyTrades = 0
	m.dailyLosses = 0
}
