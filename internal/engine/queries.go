package engine

import (
	"context"
	"time"

	"trade-engine/internal/account"
	"trade-engine/internal/position"
	"trade-engine/pkg/db"
)

// Status is a point-in-time view of the engine, safe to read from any
// goroutine.
type Status struct {
	State          State     `json:"state"`
	Initialized    bool      `json:"initialized"`
	Running        bool      `json:"running"`
	Mode           string    `json:"mode"`
	EmergencyStop  bool      `json:"emergency_stop"`
	BridgeDegraded bool      `json:"bridge_degraded"`
	QueueDepth     int       `json:"queue_depth"`
	OpenPositions  int       `json:"open_positions"`
	PendingOrders  int       `json:"pending_orders"`
	DailyPnL       float64   `json:"daily_pnl"`
	At             time.Time `json:"at"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	degraded := false
	if e.bridge != nil {
		degraded = e.bridge.Degraded()
	}
	return Status{
		State:          e.state,
		Initialized:    e.state != StateUninitialized && e.state != StateInitializing,
		Running:        e.state == StateRunning,
		Mode:           string(e.executor.Mode()),
		EmergencyStop:  e.emergency,
		BridgeDegraded: degraded,
		QueueDepth:     e.queue.Len(),
		OpenPositions:  e.ledger.OpenCount(),
		PendingOrders:  e.executor.PendingCount(),
		DailyPnL:       e.metrics.DailyPnL(),
		At:             e.clk.Now(),
	}
}

// Positions returns a snapshot of open positions.
func (e *Engine) Positions() []position.Position {
	return e.ledger.Positions()
}

// Trades returns the in-memory closed-trade history, oldest first.
func (e *Engine) Trades() []position.Trade {
	return e.ledger.Trades()
}

// Orders returns recent orders from the store, newest first.
func (e *Engine) Orders(ctx context.Context, limit int) ([]db.Order, error) {
	return e.store.ListOrders(ctx, limit)
}

// Balance returns the current account snapshot.
func (e *Engine) Balance() account.Balance {
	return e.tracker.Snapshot()
}

// Performance recomputes trade statistics over the full realized history.
func (e *Engine) Performance() account.Performance {
	return account.ComputePerformance(e.ledger.TradePnLs(), e.cfg.InitialBalance)
}
