package db

import (
	"context"
	"database/sql"
	"time"
)

// Order represents an order row.
type Order struct {
	ID        string
	SignalID  string
	Symbol    string
	Type      string
	Side      string
	Size      float64
	Price     float64
	Status    string
	CreatedAt time.Time
}

// Position represents a position row.
type Position struct {
	ID           string
	OrderID      string
	Symbol       string
	Side         string
	Size         float64
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Status       string
	CloseReason  string
	OpenedAt     time.Time
	ClosedAt     sql.NullTime
}

// Trade represents an immutable closed-trade row.
type Trade struct {
	ID          string
	PositionID  string
	Symbol      string
	Side        string
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	DurationMs  int64
	Reason      string
	ClosedAt    time.Time
}

// BalanceRow is the singleton account balance row.
type BalanceRow struct {
	Balance    float64
	Equity     float64
	Margin     float64
	FreeMargin float64
	UpdatedAt  time.Time
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, signal_id, symbol, type, side, size, price, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, o.ID, o.SignalID, o.Symbol, o.Type, o.Side, o.Size, o.Price, o.Status, o.CreatedAt)
	return err
}

// UpdateOrderStatus sets the status of an order.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	res, err := d.DB.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrdersByStatus returns orders matching a status, newest first.
func (d *Database) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(signal_id, ''), symbol, type, side, size, price, status, created_at
		FROM orders WHERE status = ?
		ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOrders returns the most recent orders up to limit.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(signal_id, ''), symbol, type, side, size, price, status, created_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.SignalID, &o.Symbol, &o.Type, &o.Side, &o.Size, &o.Price, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// UpsertPosition stores the latest state of a position.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, order_id, symbol, side, size, entry_price, current_price,
			stop_loss, take_profit, status, close_reason, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			current_price = excluded.current_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			status = excluded.status,
			close_reason = excluded.close_reason,
			closed_at = excluded.closed_at
	`, p.ID, p.OrderID, p.Symbol, p.Side, p.Size, p.EntryPrice, p.CurrentPrice,
		p.StopLoss, p.TakeProfit, p.Status, p.CloseReason, p.OpenedAt, p.ClosedAt)
	return err
}

// ListOpenPositions returns positions still open, for reload on restart.
func (d *Database) ListOpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, order_id, symbol, side, size, entry_price, current_price,
		       stop_loss, take_profit, status, close_reason, opened_at, closed_at
		FROM positions WHERE status = 'open'
		ORDER BY opened_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Symbol, &p.Side, &p.Size, &p.EntryPrice,
			&p.CurrentPrice, &p.StopLoss, &p.TakeProfit, &p.Status, &p.CloseReason,
			&p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CreateTrade appends a closed-trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, position_id, symbol, side, size, entry_price, exit_price,
			realized_pnl, duration_ms, reason, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.PositionID, t.Symbol, t.Side, t.Size, t.EntryPrice, t.ExitPrice,
		t.RealizedPnL, t.DurationMs, t.Reason, t.ClosedAt)
	return err
}

// ListTrades returns the most recent trades up to limit.
func (d *Database) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, position_id, symbol, side, size, entry_price, exit_price,
		       realized_pnl, duration_ms, reason, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.Size, &t.EntryPrice,
			&t.ExitPrice, &t.RealizedPnL, &t.DurationMs, &t.Reason, &t.ClosedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SaveBalance upserts the singleton balance row.
func (d *Database) SaveBalance(ctx context.Context, b BalanceRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO balance (id, balance, equity, margin, free_margin, updated_at)
		VALUES (1, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			equity = excluded.equity,
			margin = excluded.margin,
			free_margin = excluded.free_margin,
			updated_at = CURRENT_TIMESTAMP
	`, b.Balance, b.Equity, b.Margin, b.FreeMargin)
	return err
}

// LoadBalance reads the singleton balance row; ErrNotFound when absent.
func (d *Database) LoadBalance(ctx context.Context) (BalanceRow, error) {
	var b BalanceRow
	err := d.DB.QueryRowContext(ctx, `
		SELECT balance, equity, margin, free_margin, updated_at FROM balance WHERE id = 1
	`).Scan(&b.Balance, &b.Equity, &b.Margin, &b.FreeMargin, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}
