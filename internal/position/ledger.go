package position

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade-engine/internal/account"
	"trade-engine/internal/events"
	"trade-engine/internal/order"
	"trade-engine/pkg/db"
)

// ErrNotFound is returned when closing a position that is not open; a second
// close of the same id is a no-op reporting this error.
var ErrNotFound = errors.New("position not found")

// ExitPricer computes the price a close transacts at.
type ExitPricer interface {
	ExitPrice(ctx context.Context, p Position, mark float64) (float64, error)
}

// PaperPricer prices exits through the shared fill model.
type PaperPricer struct {
	Model *order.FillModel
}

func (pp PaperPricer) ExitPrice(_ context.Context, p Position, mark float64) (float64, error) {
	return pp.Model.ExitPrice(p.Side, mark), nil
}

// TradeWriter appends closed trades asynchronously; writes are retried by
// the journal, never by the trading path.
type TradeWriter interface {
	AppendTrade(t db.Trade)
	RetryBalance(b db.BalanceRow)
}

// Ledger is the single owner of open positions. All mutation happens on the
// engine goroutine; other components read snapshots.
type Ledger struct {
	mu        sync.RWMutex
	open      map[string]*Position
	trades    []Trade
	store     *db.Database
	journal   TradeWriter
	tracker   *account.Tracker
	bus       *events.Bus
	pricer    ExitPricer
	fill      *order.FillModel
	leverage  float64
	tradeHook func(Trade)
}

func NewLedger(store *db.Database, journal TradeWriter, tracker *account.Tracker, bus *events.Bus, fill *order.FillModel, leverage float64) *Ledger {
	if leverage <= 0 {
		leverage = 1
	}
	return &Ledger{
		open:     make(map[string]*Position),
		store:    store,
		journal:  journal,
		tracker:  tracker,
		bus:      bus,
		pricer:   PaperPricer{Model: fill},
		fill:     fill,
		leverage: leverage,
	}
}

// SetExitPricer swaps the exit pricing source. The engine installs a pricer
// that routes through the executor so live closes unwind venue exposure.
func (l *Ledger) SetExitPricer(p ExitPricer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p != nil {
		l.pricer = p
	}
}

// SetTradeHook installs a synchronous callback invoked for every closed
// trade, used to feed daily risk metrics.
func (l *Ledger) SetTradeHook(fn func(Trade)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradeHook = fn
}

// Open creates a position from a filled order (1:1). The position row is
// persisted before the position is acknowledged as tracked.
func (l *Ledger) Open(ctx context.Context, o order.Order, stopLoss, takeProfit float64) (*Position, error) {
	if o.Status != order.StatusFilled {
		return nil, fmt.Errorf("order %s is %s, not filled", o.ID, o.Status)
	}
	if o.Size <= 0 {
		return nil, fmt.Errorf("order %s has non-positive size", o.ID)
	}

	p := &Position{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		Symbol:       o.Symbol,
		Side:         o.Side,
		Size:         o.Size,
		EntryPrice:   o.Price,
		CurrentPrice: o.Price,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Margin:       o.Price * o.Size / l.leverage,
		Status:       StatusOpen,
		OpenedAt:     time.Now(),
	}

	if err := l.persist(ctx, p); err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	l.mu.Lock()
	l.open[p.ID] = p
	l.mu.Unlock()

	l.tracker.Reserve(p.Margin)
	l.reconcile(ctx, false)
	l.publish(events.EventPositionOpened, *p)
	log.Printf("ledger: opened %s %s size=%.6f entry=%.5f sl=%.5f tp=%.5f",
		p.Side, p.Symbol, p.Size, p.EntryPrice, p.StopLoss, p.TakeProfit)
	return p, nil
}

// Restore re-tracks a persisted position on startup without re-reserving
// persisted margin state (the balance row already reflects it).
func (l *Ledger) Restore(p Position) {
	if p.Margin == 0 {
		p.Margin = p.EntryPrice * p.Size / l.leverage
	}
	cp := p
	l.mu.Lock()
	l.open[cp.ID] = &cp
	l.mu.Unlock()
}

// OnPriceUpdate marks every open position on the symbol to market and
// evaluates exits in fixed order: stop-loss, take-profit, shouldClose. Only
// the first matching condition closes a position in a given tick. Closed
// trades are returned.
func (l *Ledger) OnPriceUpdate(ctx context.Context, symbol string, bid, ask float64) []Trade {
	if bid <= 0 || ask <= 0 {
		return nil
	}

	l.mu.Lock()
	var toClose []*Position
	for _, p := range l.open {
		if p.Symbol != symbol {
			continue
		}
		p.markTo(bid, ask)
		if reason, hit := p.exitBreached(); hit {
			p.closeWhy = reason
			toClose = append(toClose, p)
		}
	}
	l.mu.Unlock()

	var closed []Trade
	for _, p := range toClose {
		t, err := l.Close(ctx, p.ID, p.closeWhy)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Printf("ledger: exit close %s: %v", p.ID, err)
			}
			continue
		}
		closed = append(closed, *t)
	}

	l.reconcile(ctx, false)
	return closed
}

// MarkShouldClose flags a position for closure on its next price update.
func (l *Ledger) MarkShouldClose(id, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[id]
	if !ok {
		return ErrNotFound
	}
	p.shouldClose = true
	p.closeWhy = reason
	return nil
}

// UpdateStops re-anchors a position's protective levels. Zero leaves the
// corresponding level unchanged.
func (l *Ledger) UpdateStops(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	l.mu.Lock()
	p, ok := l.open[id]
	if !ok {
		l.mu.Unlock()
		return ErrNotFound
	}
	if stopLoss > 0 {
		p.StopLoss = stopLoss
	}
	if takeProfit > 0 {
		p.TakeProfit = takeProfit
	}
	snapshot := *p
	l.mu.Unlock()

	if err := l.persist(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist stop update of %s: %w", id, err)
	}
	log.Printf("ledger: updated stops on %s sl=%.5f tp=%.5f", id, snapshot.StopLoss, snapshot.TakeProfit)
	return nil
}

// Close removes the position from the open set and produces its trade
// record. Idempotent: a second call for the same id returns ErrNotFound and
// records nothing. The position and balance writes complete before the close
// is acknowledged; a failed position write aborts the close.
func (l *Ledger) Close(ctx context.Context, id, reason string) (*Trade, error) {
	l.mu.Lock()
	p, ok := l.open[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrNotFound
	}
	snapshot := *p
	l.mu.Unlock()

	// A failed exit fill still settles locally at the mark so the book goes
	// flat; the failure is loud because the venue side may need manual care.
	exit, err := l.pricer.ExitPrice(ctx, snapshot, snapshot.CurrentPrice)
	if err != nil {
		log.Printf("ledger: exit fill for %s failed, settling at mark price: %v", id, err)
		exit = snapshot.CurrentPrice
	}
	return l.settle(ctx, id, reason, exit)
}

func (l *Ledger) settle(ctx context.Context, id, reason string, exit float64) (*Trade, error) {
	l.mu.Lock()
	p, ok := l.open[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrNotFound
	}

	var gross float64
	if p.Side == order.SideBuy {
		gross = (exit - p.EntryPrice) * p.Size
	} else {
		gross = (p.EntryPrice - exit) * p.Size
	}
	realized := gross - l.fill.RoundTripCommission(p.EntryPrice*p.Size)

	now := time.Now()
	closed := *p
	closed.Status = StatusClosed
	closed.CurrentPrice = exit
	closed.UnrealizedPnL = 0
	closed.UnrealizedPnLPct = 0
	closed.ClosedAt = now
	closed.CloseReason = reason
	l.mu.Unlock()

	// Position state must be durable before the close is acknowledged.
	if err := l.persist(ctx, &closed); err != nil {
		return nil, fmt.Errorf("persist close of %s: %w", id, err)
	}

	l.mu.Lock()
	delete(l.open, id)
	t := Trade{
		ID:          uuid.NewString(),
		PositionID:  id,
		Symbol:      closed.Symbol,
		Side:        closed.Side,
		Size:        closed.Size,
		EntryPrice:  closed.EntryPrice,
		ExitPrice:   exit,
		RealizedPnL: realized,
		Duration:    now.Sub(closed.OpenedAt),
		Reason:      reason,
		ClosedAt:    now,
	}
	l.trades = append(l.trades, t)
	hook := l.tradeHook
	l.mu.Unlock()

	l.tracker.Settle(closed.Margin, realized)
	l.reconcile(ctx, true)

	if l.journal != nil {
		l.journal.AppendTrade(db.Trade{
			ID:          t.ID,
			PositionID:  t.PositionID,
			Symbol:      t.Symbol,
			Side:        string(t.Side),
			Size:        t.Size,
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			RealizedPnL: t.RealizedPnL,
			DurationMs:  t.Duration.Milliseconds(),
			Reason:      t.Reason,
			ClosedAt:    t.ClosedAt,
		})
	}
	if hook != nil {
		hook(t)
	}

	l.publish(events.EventPositionClosed, t)
	log.Printf("ledger: closed %s %s exit=%.5f pnl=%.2f reason=%s", t.Side, t.Symbol, exit, realized, reason)
	return &t, nil
}

// CloseAll closes every open position with the given reason.
func (l *Ledger) CloseAll(ctx context.Context, reason string) []Trade {
	l.mu.RLock()
	ids := make([]string, 0, len(l.open))
	for id := range l.open {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	var closed []Trade
	for _, id := range ids {
		t, err := l.Close(ctx, id, reason)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Printf("ledger: close-all %s: %v", id, err)
			}
			continue
		}
		closed = append(closed, *t)
	}
	return closed
}

// reconcile recomputes equity from balance + open unrealized P&L and
// persists the balance row. The close path requires the write to land
// synchronously; on failure there it is handed to the journal for retry.
func (l *Ledger) reconcile(ctx context.Context, durable bool) {
	l.mu.RLock()
	sum := 0.0
	for _, p := range l.open {
		sum += p.UnrealizedPnL
	}
	l.mu.RUnlock()

	bal := l.tracker.Reconcile(sum)
	l.publish(events.EventBalanceUpdate, bal)

	if l.store == nil || !durable {
		return
	}
	row := db.BalanceRow{
		Balance:    bal.Balance,
		Equity:     bal.Equity,
		Margin:     bal.Margin,
		FreeMargin: bal.FreeMargin,
	}
	if err := l.store.SaveBalance(ctx, row); err != nil {
		log.Printf("ledger: balance write failed, queueing retry: %v", err)
		if l.journal != nil {
			l.journal.RetryBalance(row)
		}
	}
}

// UnrealizedSum returns total unrealized P&L over open positions.
func (l *Ledger) UnrealizedSum() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := 0.0
	for _, p := range l.open {
		sum += p.UnrealizedPnL
	}
	return sum
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}

// Positions returns a snapshot of open positions.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Position, 0, len(l.open))
	for _, p := range l.open {
		res = append(res, *p)
	}
	return res
}

// Get returns a copy of one open position.
func (l *Ledger) Get(id string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.open[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// FindBySymbol returns open positions on a symbol.
func (l *Ledger) FindBySymbol(symbol string) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var res []Position
	for _, p := range l.open {
		if p.Symbol == symbol {
			res = append(res, *p)
		}
	}
	return res
}

// Trades returns the in-memory closed-trade ledger, oldest first.
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Trade, len(l.trades))
	copy(res, l.trades)
	return res
}

// TradePnLs returns realized P&L per trade in close order, feeding the
// performance recomputation.
func (l *Ledger) TradePnLs() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]float64, len(l.trades))
	for i, t := range l.trades {
		res[i] = t.RealizedPnL
	}
	return res
}

func (l *Ledger) persist(ctx context.Context, p *Position) error {
	if l.store == nil {
		return nil
	}
	row := db.Position{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Symbol:       p.Symbol,
		Side:         string(p.Side),
		Size:         p.Size,
		EntryPrice:   p.EntryPrice,
		CurrentPrice: p.CurrentPrice,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		Status:       string(p.Status),
		CloseReason:  p.CloseReason,
		OpenedAt:     p.OpenedAt,
	}
	if p.Status == StatusClosed {
		row.ClosedAt = sql.NullTime{Time: p.ClosedAt, Valid: true}
	}
	return l.store.UpsertPosition(ctx, row)
}

func (l *Ledger) publish(ev events.Event, payload any) {
	if l.bus != nil {
		l.bus.Publish(ev, payload)
	}
}
