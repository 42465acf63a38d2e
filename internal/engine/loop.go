package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"trade-engine/internal/bridge"
	"trade-engine/internal/events"
	"trade-engine/internal/order"
	"trade-engine/internal/position"
	"trade-engine/internal/risk"
	"trade-engine/internal/signal"
	"trade-engine/pkg/cache"
)

// Run is the engine's single owner goroutine. Every mutation of trading
// state happens here: price updates mark the ledger, the dispatch ticker
// drains the signal queue, and control commands execute between them.
// Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateUninitialized || e.state == StateInitializing {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.loopRunning {
		e.mu.Unlock()
		return errors.New("engine loop already running")
	}
	e.loopRunning = true
	e.ctx = ctx
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.loopRunning = false
		e.ctx = nil
		e.mu.Unlock()
	}()

	ticker := e.clk.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()
	log.Printf("engine: loop started, dispatching every %s", e.cfg.DispatchInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("engine: loop stopping: %v", ctx.Err())
			return nil
		case p := <-e.priceCh:
			e.handlePrice(ctx, p)
		case cmd := <-e.cmdCh:
			cmd.fn(ctx)
			close(cmd.done)
		case <-ticker.C():
			e.onTick(ctx)
		}
	}
}

func (e *Engine) onTick(ctx context.Context) {
	e.maybeRollDay()
	e.maybeResume()
	if !e.canDispatch() {
		return
	}
	e.dispatcher.DrainOnce(func() bool { return !e.canDispatch() })
}

func (e *Engine) canDispatch() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateRunning && !e.emergency
}

// maybeResume lifts an expired cool-down pause.
func (e *Engine) maybeResume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused || e.pausedUntil.IsZero() {
		return
	}
	if e.clk.Now().Before(e.pausedUntil) {
		return
	}
	e.state = StateRunning
	e.pausedUntil = time.Time{}
	log.Printf("engine: cool-down elapsed, resuming dispatch")
	e.publishStatusLocked()
}

// maybeRollDay resets daily risk counters when the calendar day changes.
func (e *Engine) maybeRollDay() {
	e.mu.Lock()
	day := e.clk.Now().YearDay()
	if day == e.lastDay {
		e.mu.Unlock()
		return
	}
	e.lastDay = day
	e.refBalance = e.tracker.Snapshot().Balance
	e.escLevel = 0
	e.mu.Unlock()
	e.metrics.Reset()
}

// handlePrice marks open positions on the symbol to market, which may close
// positions whose exits are breached, and keeps the quote cache fresh for
// the risk gate.
func (e *Engine) handlePrice(ctx context.Context, p bridge.PriceUpdate) {
	if p.Bid <= 0 || p.Ask <= 0 {
		return
	}
	at := p.At
	if at.IsZero() {
		at = e.clk.Now()
	}
	e.quotes.Set(p.Symbol, cache.Quote{Bid: p.Bid, Ask: p.Ask, At: at})

	e.ledger.OnPriceUpdate(ctx, p.Symbol, p.Bid, p.Ask)
	e.publish(events.EventPriceUpdate, p)
}

// processSignal runs one signal's full cycle: gate, execute, track. It is
// only ever called from the dispatcher on the loop goroutine.
func (e *Engine) processSignal(s signal.Signal) error {
	ctx := e.loopCtx()
	switch s.Action {
	case signal.ActionClose:
		return e.closeFromSignal(ctx, s)
	case signal.ActionModify:
		return e.modifyFromSignal(ctx, s)
	}

	q, ok := e.quote(s.Symbol)
	bal := e.tracker.Snapshot()
	e.mu.RLock()
	ref := e.refBalance
	e.mu.RUnlock()
	snap := risk.Snapshot{
		Equity:           bal.Equity,
		ReferenceBalance: ref,
		DailyPnL:         e.metrics.DailyPnL(),
		OpenPositions:    e.ledger.OpenCount(),
	}
	if ok {
		snap.Bid, snap.Ask = q.Bid, q.Ask
	}

	dec := e.gate.Validate(s, snap)
	if !dec.Approved {
		log.Printf("engine: signal %s %s rejected: %s", s.Action, s.Symbol, dec.Reason)
		e.publish(events.EventSignalRejected, map[string]any{
			"signal": s,
			"reason": dec.Reason,
		})
		return nil
	}

	o, err := e.executor.Execute(ctx, s, dec)
	if err != nil {
		return fmt.Errorf("execute %s %s: %w", s.Action, s.Symbol, err)
	}
	if o.Status != order.StatusFilled {
		return nil
	}
	if _, err := e.ledger.Open(ctx, *o, dec.StopLoss, dec.TakeProfit); err != nil {
		return fmt.Errorf("track position for order %s: %w", o.ID, err)
	}
	return nil
}

// closeFromSignal closes the targeted position, or every open position on
// the signal's symbol when no target is given. Closing an already-closed
// position is a logged no-op.
func (e *Engine) closeFromSignal(ctx context.Context, s signal.Signal) error {
	if s.TargetPositionID != "" {
		_, err := e.ledger.Close(ctx, s.TargetPositionID, position.ReasonSignal)
		if errors.Is(err, position.ErrNotFound) {
			log.Printf("engine: close signal for %s: position already closed", s.TargetPositionID)
			return nil
		}
		return err
	}
	for _, p := range e.ledger.FindBySymbol(s.Symbol) {
		if _, err := e.ledger.Close(ctx, p.ID, position.ReasonSignal); err != nil && !errors.Is(err, position.ErrNotFound) {
			return err
		}
	}
	return nil
}

// modifyFromSignal re-anchors the target's protective levels to the default
// distances around the current mark price.
func (e *Engine) modifyFromSignal(ctx context.Context, s signal.Signal) error {
	p, ok := e.ledger.Get(s.TargetPositionID)
	if !ok {
		log.Printf("engine: modify signal for %s: position not open", s.TargetPositionID)
		return nil
	}
	mark := p.CurrentPrice
	var sl, tp float64
	if p.Side == order.SideBuy {
		sl = mark * (1 - e.cfg.DefaultStopLoss)
		tp = mark * (1 + e.cfg.DefaultTakeProfit)
	} else {
		sl = mark * (1 + e.cfg.DefaultStopLoss)
		tp = mark * (1 - e.cfg.DefaultTakeProfit)
	}
	err := e.ledger.UpdateStops(ctx, p.ID, sl, tp)
	if errors.Is(err, position.ErrNotFound) {
		return nil
	}
	return err
}

// onTradeClosed feeds daily risk counters and walks the escalation ladder
// when the realized daily loss approaches or breaches its limit. Runs on
// the loop goroutine via the ledger's trade hook.
func (e *Engine) onTradeClosed(t position.Trade) {
	e.metrics.RecordTrade(t.RealizedPnL)

	e.mu.RLock()
	limit := e.cfg.MaxDailyLossFraction * e.refBalance
	e.mu.RUnlock()
	if limit <= 0 {
		return
	}
	loss := -e.metrics.DailyPnL()
	if loss <= 0 {
		return
	}

	var sev risk.Severity
	var rank int
	switch {
	case loss >= 1.5*limit:
		sev, rank = risk.SeverityCritical, 3
	case loss >= limit:
		sev, rank = risk.SeverityHigh, 2
	case loss >= 0.8*limit:
		sev, rank = risk.SeverityMedium, 1
	default:
		return
	}

	// Escalate only upward; repeated violations at the same level within a
	// day would otherwise re-trigger close-all storms.
	e.mu.Lock()
	if rank <= e.escLevel {
		e.mu.Unlock()
		return
	}
	e.escLevel = rank
	e.mu.Unlock()

	e.supervisor.Escalate(sev, fmt.Sprintf("daily loss %.2f against limit %.2f", loss, limit))
}

// Handlers returns the stream callbacks to register with the venue bridge.
// They run on the bridge reader goroutine and only hand off to the inbox.
func (e *Engine) Handlers() bridge.StreamHandlers {
	return bridge.StreamHandlers{
		OnPrice: e.PushPrice,
		OnTick:  e.pushTick,
		OnNews:  e.onNews,
	}
}

// PushPrice feeds a quote into the engine inbox. The inbox is bounded; when
// the loop falls behind, the stalest update is the one dropped.
func (e *Engine) PushPrice(p bridge.PriceUpdate) {
	select {
	case e.priceCh <- p:
	default:
		select {
		case <-e.priceCh:
		default:
		}
		select {
		case e.priceCh <- p:
		default:
		}
	}
}

// pushTick folds a last-trade print into the price path with a collapsed
// book; good enough to keep marks fresh between full quotes.
func (e *Engine) pushTick(t bridge.Tick) {
	if t.Last <= 0 {
		return
	}
	e.PushPrice(bridge.PriceUpdate{Symbol: t.Symbol, Bid: t.Last, Ask: t.Last, At: t.At})
}

// onNews enqueues close signals for open positions exposed to currencies
// named in a high-impact news event. Lower impacts are log-only.
func (e *Engine) onNews(n bridge.News) {
	if !strings.EqualFold(n.Impact, "high") {
		log.Printf("engine: news (%s impact): %s", n.Impact, n.Headline)
		return
	}
	for _, p := range e.ledger.Positions() {
		if !symbolExposed(p.Symbol, n.Currencies) {
			continue
		}
		err := e.SubmitSignal(signal.Signal{
			Symbol:           p.Symbol,
			Action:           signal.ActionClose,
			Source:           "news",
			TargetPositionID: p.ID,
		})
		if err != nil {
			log.Printf("engine: news close signal for %s: %v", p.ID, err)
		}
	}
}

func symbolExposed(symbol string, currencies []string) bool {
	for _, c := range currencies {
		if c != "" && strings.Contains(strings.ToUpper(symbol), strings.ToUpper(c)) {
			return true
		}
	}
	return false
}

func (e *Engine) quote(symbol string) (cache.Quote, bool) {
	return e.quotes.Get(symbol)
}
