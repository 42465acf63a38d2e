// Package engine owns the trading core lifecycle and the single goroutine
// on which all trading state mutates. Prices, dispatch ticks, and control
// commands are funneled into one inbox; nothing else touches the queue,
// the gate, the executor, or the ledger's mutating paths.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade-engine/internal/account"
	"trade-engine/internal/bridge"
	"trade-engine/internal/events"
	"trade-engine/internal/order"
	"trade-engine/internal/persistence"
	"trade-engine/internal/position"
	"trade-engine/internal/risk"
	"trade-engine/internal/signal"
	"trade-engine/pkg/cache"
	"trade-engine/pkg/clock"
	"trade-engine/pkg/config"
	"trade-engine/pkg/db"
)

// State is the engine lifecycle state. Transitions:
// uninitialized -> initializing -> stopped -> running <-> paused -> stopped.
// The emergency-stop flag is orthogonal and survives Stop/Start attempts
// until explicitly reset.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateRunning       State = "running"
	StatePaused        State = "paused"
	StateStopped       State = "stopped"
)

// ErrNotInitialized is returned for commands issued before Initialize.
var ErrNotInitialized = errors.New("engine not initialized")

// ErrEmergencyStopped is returned when starting while the emergency-stop
// flag is set; ResetEmergencyStop must be called first.
var ErrEmergencyStopped = errors.New("emergency stop active, manual reset required")

// VenueBridge is the engine's view of the venue connection.
type VenueBridge interface {
	Connect(ctx context.Context) error
	Degraded() bool
	Close()
}

// Deps wires the engine's collaborators. Bridge may be nil in paper mode.
type Deps struct {
	Config   *config.Config
	Store    *db.Database
	Bus      *events.Bus
	Clock    clock.Clock
	Queue    *signal.Queue
	Gate     *risk.Gate
	Metrics  *risk.Metrics
	Executor *order.Executor
	Ledger   *position.Ledger
	Tracker  *account.Tracker
	Journal  *persistence.Journal
	Bridge   VenueBridge
}

type command struct {
	fn   func(context.Context)
	done chan struct{}
}

// Engine composes the execution core and serializes every mutation through
// its run loop.
type Engine struct {
	cfg        *config.Config
	store      *db.Database
	bus        *events.Bus
	clk        clock.Clock
	queue      *signal.Queue
	dispatcher *signal.Dispatcher
	gate       *risk.Gate
	metrics    *risk.Metrics
	supervisor *risk.Supervisor
	executor   *order.Executor
	ledger     *position.Ledger
	tracker    *account.Tracker
	journal    *persistence.Journal
	bridge     VenueBridge

	priceCh chan bridge.PriceUpdate
	cmdCh   chan command

	quotes *cache.ShardedQuoteCache

	mu          sync.RWMutex
	state       State
	emergency   bool
	pausedUntil time.Time
	refBalance  float64
	escLevel    int
	lastDay     int
	ctx         context.Context
	loopRunning bool
}

func New(d Deps) *Engine {
	e := &Engine{
		cfg:      d.Config,
		store:    d.Store,
		bus:      d.Bus,
		clk:      d.Clock,
		queue:    d.Queue,
		gate:     d.Gate,
		metrics:  d.Metrics,
		executor: d.Executor,
		ledger:   d.Ledger,
		tracker:  d.Tracker,
		journal:  d.Journal,
		bridge:   d.Bridge,
		priceCh:  make(chan bridge.PriceUpdate, 256),
		cmdCh:    make(chan command, 16),
		state:    StateUninitialized,
		quotes:   cache.NewShardedQuoteCache(),
	}
	if e.clk == nil {
		e.clk = clock.New()
	}
	e.dispatcher = signal.NewDispatcher(e.queue, e.processSignal)
	e.supervisor = risk.NewSupervisor(d.Bus, risk.Actions{
		EmergencyStop: func(reason string) { e.emergencyNow(e.loopCtx(), reason) },
		CloseAll: func(string) {
			e.ledger.CloseAll(e.loopCtx(), position.ReasonRiskManager)
		},
		Pause: e.pauseFor,
	}, d.Config.CooldownWindow)
	e.ledger.SetTradeHook(e.onTradeClosed)
	e.ledger.SetExitPricer(venueExitPricer{exec: e.executor})
	return e
}

// venueExitPricer routes close pricing through the executor: paper closes
// come from the fill model, live closes unwind the exposure at the venue.
type venueExitPricer struct {
	exec *order.Executor
}

func (v venueExitPricer) ExitPrice(ctx context.Context, p position.Position, mark float64) (float64, error) {
	return v.exec.ExitFill(ctx, p.Symbol, p.Side, p.Size, mark, p.ID)
}

// SetBridge attaches the venue bridge. Must be called before Initialize;
// the bridge itself needs the engine's stream handlers first, so the two
// are wired in sequence rather than through Deps.
func (e *Engine) SetBridge(b VenueBridge) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bridge = b
}

// Initialize restores persisted state and connects the venue bridge. A
// bridge connection failure is not fatal: the engine logs it and falls back
// to paper execution until the bridge recovers.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateUninitialized {
		e.mu.Unlock()
		return fmt.Errorf("engine already initialized (state %s)", e.state)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	if err := e.restoreBalance(ctx); err != nil {
		e.setState(StateUninitialized)
		return fmt.Errorf("restore balance: %w", err)
	}
	if err := e.restorePositions(ctx); err != nil {
		e.setState(StateUninitialized)
		return fmt.Errorf("restore positions: %w", err)
	}

	if e.bridge != nil {
		if err := e.bridge.Connect(ctx); err != nil {
			log.Printf("engine: bridge connect failed: %v", err)
			if e.cfg.IsLive() {
				log.Printf("engine: falling back to paper execution until bridge recovers")
				e.executor.SetMode(order.ModePaper)
			}
		}
	}

	e.mu.Lock()
	e.state = StateStopped
	e.lastDay = e.clk.Now().YearDay()
	e.mu.Unlock()
	e.publishStatus()
	log.Printf("engine: initialized, mode=%s balance=%.2f open_positions=%d",
		e.executor.Mode(), e.tracker.Snapshot().Balance, e.ledger.OpenCount())
	return nil
}

func (e *Engine) restoreBalance(ctx context.Context) error {
	row, err := e.store.LoadBalance(ctx)
	if errors.Is(err, db.ErrNotFound) {
		e.mu.Lock()
		e.refBalance = e.cfg.InitialBalance
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	e.tracker.Restore(account.Balance{
		Balance:    row.Balance,
		Equity:     row.Equity,
		Margin:     row.Margin,
		FreeMargin: row.FreeMargin,
	})
	e.mu.Lock()
	e.refBalance = row.Balance
	e.mu.Unlock()
	return nil
}

func (e *Engine) restorePositions(ctx context.Context) error {
	rows, err := e.store.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		e.ledger.Restore(position.Position{
			ID:           r.ID,
			OrderID:      r.OrderID,
			Symbol:       r.Symbol,
			Side:         order.Side(r.Side),
			Size:         r.Size,
			EntryPrice:   r.EntryPrice,
			CurrentPrice: r.CurrentPrice,
			StopLoss:     r.StopLoss,
			TakeProfit:   r.TakeProfit,
			Status:       position.StatusOpen,
			OpenedAt:     r.OpenedAt,
		})
	}
	if len(rows) > 0 {
		log.Printf("engine: restored %d open positions", len(rows))
	}
	return nil
}

// Start enables signal processing. The emergency-stop flag blocks starting
// until it is reset.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.state == StateUninitialized || e.state == StateInitializing:
		return ErrNotInitialized
	case e.emergency:
		return ErrEmergencyStopped
	case e.state == StateRunning:
		return nil
	}
	e.state = StateRunning
	e.pausedUntil = time.Time{}
	log.Printf("engine: started")
	e.publishStatusLocked()
	return nil
}

// Stop disables signal processing. Open positions stay open and keep being
// marked to market; queued signals stay queued.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateUninitialized || e.state == StateInitializing {
		return ErrNotInitialized
	}
	if e.state == StateStopped {
		return nil
	}
	e.state = StateStopped
	log.Printf("engine: stopped")
	e.publishStatusLocked()
	return nil
}

// Pause suspends dispatch for the given window; the loop resumes
// automatically once it elapses.
func (e *Engine) Pause(d time.Duration) {
	e.pauseFor(d)
}

func (e *Engine) pauseFor(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning && e.state != StatePaused {
		return
	}
	e.state = StatePaused
	e.pausedUntil = e.clk.Now().Add(d)
	log.Printf("engine: paused until %s", e.pausedUntil.Format(time.RFC3339))
	e.publishStatusLocked()
}

// Resume lifts a pause before its window elapses.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return
	}
	e.state = StateRunning
	e.pausedUntil = time.Time{}
	log.Printf("engine: resumed")
	e.publishStatusLocked()
}

// EmergencyStop halts processing, cancels pending orders, closes every open
// position, and drains the queue without execution. The in-flight signal, if
// any, completes first. The flag stays set until ResetEmergencyStop.
func (e *Engine) EmergencyStop(reason string) error {
	// Set the flag synchronously so the dispatcher's halt predicate sees it
	// before the flatten command reaches the loop.
	e.mu.Lock()
	if e.emergency {
		e.mu.Unlock()
		return nil
	}
	e.emergency = true
	e.state = StateStopped
	e.mu.Unlock()
	log.Printf("engine: EMERGENCY STOP: %s", reason)
	return e.do(func(ctx context.Context) { e.flatten(ctx, reason) })
}

// emergencyNow is the in-loop variant used by the escalation ladder.
func (e *Engine) emergencyNow(ctx context.Context, reason string) {
	e.mu.Lock()
	if e.emergency {
		e.mu.Unlock()
		return
	}
	e.emergency = true
	e.state = StateStopped
	e.mu.Unlock()
	log.Printf("engine: EMERGENCY STOP: %s", reason)
	e.flatten(ctx, reason)
}

func (e *Engine) flatten(ctx context.Context, reason string) {
	cancelled := e.executor.CancelAll(ctx)
	closed := e.ledger.CloseAll(ctx, position.ReasonEmergencyStop)
	dropped := e.queue.Clear()
	log.Printf("engine: emergency stop complete: %d orders cancelled, %d positions closed, %d signals dropped",
		cancelled, len(closed), dropped)
	e.publishStatus()
}

// ResetEmergencyStop clears the emergency flag. The engine stays stopped;
// the operator must Start it again deliberately.
func (e *Engine) ResetEmergencyStop() {
	e.mu.Lock()
	if !e.emergency {
		e.mu.Unlock()
		return
	}
	e.emergency = false
	e.mu.Unlock()
	log.Printf("engine: emergency stop reset")
	e.publishStatus()
}

// SetMode switches execution between paper and live. Live requires a
// configured venue bridge.
func (e *Engine) SetMode(mode string) error {
	switch order.Mode(mode) {
	case order.ModePaper:
		e.executor.SetMode(order.ModePaper)
	case order.ModeLive:
		if e.bridge == nil {
			return errors.New("live mode requires a venue bridge")
		}
		e.executor.SetMode(order.ModeLive)
	default:
		return fmt.Errorf("unknown execution mode %q", mode)
	}
	log.Printf("engine: execution mode set to %s", mode)
	e.publishStatus()
	return nil
}

// SubmitSignal validates and enqueues a signal. It does not wait for the
// signal to be processed; the dispatcher picks it up on the next tick.
func (e *Engine) SubmitSignal(s signal.Signal) error {
	switch s.Action {
	case signal.ActionBuy, signal.ActionSell, signal.ActionClose, signal.ActionModify:
	default:
		return fmt.Errorf("unknown signal action %q", s.Action)
	}
	if s.Symbol == "" && s.TargetPositionID == "" {
		return errors.New("signal needs a symbol or a target position")
	}
	e.mu.RLock()
	emergency := e.emergency
	e.mu.RUnlock()
	if emergency {
		return ErrEmergencyStopped
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.At.IsZero() {
		s.At = e.clk.Now()
	}
	if !e.queue.Enqueue(s) {
		log.Printf("engine: signal queue full, rejecting %s %s from %s", s.Action, s.Symbol, s.Source)
		return errors.New("signal queue full")
	}
	e.publish(events.EventSignalQueued, s)
	return nil
}

// CloseAllPositions closes every open position on the loop goroutine.
func (e *Engine) CloseAllPositions(reason string) (int, error) {
	if reason == "" {
		reason = position.ReasonManual
	}
	n := 0
	err := e.do(func(ctx context.Context) {
		n = len(e.ledger.CloseAll(ctx, reason))
	})
	return n, err
}

// CancelAllOrders cancels every pending order on the loop goroutine.
func (e *Engine) CancelAllOrders() (int, error) {
	n := 0
	err := e.do(func(ctx context.Context) {
		n = e.executor.CancelAll(ctx)
	})
	return n, err
}

// do runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) do(fn func(context.Context)) error {
	e.mu.RLock()
	running := e.loopRunning
	e.mu.RUnlock()
	if !running {
		return errors.New("engine loop not running")
	}
	cmd := command{fn: fn, done: make(chan struct{})}
	e.cmdCh <- cmd
	<-cmd.done
	return nil
}

func (e *Engine) loopCtx() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

func (e *Engine) publishStatus() {
	e.publish(events.EventEngineStatus, e.Status())
}

// publishStatusLocked is publishStatus for callers already holding e.mu.
func (e *Engine) publishStatusLocked() {
	if e.bus != nil {
		e.bus.Publish(events.EventEngineStatus, e.statusLocked())
	}
}
