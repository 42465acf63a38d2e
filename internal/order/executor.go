package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade-engine/internal/events"
	"trade-engine/internal/risk"
	"trade-engine/internal/signal"
	"trade-engine/pkg/config"
	"trade-engine/pkg/db"
)

// Venue is the narrow contract the executor needs from the venue bridge.
type Venue interface {
	PlaceOrder(ctx context.Context, req VenueOrder) (VenueAck, error)
	CancelOrder(ctx context.Context, ticket string) error
}

// VenueOrder is the outbound order-placement request.
type VenueOrder struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Volume    float64 `json:"volume"`
	ClientTag string  `json:"client_tag"`
}

// VenueAck is the venue's confirmation of a placed order.
type VenueAck struct {
	Ticket string  `json:"ticket"`
	Price  float64 `json:"price"`
}

// Mode selects paper or live execution.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Executor turns approved signals into orders: paper mode synthesizes fills
// through the fill model, live mode routes through the venue bridge. Every
// status transition is persisted and published before the call returns.
type Executor struct {
	store       *db.Database
	bus         *events.Bus
	fill        *FillModel
	instruments config.Instruments

	mu      sync.RWMutex
	mode    Mode
	venue   Venue
	pending map[string]string // order id -> venue ticket ("" until acked)
}

func NewExecutor(store *db.Database, bus *events.Bus, fill *FillModel, instruments config.Instruments, mode Mode) *Executor {
	if instruments == nil {
		instruments = config.Instruments{}
	}
	return &Executor{
		store:       store,
		bus:         bus,
		fill:        fill,
		instruments: instruments,
		mode:        mode,
		pending:     make(map[string]string),
	}
}

// SetVenue attaches the live gateway; a nil venue forces paper mode.
func (e *Executor) SetVenue(v Venue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.venue = v
}

// SetMode switches between paper and live execution.
func (e *Executor) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
}

// Mode returns the current execution mode.
func (e *Executor) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mode == ModeLive && e.venue == nil {
		return ModePaper
	}
	return e.mode
}

// Execute places an order for an approved signal and returns it in a
// terminal state: filled on success, rejected on venue error or timeout.
// A rejected order is never retried automatically.
func (e *Executor) Execute(ctx context.Context, sig signal.Signal, dec risk.Decision) (*Order, error) {
	// The approved size is executed as-is so fills never exceed what the
	// risk checks saw. A size below the instrument floor means the caller
	// skipped its own validation; refuse rather than round up.
	if min := e.instruments.MinSize(sig.Symbol); min > 0 && dec.Size < min {
		return nil, fmt.Errorf("size %.6f below instrument minimum %.6f for %s", dec.Size, min, sig.Symbol)
	}

	o := &Order{
		ID:        uuid.NewString(),
		SignalID:  sig.ID,
		Symbol:    sig.Symbol,
		Type:      TypeMarket,
		Side:      sideFor(sig.Action),
		Size:      dec.Size,
		Price:     dec.Price,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	if err := e.persist(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}
	e.trackPending(o.ID)
	e.publish(events.EventOrderSubmitted, *o)

	if e.Mode() == ModePaper {
		return e.fillPaper(ctx, o)
	}
	return e.fillLive(ctx, o)
}

func (e *Executor) fillPaper(ctx context.Context, o *Order) (*Order, error) {
	o.Price = e.fill.EntryPrice(o.Side, o.Price)
	return e.transition(ctx, o, StatusFilled, events.EventOrderFilled)
}

func (e *Executor) fillLive(ctx context.Context, o *Order) (*Order, error) {
	e.mu.RLock()
	venue := e.venue
	e.mu.RUnlock()
	if venue == nil {
		e.reject(ctx, o)
		return o, errors.New("no venue gateway configured")
	}

	ack, err := venue.PlaceOrder(ctx, VenueOrder{
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Volume:    o.Size,
		ClientTag: o.ID,
	})
	if err != nil {
		// Timeout and venue rejection are both terminal; a timed-out order
		// is treated as rejected, never assumed filled.
		e.reject(ctx, o)
		return o, fmt.Errorf("venue rejected order %s: %w", o.ID, err)
	}

	e.setTicket(o.ID, ack.Ticket)
	if ack.Price > 0 {
		o.Price = ack.Price
	}
	return e.transition(ctx, o, StatusFilled, events.EventOrderFilled)
}

// ExitFill prices the close of a held position. Paper mode crosses the
// simulated book; live mode unwinds the venue exposure with an opposing
// market order and returns the ack price. A venue failure is returned to
// the caller, which decides whether to settle locally anyway.
func (e *Executor) ExitFill(ctx context.Context, symbol string, side Side, size, mark float64, tag string) (float64, error) {
	if e.Mode() == ModePaper {
		return e.fill.ExitPrice(side, mark), nil
	}

	e.mu.RLock()
	venue := e.venue
	e.mu.RUnlock()
	ack, err := venue.PlaceOrder(ctx, VenueOrder{
		Symbol:    symbol,
		Side:      string(side.Opposite()),
		Volume:    size,
		ClientTag: tag,
	})
	if err != nil {
		return 0, fmt.Errorf("venue close of %s: %w", tag, err)
	}
	if ack.Price <= 0 {
		// Venue acked without a price; fall back to the simulated exit.
		return e.fill.ExitPrice(side, mark), nil
	}
	return ack.Price, nil
}

func (e *Executor) reject(ctx context.Context, o *Order) {
	if _, err := e.transition(ctx, o, StatusRejected, events.EventOrderRejected); err != nil {
		log.Printf("executor: persist rejection of %s: %v", o.ID, err)
	}
}

// transition moves an order to a terminal state, persists it, drops it from
// the pending set, and notifies observers.
func (e *Executor) transition(ctx context.Context, o *Order, st Status, ev events.Event) (*Order, error) {
	o.Status = st
	e.untrackPending(o.ID)
	if e.store != nil {
		if err := e.store.UpdateOrderStatus(ctx, o.ID, string(st)); err != nil {
			return o, fmt.Errorf("persist order status: %w", err)
		}
	}
	e.publish(ev, *o)
	return o, nil
}

// CancelAll cancels every pending order, returning how many were cancelled.
func (e *Executor) CancelAll(ctx context.Context) int {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]string)
	venue := e.venue
	e.mu.Unlock()

	cancelled := 0
	for id, ticket := range pending {
		if venue != nil && ticket != "" {
			if err := venue.CancelOrder(ctx, ticket); err != nil {
				log.Printf("executor: cancel ticket %s: %v", ticket, err)
			}
		}
		if e.store != nil {
			if err := e.store.UpdateOrderStatus(ctx, id, string(StatusCancelled)); err != nil && !errors.Is(err, db.ErrNotFound) {
				log.Printf("executor: persist cancel of %s: %v", id, err)
			}
		}
		e.publish(events.EventOrderCancelled, id)
		cancelled++
	}
	return cancelled
}

// PendingCount reports how many orders are awaiting a terminal state.
func (e *Executor) PendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pending)
}

func (e *Executor) persist(ctx context.Context, o *Order) error {
	if e.store == nil {
		return nil
	}
	return e.store.CreateOrder(ctx, db.Order{
		ID:        o.ID,
		SignalID:  o.SignalID,
		Symbol:    o.Symbol,
		Type:      string(o.Type),
		Side:      string(o.Side),
		Size:      o.Size,
		Price:     o.Price,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
	})
}

func (e *Executor) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

func (e *Executor) trackPending(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[id] = ""
}

func (e *Executor) setTicket(id, ticket string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[id]; ok {
		e.pending[id] = ticket
	}
}

func (e *Executor) untrackPending(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, id)
}

func sideFor(a signal.Action) Side {
	if a == signal.ActionSell {
		return SideSell
	}
	return SideBuy
}
