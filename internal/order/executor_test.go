package order

import (
	"context"
	"errors"
	"testing"

	"trade-engine/internal/events"
	"trade-engine/internal/risk"
	"trade-engine/internal/signal"
	"trade-engine/pkg/config"
)

type fakeVenue struct {
	placeErr  error
	ack       VenueAck
	placed    []VenueOrder
	cancelled []string
}

func (f *fakeVenue) PlaceOrder(_ context.Context, req VenueOrder) (VenueAck, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return VenueAck{}, f.placeErr
	}
	return f.ack, nil
}

func (f *fakeVenue) CancelOrder(_ context.Context, ticket string) error {
	f.cancelled = append(f.cancelled, ticket)
	return nil
}

func buySignal() signal.Signal {
	return signal.Signal{ID: "sig-1", Symbol: "EURUSD", Action: signal.ActionBuy}
}

func approved() risk.Decision {
	return risk.Decision{Approved: true, Size: 0.5, Price: 100, StopLoss: 98, TakeProfit: 104}
}

func TestExecutePaperFills(t *testing.T) {
	fill := NewFillModel(42, 0.0005, 0.0002)
	ex := NewExecutor(nil, events.NewBus(), fill, nil, ModePaper)

	o, err := ex.Execute(context.Background(), buySignal(), approved())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if o.Status != StatusFilled {
		t.Fatalf("status = %s, want filled", o.Status)
	}
	if o.Price < 100 {
		t.Errorf("paper buy filled at %.6f, below the mark", o.Price)
	}
	if ex.PendingCount() != 0 {
		t.Errorf("pending count = %d after terminal state", ex.PendingCount())
	}
}

func TestExecuteLiveVenueAck(t *testing.T) {
	venue := &fakeVenue{ack: VenueAck{Ticket: "T-77", Price: 100.02}}
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModeLive)
	ex.SetVenue(venue)

	o, err := ex.Execute(context.Background(), buySignal(), approved())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if o.Status != StatusFilled {
		t.Fatalf("status = %s, want filled", o.Status)
	}
	if o.Price != 100.02 {
		t.Errorf("price = %.4f, want venue ack price 100.02", o.Price)
	}
	if len(venue.placed) != 1 || venue.placed[0].Symbol != "EURUSD" {
		t.Errorf("venue saw %+v", venue.placed)
	}
}

func TestExecuteLiveTimeoutRejects(t *testing.T) {
	timeout := errors.New("venue request timed out")
	venue := &fakeVenue{placeErr: timeout}
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModeLive)
	ex.SetVenue(venue)

	o, err := ex.Execute(context.Background(), buySignal(), approved())
	if err == nil {
		t.Fatal("want error on venue timeout")
	}
	if !errors.Is(err, timeout) {
		t.Errorf("error chain lost cause: %v", err)
	}
	if o.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected (timed out order never assumed filled)", o.Status)
	}
}

func TestExecuteLiveWithoutVenueRejects(t *testing.T) {
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModeLive)
	o, err := ex.Execute(context.Background(), buySignal(), approved())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Live with no venue degrades to the paper path.
	if o.Status != StatusFilled {
		t.Fatalf("status = %s, want filled via paper fallback", o.Status)
	}
	if ex.Mode() != ModePaper {
		t.Errorf("Mode = %s, want paper fallback when no venue attached", ex.Mode())
	}
}

func TestExecuteHonorsApprovedSize(t *testing.T) {
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModePaper)
	dec := approved()
	dec.Size = 0.5
	o, err := ex.Execute(context.Background(), buySignal(), dec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if o.Size != 0.5 {
		t.Errorf("size = %.4f, want decision size honored", o.Size)
	}
}

// A size below the instrument floor is refused outright; it is never
// rounded up past what the risk checks approved.
func TestExecuteRefusesSizeBelowInstrumentFloor(t *testing.T) {
	instruments := config.Instruments{
		"EURUSD": {Symbol: "EURUSD", MinSize: 1},
	}
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), instruments, ModePaper)
	dec := approved()
	dec.Size = 0.5
	if _, err := ex.Execute(context.Background(), buySignal(), dec); err == nil {
		t.Fatal("executed order below instrument minimum")
	}
	if ex.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0 for refused order", ex.PendingCount())
	}
}

func TestExitFillPaperSimulates(t *testing.T) {
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(42, 0.0005, 0), nil, ModePaper)
	price, err := ex.ExitFill(context.Background(), "EURUSD", SideBuy, 1, 100, "pos-1")
	if err != nil {
		t.Fatalf("ExitFill: %v", err)
	}
	if price > 100 {
		t.Errorf("paper exit of a long filled at %.6f, above the mark", price)
	}
}

func TestExitFillLiveUnwindsAtVenue(t *testing.T) {
	venue := &fakeVenue{ack: VenueAck{Ticket: "T-9", Price: 99.95}}
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModeLive)
	ex.SetVenue(venue)

	price, err := ex.ExitFill(context.Background(), "EURUSD", SideBuy, 2, 100, "pos-7")
	if err != nil {
		t.Fatalf("ExitFill: %v", err)
	}
	if price != 99.95 {
		t.Errorf("exit price = %.4f, want venue ack price 99.95", price)
	}
	if len(venue.placed) != 1 {
		t.Fatalf("venue saw %d orders, want 1", len(venue.placed))
	}
	// Closing a long means selling the same volume at the venue.
	got := venue.placed[0]
	if got.Side != string(SideSell) || got.Volume != 2 || got.Symbol != "EURUSD" || got.ClientTag != "pos-7" {
		t.Errorf("unwind order = %+v", got)
	}
}

func TestExitFillLiveVenueErrorPropagates(t *testing.T) {
	cause := errors.New("venue request timed out")
	venue := &fakeVenue{placeErr: cause}
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModeLive)
	ex.SetVenue(venue)

	if _, err := ex.ExitFill(context.Background(), "EURUSD", SideSell, 1, 100, "pos-2"); !errors.Is(err, cause) {
		t.Fatalf("err = %v, want the venue failure", err)
	}
}

func TestExitFillLiveAckWithoutPrice(t *testing.T) {
	venue := &fakeVenue{ack: VenueAck{Ticket: "T-3"}}
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModeLive)
	ex.SetVenue(venue)

	price, err := ex.ExitFill(context.Background(), "EURUSD", SideBuy, 1, 100, "pos-3")
	if err != nil {
		t.Fatalf("ExitFill: %v", err)
	}
	if price != 100 {
		t.Errorf("price = %.4f, want simulated fallback at the mark", price)
	}
}

func TestCancelAll(t *testing.T) {
	ex := NewExecutor(nil, events.NewBus(), NewFillModel(1, 0, 0), nil, ModePaper)
	ex.trackPending("o-1")
	ex.trackPending("o-2")

	if n := ex.CancelAll(context.Background()); n != 2 {
		t.Fatalf("CancelAll = %d, want 2", n)
	}
	if ex.PendingCount() != 0 {
		t.Fatalf("pending count = %d after cancel-all", ex.PendingCount())
	}
}
