package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trade-engine/internal/events"
	"trade-engine/internal/order"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// fakeVenue is a websocket server speaking the bridge wire format.
type fakeVenue struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	conns   []*websocket.Conn
	onFrame func(conn *websocket.Conn, msg wireMessage)
}

func newFakeVenue(t *testing.T, onFrame func(conn *websocket.Conn, msg wireMessage)) *fakeVenue {
	t.Helper()
	v := &fakeVenue{t: t, onFrame: onFrame}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.conns = append(v.conns, conn)
		v.mu.Unlock()
		for {
			var msg wireMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if v.onFrame != nil {
				v.onFrame(conn, msg)
			}
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVenue) url() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http")
}

func (v *fakeVenue) push(msg wireMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, conn := range v.conns {
		_ = conn.WriteJSON(msg)
	}
}

func echoAck(conn *websocket.Conn, msg wireMessage) {
	if msg.Type == "order.place" {
		_ = conn.WriteJSON(wireMessage{ID: msg.ID, Ticket: "T-1", Price: 100.5})
	}
	if msg.Type == "order.cancel" {
		_ = conn.WriteJSON(wireMessage{ID: msg.ID})
	}
}

func testClientConfig(url string) Config {
	return Config{
		URL:            url,
		RequestTimeout: 200 * time.Millisecond,
		ReconnectDelay: 50 * time.Millisecond,
		RequestsPerSec: 100,
	}
}

func TestPlaceOrderRoundTrip(t *testing.T) {
	venue := newFakeVenue(t, echoAck)
	c := NewClient(testClientConfig(venue.url()), events.NewBus(), StreamHandlers{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	ack, err := c.PlaceOrder(context.Background(), order.VenueOrder{Symbol: "EURUSD", Side: "buy", Volume: 1})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Ticket != "T-1" || ack.Price != 100.5 {
		t.Fatalf("ack = %+v", ack)
	}
	if c.Degraded() {
		t.Fatal("connected client reports degraded")
	}
}

func TestPlaceOrderTimeoutDistinguishable(t *testing.T) {
	// Venue that swallows requests without answering.
	venue := newFakeVenue(t, nil)
	c := NewClient(testClientConfig(venue.url()), events.NewBus(), StreamHandlers{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err := c.PlaceOrder(context.Background(), order.VenueOrder{Symbol: "EURUSD", Side: "buy", Volume: 1})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	venue := newFakeVenue(t, func(conn *websocket.Conn, msg wireMessage) {
		if msg.Type == "order.place" {
			_ = conn.WriteJSON(wireMessage{ID: msg.ID, Error: "insufficient margin"})
		}
	})
	c := NewClient(testClientConfig(venue.url()), events.NewBus(), StreamHandlers{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err := c.PlaceOrder(context.Background(), order.VenueOrder{Symbol: "EURUSD", Side: "buy", Volume: 1})
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want explicit venue rejection distinct from timeout", err)
	}
	if !strings.Contains(err.Error(), "insufficient margin") {
		t.Fatalf("rejection reason lost: %v", err)
	}
}

func TestInitialDialFailure(t *testing.T) {
	c := NewClient(testClientConfig("ws://127.0.0.1:1/bridge"), events.NewBus(), StreamHandlers{})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded against a dead endpoint")
	}
	defer c.Close()
	if !c.Degraded() {
		t.Fatal("unconnected client must report degraded")
	}
}

func TestStreamDispatch(t *testing.T) {
	venue := newFakeVenue(t, nil)

	var mu sync.Mutex
	var prices []PriceUpdate
	var ticks []Tick
	var news []News
	c := NewClient(testClientConfig(venue.url()), events.NewBus(), StreamHandlers{
		OnPrice: func(p PriceUpdate) { mu.Lock(); prices = append(prices, p); mu.Unlock() },
		OnTick:  func(tk Tick) { mu.Lock(); ticks = append(ticks, tk); mu.Unlock() },
		OnNews:  func(n News) { mu.Lock(); news = append(news, n); mu.Unlock() },
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	venue.push(wireMessage{Type: TopicPrice, Data: mustJSON(PriceUpdate{Symbol: "EURUSD", Bid: 99.9, Ask: 100.1})})
	venue.push(wireMessage{Type: TopicTick, Data: mustJSON(Tick{Symbol: "EURUSD", Last: 100})})
	venue.push(wireMessage{Type: TopicNews, Data: mustJSON(News{Currencies: []string{"USD"}, Impact: "high"})})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(prices) == 1 && len(ticks) == 1 && len(news) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(prices) != 1 || prices[0].Bid != 99.9 {
		t.Fatalf("prices = %+v", prices)
	}
	if len(ticks) != 1 || ticks[0].Last != 100 {
		t.Fatalf("ticks = %+v", ticks)
	}
	if len(news) != 1 || news[0].Impact != "high" {
		t.Fatalf("news = %+v", news)
	}
}

func TestDisconnectDegradesAndReconnects(t *testing.T) {
	venue := newFakeVenue(t, echoAck)
	bus := events.NewBus()
	degradedCh, unsubD := bus.Subscribe(events.EventBridgeDegraded, 1)
	defer unsubD()
	recoveredCh, unsubR := bus.Subscribe(events.EventBridgeRecovered, 2)
	defer unsubR()

	c := NewClient(testClientConfig(venue.url()), bus, StreamHandlers{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-recoveredCh // initial connect

	// Kill the server side of the connection.
	venue.mu.Lock()
	for _, conn := range venue.conns {
		_ = conn.Close()
	}
	venue.conns = nil
	venue.mu.Unlock()

	select {
	case <-degradedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never flagged degraded after disconnect")
	}

	select {
	case <-recoveredCh:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never recovered on fixed backoff")
	}
	if c.Degraded() {
		t.Fatal("recovered client still reports degraded")
	}

	// Requests work again after reconnect.
	ack, err := c.PlaceOrder(context.Background(), order.VenueOrder{Symbol: "EURUSD", Side: "buy", Volume: 1})
	if err != nil {
		t.Fatalf("PlaceOrder after reconnect: %v", err)
	}
	if ack.Ticket != "T-1" {
		t.Fatalf("ack = %+v", ack)
	}
}

// A bridge that is down at boot is not a permanent failure: the client keeps
// retrying on its backoff and recovers once the venue comes up.
func TestRecoversWhenBridgeComesUpLate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	bus := events.NewBus()
	recoveredCh, unsub := bus.Subscribe(events.EventBridgeRecovered, 1)
	defer unsub()

	c := NewClient(testClientConfig("ws://"+addr), bus, StreamHandlers{})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded before the venue was up")
	}
	defer c.Close()
	if !c.Degraded() {
		t.Fatal("unconnected client must report degraded")
	}

	// Bring the venue up on the address the client keeps retrying.
	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("rebind %s: %v", addr, err)
	}
	srv := &httptest.Server{
		Listener: ln2,
		Config: &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := testUpgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			for {
				var msg wireMessage
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				echoAck(conn, msg)
			}
		})},
	}
	srv.Start()
	defer srv.Close()

	select {
	case <-recoveredCh:
	case <-time.After(3 * time.Second):
		t.Fatal("bridge never recovered after the venue came up")
	}
	if c.Degraded() {
		t.Fatal("recovered client still reports degraded")
	}

	ack, err := c.PlaceOrder(context.Background(), order.VenueOrder{Symbol: "EURUSD", Side: "buy", Volume: 1})
	if err != nil {
		t.Fatalf("PlaceOrder after late recovery: %v", err)
	}
	if ack.Ticket != "T-1" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestWireFrameShape(t *testing.T) {
	// Request/response frames carry an ID; stream frames do not.
	raw := []byte(`{"type":"PRICE","data":{"symbol":"EURUSD","bid":1.1,"ask":1.2}}`)
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ID != "" {
		t.Fatal("stream frame has an ID")
	}
	if msg.Type != TopicPrice {
		t.Fatalf("type = %q", msg.Type)
	}
}
