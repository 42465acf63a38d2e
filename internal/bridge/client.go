package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"trade-engine/internal/events"
	"trade-engine/internal/order"
)

var (
	// ErrTimeout marks a request the venue never answered in time; callers
	// must treat it as a rejection, never as a fill.
	ErrTimeout = errors.New("venue request timed out")
	// ErrDisconnected marks requests failed by a dropped channel.
	ErrDisconnected = errors.New("venue bridge disconnected")
)

// Config tunes the bridge connection.
type Config struct {
	URL            string
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	RequestsPerSec float64
}

// Client is the venue bridge. On channel failure it reconnects on a fixed
// backoff without crashing the engine; while disconnected the engine runs
// degraded on last-known prices.
type Client struct {
	cfg      Config
	bus      *events.Bus
	handlers StreamHandlers
	limiter  *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wireMessage

	degraded atomic.Bool
	closed   atomic.Bool
	wg       sync.WaitGroup
}

func NewClient(cfg Config, bus *events.Bus, handlers StreamHandlers) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	c := &Client{
		cfg:      cfg,
		bus:      bus,
		handlers: handlers,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)),
		pending:  make(map[string]chan wireMessage),
	}
	c.degraded.Store(true)
	return c
}

// Connect dials the venue and starts the read/reconnect loop. The initial
// dial error is returned so the engine can fall back to paper mode, but the
// loop starts either way: a bridge that is down at boot keeps retrying in
// the background and recovers like any mid-session disconnect.
func (c *Client) Connect(ctx context.Context) error {
	err := c.dial(ctx)
	c.wg.Add(1)
	go c.readLoop(ctx)
	return err
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial venue bridge: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Re-subscribe stream topics on every (re)connect.
	for _, topic := range []string{TopicPrice, TopicTick, TopicNews} {
		if err := c.writeJSON(wireMessage{Type: "subscribe", Payload: mustJSON(map[string]string{"topic": topic})}); err != nil {
			log.Printf("bridge: subscribe %s: %v", topic, err)
		}
	}

	if c.degraded.CompareAndSwap(true, false) && c.bus != nil {
		c.bus.Publish(events.EventBridgeRecovered, c.cfg.URL)
	}
	log.Printf("bridge: connected to %s", c.cfg.URL)
	return nil
}

// Degraded reports whether the engine is running on stale data.
func (c *Client) Degraded() bool { return c.degraded.Load() }

// Close shuts the bridge down permanently.
func (c *Client) Close() {
	c.closed.Store(true)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// send performs one request/response exchange with a bounded timeout.
// Timeout is a distinguishable failure (ErrTimeout) from an explicit
// venue-side rejection.
func (c *Client) send(ctx context.Context, msg wireMessage) (wireMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return wireMessage{}, err
	}

	msg.ID = uuid.NewString()
	reply := make(chan wireMessage, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return wireMessage{}, ErrDisconnected
	}
	c.pending[msg.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(msg); err != nil {
		return wireMessage{}, fmt.Errorf("write venue request: %w", err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-reply:
		if !ok {
			return wireMessage{}, ErrDisconnected
		}
		return resp, nil
	case <-timer.C:
		return wireMessage{}, ErrTimeout
	case <-ctx.Done():
		return wireMessage{}, ctx.Err()
	}
}

// PlaceOrder implements order.Venue.
func (c *Client) PlaceOrder(ctx context.Context, req order.VenueOrder) (order.VenueAck, error) {
	resp, err := c.send(ctx, wireMessage{Type: "order.place", Payload: mustJSON(req)})
	if err != nil {
		return order.VenueAck{}, err
	}
	if resp.Error != "" {
		return order.VenueAck{}, fmt.Errorf("venue error: %s", resp.Error)
	}
	return order.VenueAck{Ticket: resp.Ticket, Price: resp.Price}, nil
}

// CancelOrder implements order.Venue.
func (c *Client) CancelOrder(ctx context.Context, ticket string) error {
	resp, err := c.send(ctx, wireMessage{Type: "order.cancel", Payload: mustJSON(map[string]string{"ticket": ticket})})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("venue error: %s", resp.Error)
	}
	return nil
}

func (c *Client) writeJSON(msg wireMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrDisconnected
	}
	return c.conn.WriteJSON(msg)
}

// readLoop consumes frames, matching responses to pending requests and
// dispatching stream messages. On failure it marks the bridge degraded and
// reconnects on a fixed backoff.
func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			// Never connected (or dropped before we noticed); keep
			// retrying until the bridge comes back or we shut down.
			if c.closed.Load() || ctx.Err() != nil || !c.reconnect(ctx) {
				return
			}
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return
			}
			c.onDisconnect(err)
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("bridge: bad frame: %v", err)
			continue
		}

		if msg.ID != "" {
			c.mu.Lock()
			reply, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				reply <- msg
			}
			continue
		}

		c.dispatchStream(msg)
	}
}

func (c *Client) dispatchStream(msg wireMessage) {
	switch msg.Type {
	case TopicPrice:
		if c.handlers.OnPrice == nil {
			return
		}
		var p PriceUpdate
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			log.Printf("bridge: bad PRICE frame: %v", err)
			return
		}
		c.handlers.OnPrice(p)
	case TopicTick:
		if c.handlers.OnTick == nil {
			return
		}
		var t Tick
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			log.Printf("bridge: bad TICK frame: %v", err)
			return
		}
		c.handlers.OnTick(t)
	case TopicNews:
		if c.handlers.OnNews == nil {
			return
		}
		var n News
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			log.Printf("bridge: bad NEWS frame: %v", err)
			return
		}
		c.handlers.OnNews(n)
	default:
		log.Printf("bridge: unknown stream type %q", msg.Type)
	}
}

// onDisconnect fails all in-flight requests and flags degraded mode.
func (c *Client) onDisconnect(err error) {
	log.Printf("bridge: connection lost: %v", err)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if c.degraded.CompareAndSwap(false, true) && c.bus != nil {
		c.bus.Publish(events.EventBridgeDegraded, err.Error())
	}
}

// reconnect retries the dial on a fixed backoff until it succeeds or the
// context ends. Existing positions stay tracked on last-known prices while
// disconnected.
func (c *Client) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.ReconnectDelay):
		}
		if c.closed.Load() {
			return false
		}
		if err := c.dial(ctx); err != nil {
			log.Printf("bridge: reconnect failed, retrying in %s: %v", c.cfg.ReconnectDelay, err)
			continue
		}
		return true
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
