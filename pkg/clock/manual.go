package clock

import (
	"sync"
	"time"
)

// Manual is a test clock advanced explicitly with Advance.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManual creates a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep advances the clock; it never blocks.
func (m *Manual) Sleep(d time.Duration) { m.Advance(d) }

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{
		clk:      m,
		interval: d,
		next:     m.now.Add(d),
		ch:       make(chan time.Time, 64),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward and fires any tickers whose deadline
// passed. Ticks are delivered on buffered channels so Advance never blocks.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	tickers := make([]*manualTicker, len(m.tickers))
	copy(tickers, m.tickers)
	m.mu.Unlock()

	for _, t := range tickers {
		t.fireUpTo(now)
	}
}

type manualTicker struct {
	clk      *Manual
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	stopped  bool
	ch       chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *manualTicker) fireUpTo(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	for !t.next.After(now) {
		select {
		case t.ch <- t.next:
		default:
		}
		t.next = t.next.Add(t.interval)
	}
}
