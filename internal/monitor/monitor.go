// Package monitor watches the event bus for risk alerts and bridge health
// changes, keeping a bounded history the control API can expose.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trade-engine/internal/events"
)

const historySize = 100

// Alert is one recorded observation.
type Alert struct {
	Kind    string    `json:"kind"` // "risk", "bridge"
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Monitor subscribes to alert-worthy events, retains the most recent ones
// in memory, and counts engine throughput into its system metrics.
type Monitor struct {
	bus     *events.Bus
	alertFn func(Alert)
	metrics *SystemMetrics

	mu      sync.RWMutex
	history []Alert
}

// New creates a monitor. alertFn is optional; when set it is invoked for
// every recorded alert in addition to the history.
func New(bus *events.Bus, alertFn func(Alert)) *Monitor {
	return &Monitor{bus: bus, alertFn: alertFn, metrics: NewSystemMetrics()}
}

// Metrics exposes the system metrics for the API middleware and the
// metrics endpoint.
func (m *Monitor) Metrics() *SystemMetrics {
	return m.metrics
}

// Start begins watching; observation stops when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.bus == nil {
		log.Println("monitor: no event bus configured, skipping")
		return
	}
	risks, unsubRisk := m.bus.Subscribe(events.EventRiskAlert, 50)
	degraded, unsubDeg := m.bus.Subscribe(events.EventBridgeDegraded, 10)
	recovered, unsubRec := m.bus.Subscribe(events.EventBridgeRecovered, 10)
	signals, unsubSig := m.bus.Subscribe(events.EventSignalQueued, 100)
	fills, unsubFill := m.bus.Subscribe(events.EventOrderFilled, 100)
	closes, unsubClose := m.bus.Subscribe(events.EventPositionClosed, 100)
	prices, unsubPrice := m.bus.Subscribe(events.EventPriceUpdate, 256)

	go func() {
		defer unsubRisk()
		defer unsubDeg()
		defer unsubRec()
		defer unsubSig()
		defer unsubFill()
		defer unsubClose()
		defer unsubPrice()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-risks:
				if !ok {
					return
				}
				m.record("risk", describe(msg))
			case msg, ok := <-degraded:
				if !ok {
					return
				}
				m.record("bridge", "venue bridge degraded: "+describe(msg))
			case <-recovered:
				m.record("bridge", "venue bridge recovered")
			case <-signals:
				m.metrics.IncrementSignals()
			case <-fills:
				m.metrics.IncrementOrders()
			case <-closes:
				m.metrics.IncrementPositionsClosed()
			case <-prices:
				m.metrics.IncrementPrices()
			}
		}
	}()
}

// Recent returns recorded alerts, newest first.
func (m *Monitor) Recent() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.history))
	for i, a := range m.history {
		out[len(m.history)-1-i] = a
	}
	return out
}

func (m *Monitor) record(kind, message string) {
	a := Alert{Kind: kind, Message: message, At: time.Now()}
	m.mu.Lock()
	m.history = append(m.history, a)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	fn := m.alertFn
	m.mu.Unlock()

	log.Printf("monitor: [%s] %s", kind, message)
	if fn != nil {
		fn(a)
	}
}

func describe(msg any) string {
	switch t := msg.(type) {
	case string:
		return t
	case map[string]any:
		if r, ok := t["reason"].(string); ok {
			if s, ok := t["severity"].(string); ok {
				return fmt.Sprintf("%s: %s", s, r)
			}
			return r
		}
	case error:
		return t.Error()
	}
	return fmt.Sprintf("%v", msg)
}
