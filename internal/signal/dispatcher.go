package signal

import (
	"log"
)

// ProcessFunc runs one signal's full risk-check-and-execute cycle.
type ProcessFunc func(Signal) error

// Dispatcher drains the queue strictly sequentially: one signal's cycle
// completes (or fails) before the next begins, so two signals can never race
// to open incompatible positions on the same symbol.
type Dispatcher struct {
	queue   *Queue
	process ProcessFunc
}

func NewDispatcher(q *Queue, process ProcessFunc) *Dispatcher {
	return &Dispatcher{queue: q, process: process}
}

// DrainOnce consumes every currently queued signal. A failure in one
// signal's processing is logged and does not stop the drain. The halt
// predicate is consulted between signals; when it reports true the current
// signal is allowed to complete but the rest of the queue is discarded.
func (d *Dispatcher) DrainOnce(halt func() bool) int {
	processed := 0
	for {
		if halt != nil && halt() {
			if n := d.queue.Clear(); n > 0 {
				log.Printf("dispatcher: halted, dropped %d queued signals", n)
			}
			return processed
		}
		s, ok := d.queue.Pop()
		if !ok {
			return processed
		}
		d.processOne(s)
		processed++
	}
}

func (d *Dispatcher) processOne(s Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatcher: panic processing signal %s %s: %v", s.Action, s.Symbol, r)
		}
	}()
	if err := d.process(s); err != nil {
		log.Printf("dispatcher: signal %s %s from %s failed: %v", s.Action, s.Symbol, s.Source, err)
	}
}
