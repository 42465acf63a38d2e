// Package persistence provides the asynchronous write journal used for the
// historical trade log and for balance-write retries. Writes are
// fire-and-forget from the trading hot path; the journal applies retry with
// backoff to the write itself, never to the trading decision that produced
// it.
package persistence

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"trade-engine/pkg/db"
)

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultMaxBuffer     = 64
	maxWriteAttempts     = 5
)

type writeOp struct {
	kind     string // "trade" or "balance"
	trade    db.Trade
	balance  db.BalanceRow
	attempts int
}

// Journal buffers writes and flushes them in the background.
type Journal struct {
	store *db.Database

	mu     sync.Mutex
	buffer []writeOp

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	flushes uint64
	errors  uint64
}

func NewJournal(store *db.Database) *Journal {
	j := &Journal{
		store:  store,
		buffer: make([]writeOp, 0, defaultMaxBuffer),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

// AppendTrade queues an immutable trade row. Eventual consistency is
// acceptable for the historical trade log.
func (j *Journal) AppendTrade(t db.Trade) {
	j.enqueue(writeOp{kind: "trade", trade: t})
}

// RetryBalance queues a balance upsert whose synchronous write failed.
func (j *Journal) RetryBalance(b db.BalanceRow) {
	j.enqueue(writeOp{kind: "balance", balance: b})
}

// Pending reports buffered, not-yet-flushed operations.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}

// Flush drains the buffer immediately; failed ops are requeued with an
// attempt budget.
func (j *Journal) Flush() {
	j.mu.Lock()
	ops := j.buffer
	j.buffer = make([]writeOp, 0, defaultMaxBuffer)
	j.mu.Unlock()

	if len(ops) == 0 {
		return
	}
	atomic.AddUint64(&j.flushes, 1)

	var failed []writeOp
	for _, op := range ops {
		if err := j.write(op); err != nil {
			op.attempts++
			if op.attempts >= maxWriteAttempts {
				atomic.AddUint64(&j.errors, 1)
				log.Printf("journal: dropping %s write after %d attempts: %v", op.kind, op.attempts, err)
				continue
			}
			failed = append(failed, op)
		}
	}

	if len(failed) > 0 {
		// Requeue; the flush ticker spaces out the retry attempts.
		j.mu.Lock()
		j.buffer = append(failed, j.buffer...)
		j.mu.Unlock()
	}
}

// Close flushes remaining writes and stops the background loop.
func (j *Journal) Close() {
	close(j.done)
	j.wg.Wait()
}

// Errors returns the count of permanently failed writes.
func (j *Journal) Errors() uint64 {
	return atomic.LoadUint64(&j.errors)
}

// enqueue never blocks the caller on storage: when the buffer fills up it
// only nudges the background loop, which owns all flushing.
func (j *Journal) enqueue(op writeOp) {
	j.mu.Lock()
	j.buffer = append(j.buffer, op)
	full := len(j.buffer) >= defaultMaxBuffer
	j.mu.Unlock()
	if full {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

func (j *Journal) write(op writeOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	switch op.kind {
	case "balance":
		return j.store.SaveBalance(ctx, op.balance)
	default:
		return j.store.CreateTrade(ctx, op.trade)
	}
}

func (j *Journal) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Flush()
		case <-j.kick:
			j.Flush()
		case <-j.done:
			j.Flush()
			return
		}
	}
}
