// Package clock abstracts time so that dispatch cadence and reconnect
// backoff can be driven by virtual time in tests instead of wall-clock
// sleeping.
package clock

import "time"

// Clock produces the current time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	Sleep(d time.Duration)
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Wall is the real-time clock.
type Wall struct{}

func New() Wall { return Wall{} }

func (Wall) Now() time.Time        { return time.Now() }
func (Wall) Sleep(d time.Duration) { time.Sleep(d) }
func (Wall) NewTicker(d time.Duration) Ticker {
	return wallTicker{t: time.NewTicker(d)}
}

type wallTicker struct {
	t *time.Ticker
}

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }
