package cache

import (
	"sort"
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := NewShardedQuoteCache()
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	c.Set("EURUSD", Quote{Bid: 1.0850, Ask: 1.0852, At: at})

	q, ok := c.Get("EURUSD")
	if !ok {
		t.Fatal("quote not found after Set")
	}
	if q.Bid != 1.0850 || q.Ask != 1.0852 {
		t.Fatalf("quote = %+v", q)
	}

	if _, ok := c.Get("GBPUSD"); ok {
		t.Fatal("Get returned a quote for an unknown symbol")
	}
}

func TestSetOverwritesPreviousQuote(t *testing.T) {
	c := NewShardedQuoteCache()
	c.Set("BTCUSD", Quote{Bid: 50000, Ask: 50010})
	c.Set("BTCUSD", Quote{Bid: 51000, Ask: 51010})

	q, _ := c.Get("BTCUSD")
	if q.Bid != 51000 {
		t.Fatalf("bid = %v, want 51000", q.Bid)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
}

func TestGetFreshRejectsStaleQuotes(t *testing.T) {
	c := NewShardedQuoteCache()
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	c.Set("EURUSD", Quote{Bid: 1.1, Ask: 1.1002, At: at})

	if _, ok := c.GetFresh("EURUSD", 5*time.Second, at.Add(3*time.Second)); !ok {
		t.Fatal("fresh quote rejected")
	}
	if _, ok := c.GetFresh("EURUSD", 5*time.Second, at.Add(6*time.Second)); ok {
		t.Fatal("stale quote accepted")
	}
	// maxAge 0 disables the staleness check.
	if _, ok := c.GetFresh("EURUSD", 0, at.Add(time.Hour)); !ok {
		t.Fatal("maxAge 0 should accept any quote age")
	}
}

func TestSymbolsAndLenSpanShards(t *testing.T) {
	c := NewShardedQuoteCache()
	symbols := []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD", "BTCUSD", "ETHUSD"}
	for _, s := range symbols {
		c.Set(s, Quote{Bid: 1, Ask: 2})
	}

	if c.Len() != len(symbols) {
		t.Fatalf("len = %d, want %d", c.Len(), len(symbols))
	}

	got := c.Symbols()
	sort.Strings(got)
	sort.Strings(symbols)
	if len(got) != len(symbols) {
		t.Fatalf("symbols = %v", got)
	}
	for i := range got {
		if got[i] != symbols[i] {
			t.Fatalf("symbols = %v, want %v", got, symbols)
		}
	}
}
