package signal

import "testing"

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(Signal{ID: id, Symbol: "EURUSD", Action: ActionBuy})
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	for _, want := range []string{"a", "b", "c"} {
		s, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop returned empty, want %s", want)
		}
		if s.ID != want {
			t.Errorf("Pop order: got %s, want %s", s.ID, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on empty queue returned a signal")
	}
}

func TestQueueAcceptsDuplicates(t *testing.T) {
	q := NewQueue()
	s := Signal{ID: "dup", Symbol: "EURUSD", Action: ActionBuy}
	q.Enqueue(s)
	q.Enqueue(s)
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (duplicates allowed)", q.Len())
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueueWithCapacity(2)
	if !q.Enqueue(Signal{ID: "a"}) || !q.Enqueue(Signal{ID: "b"}) {
		t.Fatal("Enqueue under capacity rejected")
	}
	if q.Enqueue(Signal{ID: "c"}) {
		t.Fatal("Enqueue at capacity accepted")
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}

	// Draining frees a slot.
	if _, ok := q.Pop(); !ok {
		t.Fatal("Pop returned empty")
	}
	if !q.Enqueue(Signal{ID: "c"}) {
		t.Fatal("Enqueue after Pop rejected")
	}
}

func TestQueueClear(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Signal{ID: "a"})
	q.Enqueue(Signal{ID: "b"})
	if n := q.Clear(); n != 2 {
		t.Fatalf("Clear = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", q.Len())
	}
}
