package mempool

import (
	"testing"

	"nexachain.dev/nexachain/internal/core"
)

func tx(sender string, nonce uint64) *core.Transaction {
	return &core.Transaction{Sender: sender, Nonce: nonce}
}

func TestPopOrdersBySenderThenNonce(t *testing.T) {
	m := New()
	m.Add(tx("b", 0))
	m.Add(tx("a", 1))
	m.Add(tx("a", 0))

	first, ok := m.Pop()
	if !ok || first.Sender != "a" || first.Nonce != 0 {
		t.Fatalf("first Pop() = %+v, ok=%v, want sender a nonce 0", first, ok)
	}
	second, ok := m.Pop()
	if !ok || second.Sender != "a" || second.Nonce != 1 {
		t.Fatalf("second Pop() = %+v, ok=%v, want sender a nonce 1", second, ok)
	}
	third, ok := m.Pop()
	if !ok || third.Sender != "b" || third.Nonce != 0 {
		t.Fatalf("third Pop() = %+v, ok=%v, want sender b nonce 0", third, ok)
	}
	if _, ok := m.Pop(); ok {
		t.Errorf("Pop() on an empty mempool ok = true, want false")
	}
}

func TestPopBreaksTiesByInsertionOrder(t *testing.T) {
	m := New()
	first := tx("a", 0)
	second := tx("a", 0)
	m.Add(first)
	m.Add(second)

	got1, _ := m.Pop()
	got2, _ := m.Pop()
	if got1 != first || got2 != second {
		t.Errorf("equal-key pops out of FIFO order: got %p then %p, want %p then %p", got1, got2, first, second)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	m := New()
	m.Add(tx("a", 0))
	m.Add(tx("b", 0))

	peeked := m.Peek(1)
	if len(peeked) != 1 || peeked[0].Sender != "a" {
		t.Fatalf("Peek(1) = %+v, want one entry for sender a", peeked)
	}
	if m.Len() != 2 {
		t.Errorf("Len() after Peek() = %d, want 2 (Peek must not remove)", m.Len())
	}
}

func TestPeekClampsToLength(t *testing.T) {
	m := New()
	m.Add(tx("a", 0))
	peeked := m.Peek(5)
	if len(peeked) != 1 {
		t.Errorf("Peek(5) on a 1-entry mempool returned %d entries, want 1", len(peeked))
	}
}

func TestDiffRemovesAdoptedTransactions(t *testing.T) {
	m := New()
	adopted := tx("a", 0)
	adopted.ID = "tx-adopted"
	kept := tx("b", 0)
	kept.ID = "tx-kept"
	m.Add(adopted)
	m.Add(kept)

	out := m.Diff([]*core.Transaction{adopted})
	if out.Len() != 1 {
		t.Fatalf("Diff() result Len() = %d, want 1", out.Len())
	}
	remaining, ok := out.Pop()
	if !ok || remaining.ID != "tx-kept" {
		t.Errorf("Diff() left %+v, want only tx-kept", remaining)
	}
	// The original mempool is untouched by Diff.
	if m.Len() != 2 {
		t.Errorf("original Mempool.Len() after Diff() = %d, want 2 (unchanged)", m.Len())
	}
}

func TestDiffPreservesFIFOOrderForDuplicateKeys(t *testing.T) {
	m := New()
	removed := tx("a", 0)
	removed.ID = "tx-removed"
	first := tx("a", 1)
	first.ID = "tx-first"
	second := tx("a", 1)
	second.ID = "tx-second"
	third := tx("a", 1)
	third.ID = "tx-third"
	m.Add(removed)
	m.Add(first)
	m.Add(second)
	m.Add(third)

	out := m.Diff([]*core.Transaction{removed})
	if out.Len() != 3 {
		t.Fatalf("Diff() result Len() = %d, want 3", out.Len())
	}
	got1, _ := out.Pop()
	got2, _ := out.Pop()
	got3, _ := out.Pop()
	if got1 != first || got2 != second || got3 != third {
		t.Errorf("Diff() did not preserve insertion order for the duplicate (sender, nonce) key: got %p, %p, %p, want %p, %p, %p",
			got1, got2, got3, first, second, third)
	}
}

func TestLenTracksAddAndPop(t *testing.T) {
	m := New()
	if m.Len() != 0 {
		t.Fatalf("Len() on a fresh mempool = %d, want 0", m.Len())
	}
	m.Add(tx("a", 0))
	m.Add(tx("a", 1))
	if m.Len() != 2 {
		t.Fatalf("Len() after two Add() = %d, want 2", m.Len())
	}
	m.Pop()
	if m.Len() != 1 {
		t.Errorf("Len() after Pop() = %d, want 1", m.Len())
	}
}
