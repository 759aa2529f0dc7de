// Package mempool implements nexachain's transaction priority queue (C4),
// grounded on original_source/ccoin/transaction_queue.py's
// OrderableTransaction/TransactionQueue shape but built on Go's
// container/heap, and corrected per §3/§4.4 to order by the full
// (sender, nonce, insertion_counter) compound key — the original's
// OrderableTransaction ordered on (-tx.nonce, counter) alone, with no
// sender component; this is one of the deviations spec.md explicitly
// requires (see DESIGN.md).
package mempool

import (
	"container/heap"
	"sort"
	"sync"

	"nexachain.dev/nexachain/internal/core"
)

// entry is one heap element: a transaction plus the insertion counter that
// breaks ties within an equal (sender, nonce) key.
type entry struct {
	tx      *core.Transaction
	counter uint64
	index   int
}

// orderedHeap implements container/heap.Interface, ordering ascending by
// (sender, nonce, counter) as §3/§4.4 require.
type orderedHeap []*entry

func (h orderedHeap) Len() int { return len(h) }

func (h orderedHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.tx.Sender != b.tx.Sender {
		return a.tx.Sender < b.tx.Sender
	}
	if a.tx.Nonce != b.tx.Nonce {
		return a.tx.Nonce < b.tx.Nonce
	}
	return a.counter < b.counter
}

func (h orderedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *orderedHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *orderedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Mempool is a priority queue of pending transactions ordered ascending by
// (sender, nonce, insertion_counter); the Node FSM owns the instance
// (§3 "Ownership").
type Mempool struct {
	mu      sync.Mutex
	h       orderedHeap
	counter uint64
}

// New returns an empty Mempool.
func New() *Mempool {
	m := &Mempool{}
	heap.Init(&m.h)
	return m
}

// Add pushes tx with key (tx.Sender, tx.Nonce, counter++). No deduplication
// by id is performed; equal-key entries are served first-in-first-out via
// the counter tiebreak (§4.4).
func (m *Mempool) Add(tx *core.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	heap.Push(&m.h, &entry{tx: tx, counter: m.counter})
	m.counter++
}

// Pop removes and returns the least-keyed transaction, or (nil, false) if
// the mempool is empty.
func (m *Mempool) Pop() (*core.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.h) == 0 {
		return nil, false
	}
	e := heap.Pop(&m.h).(*entry)
	return e.tx, true
}

// Peek returns up to n transactions in priority order without removing
// them.
func (m *Mempool) Peek(n int) []*core.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.h) {
		n = len(m.h)
	}
	cp := make(orderedHeap, len(m.h))
	copy(cp, m.h)
	heap.Init(&cp)
	out := make([]*core.Transaction, 0, n)
	for i := 0; i < n; i++ {
		e := heap.Pop(&cp).(*entry)
		out = append(out, e.tx)
	}
	return out
}

// Diff returns a new Mempool with every transaction whose id appears in
// adopted removed; used when a block is adopted and its body must no
// longer be considered pending (§4.4).
func (m *Mempool) Diff(adopted []*core.Transaction) *Mempool {
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := make(map[string]struct{}, len(adopted))
	for _, tx := range adopted {
		remove[tx.ID] = struct{}{}
	}
	kept := make([]*entry, 0, len(m.h))
	for _, e := range m.h {
		if _, skip := remove[e.tx.ID]; skip {
			continue
		}
		kept = append(kept, e)
	}
	// Re-add in original insertion order (by the old counter), not raw heap
	// array order, so re-adding through Add preserves FIFO tie-breaking for
	// any surviving duplicate (sender, nonce) entries.
	sort.Slice(kept, func(i, j int) bool { return kept[i].counter < kept[j].counter })
	out := New()
	for _, e := range kept {
		out.Add(e.tx)
	}
	return out
}

// Len returns the current number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.h)
}
