package node

import (
	"sync"
	"time"

	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// DefaultRequestTimeout is the per-request deadline described in §5 ("a
// per-request timeout (default 5 s)").
const DefaultRequestTimeout = 5 * time.Second

// pendingRequest is one entry in the request table: a completion channel
// the issuing goroutine blocks on, and the timer that expires it.
type pendingRequest struct {
	done  chan any
	timer *time.Timer
	peer  string
}

// requestTable tracks in-flight requests by request_id, matching §5's
// "per-node request table keyed by id, with a per-request timeout".
type requestTable struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newRequestTable() *requestTable {
	return &requestTable{pending: make(map[string]*pendingRequest)}
}

// register adds requestID to the table, arming a timer that delivers
// Timeout and removes the entry if no response arrives within timeout.
func (t *requestTable) register(requestID, peer string, timeout time.Duration) <-chan any {
	done := make(chan any, 1)
	entry := &pendingRequest{done: done, peer: peer}
	entry.timer = time.AfterFunc(timeout, func() {
		t.mu.Lock()
		if cur, ok := t.pending[requestID]; ok && cur == entry {
			delete(t.pending, requestID)
			t.mu.Unlock()
			done <- internalerrors.ErrTimeout
			return
		}
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.pending[requestID] = entry
	t.mu.Unlock()
	return done
}

// complete delivers result to the waiter for requestID, if still pending.
// Responses for unknown or already-expired ids are discarded, matching
// §5's "subsequent responses with those ids are discarded".
func (t *requestTable) complete(requestID string, result any) {
	t.mu.Lock()
	entry, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	entry.timer.Stop()
	entry.done <- result
}

// dropPeer removes every pending entry targeted at peer, delivering
// Timeout to each waiter — a dropped connection's effect on the request
// table (§5).
func (t *requestTable) dropPeer(peer string) {
	t.mu.Lock()
	var drop []*pendingRequest
	for id, entry := range t.pending {
		if entry.peer == peer {
			drop = append(drop, entry)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()
	for _, entry := range drop {
		entry.timer.Stop()
		entry.done <- internalerrors.ErrTimeout
	}
}
