package node

import (
	"errors"
	"testing"
	"time"

	internalerrors "nexachain.dev/nexachain/internal/errors"
)

func TestRegisterCompleteDeliversResult(t *testing.T) {
	rt := newRequestTable()
	done := rt.register("req-1", "peer-a", time.Second)
	rt.complete("req-1", "the-result")

	select {
	case v := <-done:
		if v.(string) != "the-result" {
			t.Errorf("complete() delivered %v, want %q", v, "the-result")
		}
	case <-time.After(time.Second):
		t.Fatal("complete() did not deliver to the waiter")
	}
}

func TestRegisterTimesOutWithoutResponse(t *testing.T) {
	rt := newRequestTable()
	done := rt.register("req-2", "peer-a", 20*time.Millisecond)

	select {
	case v := <-done:
		if !errors.Is(v.(error), internalerrors.ErrTimeout) {
			t.Errorf("timeout delivered %v, want ErrTimeout", v)
		}
	case <-time.After(time.Second):
		t.Fatal("register() never timed out")
	}
}

func TestCompleteDiscardsUnknownRequestID(t *testing.T) {
	rt := newRequestTable()
	// Completing an id that was never registered must not panic or block.
	rt.complete("never-registered", "whatever")
}

func TestCompleteAfterTimeoutIsDiscarded(t *testing.T) {
	rt := newRequestTable()
	done := rt.register("req-3", "peer-a", 10*time.Millisecond)
	<-done // absorb the timeout delivery

	// A late response for an id already expired and removed must be a no-op.
	rt.complete("req-3", "late-response")
}

func TestDropPeerDeliversTimeoutToPending(t *testing.T) {
	rt := newRequestTable()
	doneA := rt.register("req-a", "peer-a", time.Minute)
	doneB := rt.register("req-b", "peer-b", time.Minute)

	rt.dropPeer("peer-a")

	select {
	case v := <-doneA:
		if !errors.Is(v.(error), internalerrors.ErrTimeout) {
			t.Errorf("dropPeer() delivered %v to peer-a's request, want ErrTimeout", v)
		}
	case <-time.After(time.Second):
		t.Fatal("dropPeer() did not deliver to peer-a's pending request")
	}

	select {
	case v := <-doneB:
		t.Fatalf("dropPeer(\"peer-a\") unexpectedly resolved peer-b's request with %v", v)
	case <-time.After(50 * time.Millisecond):
		// expected: peer-b's request is untouched.
	}
}
