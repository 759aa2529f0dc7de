package state

import (
	"errors"
	"testing"

	"github.com/syndtr/goleveldb/leveldb/util"

	"nexachain.dev/nexachain/internal/core"
	internalerrors "nexachain.dev/nexachain/internal/errors"

	"github.com/sirupsen/logrus"
)

func openTestState(t *testing.T, height uint64) *WorldState {
	t.Helper()
	ws, err := Open(t.TempDir(), height, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestAccountStateCreateOnMiss(t *testing.T) {
	ws := openTestState(t, 0)
	acc, ok, err := ws.AccountState("alice", false)
	if err != nil {
		t.Fatalf("AccountState() error = %v", err)
	}
	if ok {
		t.Fatalf("AccountState(create=false) on a miss ok = true, want false")
	}
	acc, ok, err = ws.AccountState("alice", true)
	if err != nil {
		t.Fatalf("AccountState() error = %v", err)
	}
	if !ok || acc.Balance != 0 || acc.Nonce != 0 {
		t.Errorf("AccountState(create=true) on a miss = %+v ok=%v, want a zeroed record", acc, ok)
	}
}

func TestCommitPersistsAndComputesHash(t *testing.T) {
	ws := openTestState(t, 0)
	if err := ws.SetBalance("alice", 1000); err != nil {
		t.Fatalf("SetBalance() error = %v", err)
	}
	hash, err := ws.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if hash == "" {
		t.Fatalf("Commit() returned an empty hash")
	}
	stored, err := ws.StateHash()
	if err != nil {
		t.Fatalf("StateHash() error = %v", err)
	}
	if stored != hash {
		t.Errorf("StateHash() = %q, want %q (Commit()'s return value)", stored, hash)
	}
}

func TestCommitHashChangesWithState(t *testing.T) {
	ws := openTestState(t, 0)
	if err := ws.SetBalance("alice", 1000); err != nil {
		t.Fatalf("SetBalance() error = %v", err)
	}
	h1, err := ws.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := ws.SetBalance("alice", 1001); err != nil {
		t.Fatalf("SetBalance() error = %v", err)
	}
	h2, err := ws.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if h1 == h2 {
		t.Errorf("Commit() hash did not change when account state changed")
	}
}

func TestNewBlockSnapshotsPreviousHeight(t *testing.T) {
	ws := openTestState(t, 0)
	if err := ws.SetBalance("alice", 500); err != nil {
		t.Fatalf("SetBalance() error = %v", err)
	}
	if _, err := ws.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	prev, err := ws.NewBlock(1)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	if prev != 0 {
		t.Errorf("NewBlock() returned prev height %d, want 0", prev)
	}
	acc, ok, err := ws.AccountState("alice", false)
	if err != nil {
		t.Fatalf("AccountState() error = %v", err)
	}
	if !ok || acc.Balance != 500 {
		t.Errorf("AccountState() at new height = %+v ok=%v, want balance 500 carried over from snapshot", acc, ok)
	}
}

func TestRollbackBlockRewindsAndClears(t *testing.T) {
	ws := openTestState(t, 0)
	if err := ws.SetBalance("alice", 500); err != nil {
		t.Fatalf("SetBalance() error = %v", err)
	}
	if _, err := ws.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := ws.NewBlock(1); err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	if err := ws.SetBalance("alice", 999); err != nil {
		t.Fatalf("SetBalance() error = %v", err)
	}
	if _, err := ws.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := ws.RollbackBlock(0); err != nil {
		t.Fatalf("RollbackBlock() error = %v", err)
	}
	h, err := ws.Height()
	if err != nil {
		t.Fatalf("Height() error = %v", err)
	}
	if h != 0 {
		t.Errorf("Height() after RollbackBlock(0) = %d, want 0", h)
	}

	// The invalid height-1 namespace must no longer contain any entries.
	iter := ws.db.NewIterator(util.BytesPrefix(prefixFor("1")), nil)
	defer iter.Release()
	if iter.Next() {
		t.Errorf("found a leftover worldstate.blk-1:* entry after RollbackBlock(0)")
	}
}

func TestApplyTxnRejectsUnknownSender(t *testing.T) {
	ws := openTestState(t, 0)
	tx := &core.Transaction{ID: "tx1", Sender: "ghost", Nonce: 0, Amount: 10, Signature: []byte("sig")}
	err := ws.ApplyTxn(tx)
	if err == nil {
		t.Fatalf("ApplyTxn() for an unsigned/unknown-sender tx error = nil, want error")
	}
}

func TestFromGenesisSeedsAllocAndCommits(t *testing.T) {
	ws := openTestState(t, 0)
	hash, err := ws.FromGenesis(map[string]AccountState{
		"alice": {Address: "alice", Balance: 1000, Nonce: 0},
	}, true)
	if err != nil {
		t.Fatalf("FromGenesis() error = %v", err)
	}
	if hash == "" {
		t.Fatalf("FromGenesis(commit=true) returned an empty hash")
	}
	acc, ok, err := ws.AccountState("alice", false)
	if err != nil {
		t.Fatalf("AccountState() error = %v", err)
	}
	if !ok || acc.Balance != 1000 {
		t.Errorf("AccountState(alice) = %+v ok=%v, want balance 1000", acc, ok)
	}
}

func TestIncrBalanceRejectsUnderflow(t *testing.T) {
	ws := openTestState(t, 0)
	if err := ws.SetBalance("alice", 10); err != nil {
		t.Fatalf("SetBalance() error = %v", err)
	}
	err := ws.IncrBalance("alice", -20)
	if err == nil {
		t.Fatalf("IncrBalance() underflow error = nil, want OutOfFunds-class error")
	}
	if !errors.Is(err, internalerrors.ErrOutOfFunds) {
		t.Errorf("IncrBalance() underflow error = %v, want wrapping ErrOutOfFunds", err)
	}
}
