package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"nexachain.dev/nexachain/internal/core"
	internalcrypto "nexachain.dev/nexachain/internal/crypto"
	"nexachain.dev/nexachain/internal/netconf"
	"nexachain.dev/nexachain/internal/wallet"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func testAccount(t *testing.T) *wallet.Account {
	t.Helper()
	acc, err := wallet.Create(t.TempDir())
	if err != nil {
		t.Fatalf("wallet.Create() error = %v", err)
	}
	return acc
}

func declWithMiner(addr string) *netconf.Declaration {
	return &netconf.Declaration{
		Miners: []string{addr},
		BlockMining: netconf.BlockMining{
			Interval: 10, MinBound: 1, Reward: 50, Difficulty: 1, AllowEmpty: true,
		},
	}
}

// newTestNode builds a Node for an account whose address is already known
// to declFn, so the declaration's miner list can authorise it.
func newTestNode(t *testing.T, nodeType NodeType, declFn func(address string) *netconf.Declaration) (*Node, *wallet.Account) {
	t.Helper()
	acc := testAccount(t)
	n := New(Config{
		Account:     acc,
		NodeType:    nodeType,
		Declaration: declFn(acc.Address),
		Log:         testLogger(),
	})
	return n, acc
}

func signedTransaction(t *testing.T, recipient string, nonce, amount uint64) *core.Transaction {
	t.Helper()
	priv, err := internalcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	tx, err := core.NewTransaction(&priv.PublicKey, recipient, nonce, amount, nil, time.Now().Unix())
	if err != nil {
		t.Fatalf("NewTransaction() error = %v", err)
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return tx
}

func TestIsMinerRequiresValidatorAndAuthorisation(t *testing.T) {
	validatorAuthorised, _ := newTestNode(t, NodeTypeValidator, declWithMiner)
	if !validatorAuthorised.isMiner() {
		t.Errorf("isMiner() = false for an authorised validator, want true")
	}

	validatorUnauthorised, _ := newTestNode(t, NodeTypeValidator, func(string) *netconf.Declaration {
		return declWithMiner("someone-else")
	})
	if validatorUnauthorised.isMiner() {
		t.Errorf("isMiner() = true for an unauthorised validator, want false")
	}

	basic, _ := newTestNode(t, NodeTypeBasic, declWithMiner)
	if basic.isMiner() {
		t.Errorf("isMiner() = true for a basic node type, want false")
	}
}

func TestAdmitTransactionRejectsInvalidSignature(t *testing.T) {
	n, _ := newTestNode(t, NodeTypeValidator, declWithMiner)

	tx := signedTransaction(t, "recipient-a", 0, 10)
	tx.Signature[0] ^= 0xFF // tamper

	n.admitTransaction(tx)
	if n.mempool.Len() != 0 {
		t.Errorf("admitTransaction() with a tampered signature added to mempool, want rejected")
	}
}

func TestAdmitTransactionAddsToMempoolWhenMiner(t *testing.T) {
	n, _ := newTestNode(t, NodeTypeValidator, declWithMiner)

	tx := signedTransaction(t, "recipient-a", 0, 10)
	n.admitTransaction(tx)
	if n.mempool.Len() != 1 {
		t.Errorf("admitTransaction() mempool length = %d, want 1", n.mempool.Len())
	}
}

func TestAdmitTransactionSkipsMempoolWhenNotMiner(t *testing.T) {
	n, _ := newTestNode(t, NodeTypeBasic, declWithMiner)

	tx := signedTransaction(t, "recipient-a", 0, 10)
	n.admitTransaction(tx)
	if n.mempool.Len() != 0 {
		t.Errorf("admitTransaction() on a non-mining node added to mempool, want skipped")
	}
}

func TestOnBlockAdoptedUpdatesMempoolAndReadiness(t *testing.T) {
	n, _ := newTestNode(t, NodeTypeValidator, declWithMiner)

	adopted := signedTransaction(t, "recipient-a", 0, 10)
	pending := signedTransaction(t, "recipient-b", 0, 5)
	n.admitTransaction(adopted)
	n.admitTransaction(pending)
	if n.mempool.Len() != 2 {
		t.Fatalf("setup: mempool length = %d, want 2", n.mempool.Len())
	}

	block := &core.Block{Number: 2, Timestamp: 12345, Body: []*core.Transaction{adopted}}
	n.onBlockAdopted(block)

	if n.mempool.Len() != 1 {
		t.Errorf("onBlockAdopted() mempool length = %d, want 1 (adopted tx removed)", n.mempool.Len())
	}
	if !n.readyToMine {
		t.Errorf("onBlockAdopted() readyToMine = false, want true")
	}
	if n.lastBlockTS != 12345 {
		t.Errorf("onBlockAdopted() lastBlockTS = %d, want 12345", n.lastBlockTS)
	}
}

func TestElectLeaderWithNoPeersElectsSelf(t *testing.T) {
	n, _ := newTestNode(t, NodeTypeValidator, declWithMiner)

	n.electLeader()
	if !n.isLeader() {
		t.Errorf("electLeader() with no connected peers did not elect self")
	}
}

func TestElectLeaderNoopForNonMiner(t *testing.T) {
	n, _ := newTestNode(t, NodeTypeBasic, declWithMiner)

	n.electLeader()
	if n.leader != "" {
		t.Errorf("electLeader() on a non-mining node set leader = %q, want empty", n.leader)
	}
}

func TestNodeStartsInBootState(t *testing.T) {
	n, _ := newTestNode(t, NodeTypeBasic, declWithMiner)

	if n.State() != StateBoot {
		t.Errorf("State() = %q immediately after New(), want %q", n.State(), StateBoot)
	}
}
