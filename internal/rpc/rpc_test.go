package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"nexachain.dev/nexachain/internal/chain"
	"nexachain.dev/nexachain/internal/core"
	"nexachain.dev/nexachain/internal/discovery"
	"nexachain.dev/nexachain/internal/netconf"
	"nexachain.dev/nexachain/internal/pow"
	"nexachain.dev/nexachain/internal/state"
)

const testDeclarationJSON = `{
  "miners": ["addr-a"],
  "block_mining": {
    "interval": 10, "max_bound": 100, "min_bound": 1,
    "reward": 50, "difficulty": 1, "allow_empty": true,
    "placeholder_data": ["predef", "pad"]
  },
  "network_id": "test", "max_peers": 8,
  "alloc": {"addr-a": {"balance": 1000, "nonce": 0}},
  "genesis_block": {"coinbase": "addr-a", "difficulty": 1}
}`

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	decl, err := netconf.LoadFile([]byte(testDeclarationJSON))
	if err != nil {
		t.Fatalf("netconf.LoadFile() error = %v", err)
	}
	declBytes, err := decl.Bytes()
	if err != nil {
		t.Fatalf("decl.Bytes() error = %v", err)
	}

	b := &core.Block{
		Number:     1,
		Coinbase:   decl.GenesisBlock.Coinbase,
		Data:       declBytes,
		Timestamp:  1700000000,
		Difficulty: decl.GenesisBlock.Difficulty,
	}
	if err := b.RefreshTxHash(); err != nil {
		t.Fatalf("RefreshTxHash() error = %v", err)
	}

	ephemeral, err := state.OpenEphemeral()
	if err != nil {
		t.Fatalf("OpenEphemeral() error = %v", err)
	}
	defer ephemeral.Close()
	stateHash, err := ephemeral.FromGenesis(map[string]state.AccountState{
		"addr-a": {Address: "addr-a", Balance: 1000, Nonce: 0},
	}, true)
	if err != nil {
		t.Fatalf("FromGenesis() error = %v", err)
	}
	b.StateHash = stateHash

	miningHash, err := b.MiningHash()
	if err != nil {
		t.Fatalf("MiningHash() error = %v", err)
	}
	result, ok, err := pow.Mine(b.Difficulty, miningHash, 0, 2_000_000)
	if err != nil || !ok {
		t.Fatalf("pow.Mine() failed: ok=%v err=%v", ok, err)
	}
	b.Nonce = result.Nonce
	b.ID = result.BlockID

	c, initialized, err := chain.Load(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("chain.Load() error = %v", err)
	}
	if initialized {
		t.Fatalf("chain.Load() on a fresh dir reported initialized = true")
	}
	if err := c.CreateNew(b, decl); err != nil {
		t.Fatalf("CreateNew() error = %v", err)
	}

	ws, err := state.Open(t.TempDir(), 0, testLogger())
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	if _, err := ws.NewBlock(1); err != nil {
		t.Fatalf("ws.NewBlock(1) error = %v", err)
	}
	if err := c.ApplyBlock(b, ws); err != nil {
		t.Fatalf("ApplyBlock(genesis) error = %v", err)
	}

	dir := discovery.NewStatic([]discovery.Peer{{ID: "n1"}})
	return New(c, ws, dir)
}

func TestHandleHeight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/height", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /height status = %d, want 200", rec.Code)
	}
	var body map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if body["height"] != 1 {
		t.Errorf("GET /height = %v, want height 1", body)
	}
}

func TestHandlePeers(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /peers status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("GET /peers count = %v, want 1", body["count"])
	}
}

func TestHandleBlockIncludesAccountState(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/blocks/1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /blocks/1 status = %d, want 200", rec.Code)
	}
	var body blockView
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if body.Number != 1 {
		t.Errorf("GET /blocks/1 Number = %d, want 1", body.Number)
	}
	found := false
	for _, acc := range body.Accounts {
		if acc.Address == "addr-a" && acc.Balance == 1000 {
			found = true
		}
	}
	if !found {
		t.Errorf("GET /blocks/1 Accounts = %+v, want an entry for addr-a with balance 1000", body.Accounts)
	}
}

func TestHandleBlockNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/blocks/99", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /blocks/99 status = %d, want 404", rec.Code)
	}
}

func TestHandleTransactionNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/blocks/1/txns/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /blocks/1/txns/does-not-exist status = %d, want 404", rec.Code)
	}
}
