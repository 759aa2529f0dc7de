// Package rpc implements nexachain's read-only HTTP JSON interface (§6
// collaborator): peer count, per-block detail with per-account state,
// chain height, and transaction lookup by id within a block. It replaces
// the teacher's rpc package, previously a bare placeholder comment, with a
// chi-routed handler set.
package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nexachain.dev/nexachain/internal/chain"
	"nexachain.dev/nexachain/internal/discovery"
	"nexachain.dev/nexachain/internal/state"
)

// Server exposes a node's chain, world state, and peer directory for
// read-only inspection.
type Server struct {
	chain *chain.Chain
	state *state.WorldState
	dir   discovery.Directory
}

// New builds a Server over the given components.
func New(c *chain.Chain, ws *state.WorldState, dir discovery.Directory) *Server {
	return &Server{chain: c, state: ws, dir: dir}
}

// Router builds the chi router exposing this node's endpoints:
//
//	GET /height                 -> current chain height
//	GET /peers                  -> discovery directory member count and list
//	GET /blocks/{n}              -> block at height n, with each
//	                                account referenced by its body annotated
//	                                with its current state
//	GET /blocks/{n}/txns/{txid} -> a single transaction within block n
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/height", s.handleHeight)
	r.Get("/peers", s.handlePeers)
	r.Get("/blocks/{n}", s.handleBlock)
	r.Get("/blocks/{n}/txns/{txid}", s.handleTransaction)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	h, err := s.chain.Height()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"height": h})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.dir.Members()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(peers), "peers": peers})
}

type accountView struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

type blockView struct {
	Number     uint64        `json:"number"`
	ParentHash string        `json:"parent_hash"`
	StateHash  string        `json:"state_hash"`
	TxHash     string        `json:"tx_hash"`
	Coinbase   string        `json:"coinbase"`
	Timestamp  int64         `json:"timestamp"`
	ID         string        `json:"id"`
	Accounts   []accountView `json:"accounts"`
}

func parseHeight(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "n"), 10, 64)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	n, err := parseHeight(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, ok, err := s.chain.GetBlock(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errBlockNotFound(n))
		return
	}

	seen := map[string]struct{}{b.Coinbase: {}}
	addrs := []string{b.Coinbase}
	for _, tx := range b.Body {
		for _, addr := range []string{tx.Sender, tx.Recipient} {
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			addrs = append(addrs, addr)
		}
	}

	view := blockView{
		Number:     b.Number,
		ParentHash: b.ParentHash,
		StateHash:  b.StateHash,
		TxHash:     b.TxHash,
		Coinbase:   b.Coinbase,
		Timestamp:  b.Timestamp,
		ID:         b.ID,
	}
	for _, addr := range addrs {
		acc, ok, err := s.state.AccountState(addr, false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			continue
		}
		view.Accounts = append(view.Accounts, accountView{Address: acc.Address, Nonce: acc.Nonce, Balance: acc.Balance})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	n, err := parseHeight(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txID := chi.URLParam(r, "txid")
	b, ok, err := s.chain.GetBlock(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errBlockNotFound(n))
		return
	}
	for _, tx := range b.Body {
		if tx.ID == txID {
			writeJSON(w, http.StatusOK, tx)
			return
		}
	}
	writeError(w, http.StatusNotFound, errTxNotFound(txID, n))
}
