// Package genesis implements nexachain's genesis component (C7): building
// the height-1 block from a netconf.Declaration, seeding WorldState, mining
// it, and installing it as a fresh chain's first entry. It is grounded on
// original_source/ccoin/genesis_helpers.py's create_genesis_block /
// init_genesis_state pairing.
package genesis

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"nexachain.dev/nexachain/internal/chain"
	"nexachain.dev/nexachain/internal/core"
	internalcrypto "nexachain.dev/nexachain/internal/crypto"
	"nexachain.dev/nexachain/internal/netconf"
	"nexachain.dev/nexachain/internal/pow"
	"nexachain.dev/nexachain/internal/state"
)

// DefaultMineRounds bounds a single mining attempt for the genesis block;
// genesis difficulty is expected to be low enough that this never exhausts
// in practice; if it does, Create returns the mining error without retrying.
const DefaultMineRounds = 1_000_000

// Build assembles an unmined height-1 block from decl: parent_hash is the
// blank SHA-256 and tx_hash is that of the empty body, state_hash is the
// digest of the seeded alloc (§4.7), data embeds the
// re-serialised declaration itself so any field in it changes the genesis
// id, and reward/difficulty/coinbase come from decl.GenesisBlock.
func Build(decl *netconf.Declaration, timestamp int64) (*core.Block, error) {
	declBytes, err := decl.Bytes()
	if err != nil {
		return nil, err
	}
	b := &core.Block{
		Number:     1,
		ParentHash: internalcrypto.BlankSHA256,
		Body:       nil,
		Coinbase:   decl.GenesisBlock.Coinbase,
		Data:       declBytes,
		Timestamp:  timestamp,
		Reward:     0,
		Difficulty: decl.GenesisBlock.Difficulty,
	}
	if err := b.RefreshTxHash(); err != nil {
		return nil, err
	}

	alloc := make(map[string]state.AccountState, len(decl.Alloc))
	for addr, a := range decl.Alloc {
		alloc[addr] = state.AccountState{Address: addr, Balance: a.Balance, Nonce: a.Nonce}
	}
	stateHash, err := hashAlloc(alloc)
	if err != nil {
		return nil, err
	}
	b.StateHash = stateHash
	return b, nil
}

// hashAlloc computes what WorldState.Commit would produce for a brand-new
// store seeded only with alloc, by seeding a throwaway in-memory WorldState
// (state.OpenEphemeral) via FromGenesis, so the genesis block's state_hash
// can be fixed before the node's on-disk WorldState exists.
func hashAlloc(alloc map[string]state.AccountState) (string, error) {
	ws, err := state.OpenEphemeral()
	if err != nil {
		return "", err
	}
	defer ws.Close()
	return ws.FromGenesis(alloc, true)
}

// Mine runs proof-of-work over b in place, following the same candidate
// rule pow.Mine/chain.Mine use elsewhere.
func Mine(b *core.Block, maxRounds uint64) error {
	miningHash, err := b.MiningHash()
	if err != nil {
		return err
	}
	result, ok, err := pow.Mine(b.Difficulty, miningHash, 0, maxRounds)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("genesis: mining exhausted %d rounds at difficulty %d", maxRounds, b.Difficulty)
	}
	b.Nonce = result.Nonce
	b.ID = result.BlockID
	return nil
}

// Create builds, mines, and installs a fresh genesis block: it opens the
// chain store at chainPath (must not already be initialised), opens the
// WorldState store at statePath, applies the block through Chain.ApplyBlock
// so the two stores agree on the same validation path a running node uses,
// and returns the opened Chain/WorldState pair ready for node startup.
func Create(chainPath, statePath string, decl *netconf.Declaration, timestamp int64, log *logrus.Entry) (*chain.Chain, *state.WorldState, error) {
	b, err := Build(decl, timestamp)
	if err != nil {
		return nil, nil, err
	}
	if err := Mine(b, DefaultMineRounds); err != nil {
		return nil, nil, err
	}

	c, initialized, err := chain.Load(chainPath, log)
	if err != nil {
		return nil, nil, err
	}
	if initialized {
		c.Close()
		return nil, nil, fmt.Errorf("genesis: chain store at %s is already initialised", chainPath)
	}
	if err := c.CreateNew(b, decl); err != nil {
		c.Close()
		return nil, nil, err
	}

	ws, err := state.Open(statePath, 0, log)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	if _, err := ws.NewBlock(1); err != nil {
		ws.Close()
		c.Close()
		return nil, nil, err
	}
	if err := c.ApplyBlock(b, ws); err != nil {
		ws.Close()
		c.Close()
		return nil, nil, err
	}
	return c, ws, nil
}
