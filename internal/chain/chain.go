// Package chain implements nexachain's Chain component (C6): the block
// store keyed by height, the validate-and-apply pipeline, candidate-block
// construction, and the head cursor. It is grounded on
// original_source/ccoin/blockchain.py, adapted from plyvel/LevelDB onto
// github.com/syndtr/goleveldb (see DESIGN.md), and fixes the source's
// unstable "blk-%s".format(key) key bug with a plain fmt.Sprintf("blk-%d",
// n) — the Open Question resolution spec.md calls for.
package chain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"

	"nexachain.dev/nexachain/internal/core"
	internalerrors "nexachain.dev/nexachain/internal/errors"
	"nexachain.dev/nexachain/internal/netconf"
	"nexachain.dev/nexachain/internal/pow"
	"nexachain.dev/nexachain/internal/state"
)

const heightKey = "height"
const genesisNumber = 1

// NewHeadFunc is invoked after a block is durably committed and before the
// next block is processed (§5 ordering guarantee).
type NewHeadFunc func(*core.Block)

// Chain is the block store and validate-and-apply pipeline. It exclusively
// owns the block store and head cursor (§3 "Ownership").
type Chain struct {
	db      *leveldb.DB
	decl    *netconf.Declaration
	log     *logrus.Entry
	newHead NewHeadFunc
}

func blockKey(n uint64) []byte {
	return []byte(fmt.Sprintf("blk-%d", n))
}

// Load opens the chain store at path. initialized reports whether a
// genesis block is already present; decl is populated from the genesis
// block's data field when initialized is true, and must be supplied by the
// caller (via CreateNew) otherwise.
func Load(path string, log *logrus.Entry) (c *Chain, initialized bool, err error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, false, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c = &Chain{db: db, log: log.WithField("component", "chain")}

	genesisBytes, err := db.Get(blockKey(genesisNumber), nil)
	if err == leveldb.ErrNotFound {
		return c, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	genesisBlock, err := core.DeserializeBlock(genesisBytes)
	if err != nil {
		return nil, false, err
	}
	decl, err := netconf.LoadFile(genesisBlock.Data)
	if err != nil {
		return nil, false, err
	}
	c.decl = decl
	return c, true, nil
}

// Close releases the underlying store.
func (c *Chain) Close() error {
	return c.db.Close()
}

// SetNewHeadFunc installs the callback fired after every durable commit.
func (c *Chain) SetNewHeadFunc(fn NewHeadFunc) {
	c.newHead = fn
}

// CreateNew writes genesisBlock as blk-1 and sets height=1 (§4.6
// Load/create). decl must be the declaration that produced genesisBlock;
// it is retained for difficulty/reward/miners lookups.
func (c *Chain) CreateNew(genesisBlock *core.Block, decl *netconf.Declaration) error {
	if !genesisBlock.IsGenesis() {
		return fmt.Errorf("chain: CreateNew requires a height-1 block, got %d", genesisBlock.Number)
	}
	encoded, err := genesisBlock.Serialize()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(genesisNumber), encoded)
	batch.Put([]byte(heightKey), []byte(strconv.FormatUint(genesisNumber, 10)))
	if err := c.db.Write(batch, nil); err != nil {
		return err
	}
	c.decl = decl
	return nil
}

// Height returns the current head block number.
func (c *Chain) Height() (uint64, error) {
	data, err := c.db.Get([]byte(heightKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, internalerrors.ErrChainUninitialized
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// GetBlock returns the block at height n, or (nil, false) if absent.
func (c *Chain) GetBlock(n uint64) (*core.Block, bool, error) {
	data, err := c.db.Get(blockKey(n), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	b, err := core.DeserializeBlock(data)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Head returns the current head block.
func (c *Chain) Head() (*core.Block, error) {
	h, err := c.Height()
	if err != nil {
		return nil, err
	}
	b, ok, err := c.GetBlock(h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: height %d", internalerrors.ErrBlockNotFound, h)
	}
	return b, nil
}

// ChangeHead writes height<-n and fires newHead with the block now at n
// (§4.6).
func (c *Chain) ChangeHead(n uint64) error {
	if err := c.db.Put([]byte(heightKey), []byte(strconv.FormatUint(n, 10)), nil); err != nil {
		return err
	}
	if c.newHead == nil {
		return nil
	}
	b, ok, err := c.GetBlock(n)
	if err != nil {
		return err
	}
	if ok {
		c.newHead(b)
	}
	return nil
}

// Declaration returns the genesis declaration backing this chain.
func (c *Chain) Declaration() *netconf.Declaration {
	return c.decl
}

// CreateCandidateBlock builds the next block's header around an empty
// body, following §4.6's rules: number = height+1, parent_hash = head.id,
// state_hash copied from head as a placeholder (replaced after apply),
// data from GenerateBlockData, reward/difficulty inherited from genesis.
func (c *Chain) CreateCandidateBlock(coinbase string) (*core.Block, error) {
	head, err := c.Head()
	if err != nil {
		return nil, err
	}
	data, err := c.decl.GenerateBlockData()
	if err != nil {
		return nil, err
	}
	b := &core.Block{
		Number:     head.Number + 1,
		ParentHash: head.ID,
		StateHash:  head.StateHash,
		Body:       nil,
		Coinbase:   coinbase,
		Data:       data,
		Timestamp:  time.Now().Unix(),
		Reward:     c.decl.BlockMining.Reward,
		Difficulty: c.decl.BlockMining.Difficulty,
	}
	if err := b.RefreshTxHash(); err != nil {
		return nil, err
	}
	return b, nil
}

// Mine drives the PoW loop for block starting at nonce=0, finalising
// MiningHash/ID on success (§4.6). maxRounds bounds a single call so the
// event loop can service network events between chunks (§5). Every call
// starts at nonce=0, so calling Mine again on an unchanged header searches
// the same nonces; exhausting maxRounds returns ErrMiningFailed.
func (c *Chain) Mine(block *core.Block, maxRounds uint64) (*core.Block, error) {
	miningHash, err := block.MiningHash()
	if err != nil {
		return nil, err
	}
	result, ok, err := pow.Mine(block.Difficulty, miningHash, 0, maxRounds)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: block %d exhausted %d rounds", internalerrors.ErrMiningFailed, block.Number, maxRounds)
	}
	block.Nonce = result.Nonce
	block.ID = result.BlockID
	return block, nil
}

// ApplyBlock dispatches on block.Number to applyGenesis or applyNext
// (§4.6).
func (c *Chain) ApplyBlock(block *core.Block, ws *state.WorldState) error {
	if block.IsGenesis() {
		return c.applyGenesis(block, ws)
	}
	return c.applyNext(block, ws)
}

// applyNext runs the full 11-step validate-and-apply pipeline of §4.6.
func (c *Chain) applyNext(block *core.Block, ws *state.WorldState) error {
	head, err := c.Head()
	if err != nil {
		return err
	}

	if block.ParentHash != head.ID {
		return fmt.Errorf("%w: block %d parent %s != head %s", internalerrors.ErrChainViolated, block.Number, block.ParentHash, head.ID)
	}
	if block.Timestamp <= head.Timestamp {
		return fmt.Errorf("%w: block %d timestamp %d <= head %d", internalerrors.ErrBadTime, block.Number, block.Timestamp, head.Timestamp)
	}
	if block.Difficulty != c.decl.BlockMining.Difficulty {
		return fmt.Errorf("%w: block %d difficulty %d != genesis %d", internalerrors.ErrBadDifficulty, block.Number, block.Difficulty, c.decl.BlockMining.Difficulty)
	}
	if block.Number != head.Number+1 {
		return fmt.Errorf("%w: block %d != head+1 (%d)", internalerrors.ErrBadNumber, block.Number, head.Number+1)
	}
	wantTxHash, err := block.TransactionList().Hash()
	if err != nil {
		return err
	}
	if wantTxHash != block.TxHash {
		return fmt.Errorf("%w: block %d", internalerrors.ErrBadTxHash, block.Number)
	}
	miningHash, err := block.MiningHash()
	if err != nil {
		return err
	}
	if !pow.Verify(block.Difficulty, miningHash, block.Nonce, block.ID) {
		return fmt.Errorf("%w: block %d", internalerrors.ErrBadPoW, block.Number)
	}

	prevHeight, err := ws.NewBlock(block.Number)
	if err != nil {
		return err
	}

	if err := ws.ApplyTxns(block.Body); err != nil {
		c.log.WithError(err).WithField("block", block.Number).Warn("transaction apply failed, rolling back block")
		if rbErr := ws.RollbackBlock(prevHeight); rbErr != nil {
			return rbErr
		}
		return fmt.Errorf("%w: block %d: %v", internalerrors.ErrApplyFailed, block.Number, err)
	}

	if err := ws.IncrBalance(block.Coinbase, int64(block.Reward)); err != nil {
		return err
	}
	newStateHash, err := ws.Commit()
	if err != nil {
		return err
	}

	if newStateHash != block.StateHash {
		if rbErr := ws.RollbackBlock(prevHeight); rbErr != nil {
			return rbErr
		}
		return fmt.Errorf("%w: block %d state_hash mismatch", internalerrors.ErrApplyFailed, block.Number)
	}

	encoded, err := block.Serialize()
	if err != nil {
		return err
	}
	if err := c.db.Put(blockKey(block.Number), encoded, nil); err != nil {
		return err
	}
	return c.ChangeHead(block.Number)
}

// applyGenesis runs the same pipeline without the chain-continuity checks
// (steps 1-4), seeding WorldState via FromGenesis instead of a transaction
// loop, and omitting the coinbase credit (rewards are expressed via
// alloc) — §4.6.
func (c *Chain) applyGenesis(block *core.Block, ws *state.WorldState) error {
	wantTxHash, err := block.TransactionList().Hash()
	if err != nil {
		return err
	}
	if wantTxHash != block.TxHash {
		return fmt.Errorf("%w: genesis block", internalerrors.ErrBadTxHash)
	}
	miningHash, err := block.MiningHash()
	if err != nil {
		return err
	}
	if !pow.Verify(block.Difficulty, miningHash, block.Nonce, block.ID) {
		return fmt.Errorf("%w: genesis block", internalerrors.ErrBadPoW)
	}

	decl, err := netconf.LoadFile(block.Data)
	if err != nil {
		return err
	}
	alloc := make(map[string]state.AccountState, len(decl.Alloc))
	for addr, a := range decl.Alloc {
		alloc[addr] = state.AccountState{Address: addr, Balance: a.Balance, Nonce: a.Nonce}
	}
	newStateHash, err := ws.FromGenesis(alloc, true)
	if err != nil {
		return err
	}
	if newStateHash != block.StateHash {
		return fmt.Errorf("%w: genesis block state_hash mismatch", internalerrors.ErrApplyFailed)
	}

	encoded, err := block.Serialize()
	if err != nil {
		return err
	}
	if err := c.db.Put(blockKey(block.Number), encoded, nil); err != nil {
		return err
	}
	c.decl = decl
	return c.ChangeHead(block.Number)
}
