package node

import (
	"nexachain.dev/nexachain/internal/core"
)

// handleIncomingTransaction is receive_transaction(tx): verify, and if
// this node mines, push to the mempool and attempt to mine (§4.8).
// Signature/nonce failures are per-transaction and never fatal (§7).
func (n *Node) handleIncomingTransaction(msg inboundMessage) {
	tx, err := core.DeserializeTransaction(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad TXN frame")
		return
	}
	n.admitTransaction(tx)
}

// admitTransaction runs the shared verify+enqueue path used both for
// wire-received transactions and ones submitted locally (e.g. via the
// read-out HTTP interface, should §6 grow a submission endpoint). A miner
// also attempts to mine immediately afterward, matching spec.md's literal
// "push it to the mempool and attempt to mine" — blockProductionTick's own
// leader/readiness/block-ready gating decides whether that attempt
// actually produces a block or is a no-op, so this never mines out of
// turn relative to the periodic tick.
func (n *Node) admitTransaction(tx *core.Transaction) {
	if err := tx.Verify(); err != nil {
		n.log.WithError(err).WithField("tx", tx.ID).Warn("transaction rejected")
		return
	}
	if n.isMiner() {
		n.mempool.Add(tx)
		n.blockProductionTick()
	}
}

// handleIncomingBlock is receive_block(block): run it through the Chain's
// apply pipeline; on success, diff its body out of the mempool and mark
// the node ready_to_mine again (§4.8). Apply failures are per-block and
// never fatal (§7).
func (n *Node) handleIncomingBlock(msg inboundMessage) {
	block, err := core.DeserializeBlock(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad block frame")
		return
	}
	if err := n.chain.ApplyBlock(block, n.state); err != nil {
		n.log.WithError(err).WithField("block", block.Number).Warn("block rejected")
		return
	}
	n.onBlockAdopted(block)
}

// onBlockAdopted is the new_head side-effect §4.8 calls for: diff the
// mempool and re-arm mining readiness. It is also invoked directly after a
// locally mined block is applied.
func (n *Node) onBlockAdopted(block *core.Block) {
	n.mempool = n.mempool.Diff(block.Body)
	n.mu.Lock()
	n.readyToMine = true
	n.lastBlockTS = block.Timestamp
	n.mu.Unlock()
}
