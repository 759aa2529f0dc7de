package node

import (
	"time"

	"github.com/google/uuid"

	"nexachain.dev/nexachain/internal/core"
)

// electionTimeout bounds how long a single leader-election round waits for
// LRS responses; shorter than DefaultRequestTimeout since it only runs
// among already-connected authorised peers.
const electionTimeout = 2 * time.Second

// electLeader runs one round of §4.8's miner sub-FSM: broadcast
// LRQ{my_address} to every connected peer in genesis.miners, collect
// LRS{its_address} responses, and locally pick max(addresses ∪ {self}).
func (n *Node) electLeader() {
	if !n.isMiner() {
		return
	}
	candidates := map[string]struct{}{n.account.Address: {}}

	var minerPeers []string
	for _, addr := range n.connectedPeerAddrs() {
		if n.decl.CanMine(addr) {
			minerPeers = append(minerPeers, addr)
		}
	}

	type voteResult struct {
		addr string
		err  error
	}
	results := make(chan voteResult, len(minerPeers))
	for _, peer := range minerPeers {
		peer := peer
		go func() {
			addr, err := n.requestLeaderVote(peer)
			results <- voteResult{addr: addr, err: err}
		}()
	}
	for range minerPeers {
		r := <-results
		if r.err != nil {
			continue
		}
		candidates[r.addr] = struct{}{}
	}

	leader := n.account.Address
	for addr := range candidates {
		if addr > leader {
			leader = addr
		}
	}

	n.mu.Lock()
	changed := n.leader != leader
	n.leader = leader
	n.mu.Unlock()
	if changed {
		n.log.WithField("leader", leader).Info("leader elected")
	}
}

func (n *Node) requestLeaderVote(peer string) (string, error) {
	conn, ok := n.peerConn(peer)
	if !ok {
		return "", errPeerGone
	}
	requestID := uuid.NewString()
	req := &core.LeaderElectionRequest{RequestID: requestID, Address: n.account.Address}
	payload, err := req.Serialize()
	if err != nil {
		return "", err
	}
	done := n.requests.register(requestID, peer, electionTimeout)
	if err := conn.WriteFrame(payload); err != nil {
		return "", err
	}
	result := <-done
	if err, ok := result.(error); ok {
		return "", err
	}
	resp := result.(*core.LeaderElectionResponse)
	return resp.Address, nil
}

// handleLeaderRequest always answers with its own address, and yields if
// currently leading and the requester's address is higher (§4.8).
func (n *Node) handleLeaderRequest(msg inboundMessage) {
	req, err := core.DeserializeLeaderElectionRequest(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad LRQ")
		return
	}
	resp := &core.LeaderElectionResponse{RequestID: req.RequestID, Address: n.account.Address}
	n.reply(msg.peerAddr, resp)

	n.mu.Lock()
	amLeading := n.leader == n.account.Address
	n.mu.Unlock()
	if amLeading && req.Address > n.account.Address && n.isMiner() {
		n.log.WithField("challenger", req.Address).Info("yielding leadership")
		n.electLeader()
	}
}

func (n *Node) handleLeaderResponse(msg inboundMessage) {
	resp, err := core.DeserializeLeaderElectionResponse(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad LRS")
		return
	}
	n.requests.complete(resp.RequestID, resp)
}

func (n *Node) isLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leader == n.account.Address
}

// blockProductionTick is §4.8's block-production tick, run once per
// eventLoop ticker fire on authorised nodes.
func (n *Node) blockProductionTick() {
	if !n.isLeader() {
		return
	}
	n.mu.Lock()
	readyToMine := n.readyToMine
	lastBlockTS := n.lastBlockTS
	n.mu.Unlock()
	if !readyToMine {
		return
	}

	blockReady := n.mempool.Len() >= n.decl.BlockMining.MinBound ||
		time.Now().Unix()-lastBlockTS >= n.decl.BlockMining.Interval
	if !blockReady {
		return
	}

	pending := n.mempool.Peek(n.mempool.Len())
	if len(pending) == 0 && !n.decl.BlockMining.AllowEmpty {
		return
	}

	candidate, err := n.chain.CreateCandidateBlock(n.account.Address)
	if err != nil {
		n.log.WithError(err).Error("failed to build candidate block")
		return
	}

	head, err := n.chain.Head()
	if err != nil {
		n.log.WithError(err).Error("failed to read head for candidate state")
		return
	}
	shadow, err := n.state.CandidateState(head.Number)
	if err != nil {
		n.log.WithError(err).Error("failed to build shadow state")
		return
	}
	defer shadow.Discard()

	var adopted []*core.Transaction
	for _, tx := range pending {
		if err := shadow.ApplyTxn(tx); err != nil {
			n.log.WithError(err).WithField("tx", tx.ID).Debug("transaction skipped from candidate block")
			continue
		}
		adopted = append(adopted, tx)
	}
	candidate.Body = adopted
	if err := candidate.RefreshTxHash(); err != nil {
		n.log.WithError(err).Error("failed to refresh candidate tx hash")
		return
	}
	candidate.Timestamp = time.Now().Unix()

	// Credit the coinbase reward on the shadow and commit, so candidate's
	// state_hash reflects the post-apply digest ApplyBlock's step 10 will
	// compare against — matching make_candidate_block's
	// temp_state.incr_balance(...)/temp_state.commit() pairing before the
	// block is mined (original_source/ccoin/common.py).
	if err := shadow.IncrBalance(candidate.Coinbase, int64(candidate.Reward)); err != nil {
		n.log.WithError(err).Error("failed to credit coinbase on candidate state")
		return
	}
	candidateStateHash, err := shadow.Commit()
	if err != nil {
		n.log.WithError(err).Error("failed to commit candidate state")
		return
	}
	candidate.StateHash = candidateStateHash

	mined, err := n.chain.Mine(candidate, defaultMiningRoundsPerTick)
	if err != nil {
		n.log.WithError(err).Error("mining exhausted this tick")
		return
	}

	if err := n.chain.ApplyBlock(mined, n.state); err != nil {
		n.log.WithError(err).WithField("block", mined.Number).Error("failed to apply locally mined block")
		return
	}
	n.onBlockAdopted(mined)
	n.broadcast(mined)
}

// defaultMiningRoundsPerTick bounds a single tick's mining attempt so the
// event loop keeps servicing network messages between ticks (§5).
const defaultMiningRoundsPerTick = 200_000

type peerGoneError string

func (e peerGoneError) Error() string { return string(e) }

const errPeerGone = peerGoneError("node: peer not connected")
