package node

import (
	"github.com/google/uuid"

	"nexachain.dev/nexachain/internal/core"
	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// runBootSync implements §4.8's four-step boot-time sync protocol. It
// always ends by transitioning to StateReady, whether or not any blocks
// were downloaded.
func (n *Node) runBootSync() {
	defer n.afterReady()
	defer n.setState(StateReady)

	myHeight, err := n.chain.Height()
	if err != nil {
		n.log.WithError(err).Error("cannot read local height at boot")
		return
	}

	peers := n.connectedPeerAddrs()
	if len(peers) == 0 {
		n.log.Info("no peers at boot, skipping sync")
		return
	}

	bestHeight := myHeight
	bestPeer := ""
	type heightResult struct {
		peer   string
		height uint64
		err    error
	}
	results := make(chan heightResult, len(peers))

	for _, peer := range peers {
		peer := peer
		go func() {
			h, err := n.requestBlockHeight(peer, myHeight)
			results <- heightResult{peer: peer, height: h, err: err}
		}()
	}
	for range peers {
		r := <-results
		if r.err != nil {
			n.log.WithError(r.err).WithField("peer", r.peer).Debug("block height probe failed")
			continue
		}
		if r.height > bestHeight {
			bestHeight = r.height
			bestPeer = r.peer
		}
	}

	if bestPeer == "" {
		n.log.WithField("height", myHeight).Info("already at the highest known height")
		return
	}

	n.log.WithFields(map[string]any{"peer": bestPeer, "from": myHeight + 1, "to": bestHeight}).Info("downloading blocks")
	blocks, err := n.requestBlockList(bestPeer, myHeight+1)
	if err != nil {
		n.log.WithError(err).WithField("peer", bestPeer).Warn("block list request failed")
		return
	}
	for _, b := range blocks {
		if err := n.chain.ApplyBlock(b, n.state); err != nil {
			n.log.WithError(err).WithField("block", b.Number).Warn("sync block apply failed, stopping catch-up")
			return
		}
	}
}

// afterReady starts leader election for authorised nodes once the node
// reaches StateReady (§4.8 miner sub-FSM).
func (n *Node) afterReady() {
	n.mu.Lock()
	n.readyToMine = true
	n.mu.Unlock()
	if n.isMiner() {
		n.electLeader()
	}
}

// requestBlockHeight sends RBH{my_height} to peer and waits (bounded by
// DefaultRequestTimeout) for a BLH response.
func (n *Node) requestBlockHeight(peer string, myHeight uint64) (uint64, error) {
	conn, ok := n.peerConn(peer)
	if !ok {
		return 0, internalerrors.ErrTimeout
	}
	requestID := uuid.NewString()
	req := &core.BlockHeightRequest{RequestID: requestID, Height: myHeight, Address: n.account.Address}
	payload, err := req.Serialize()
	if err != nil {
		return 0, err
	}
	done := n.requests.register(requestID, peer, DefaultRequestTimeout)
	if err := conn.WriteFrame(payload); err != nil {
		return 0, err
	}
	result := <-done
	if err, ok := result.(error); ok {
		return 0, err
	}
	resp := result.(*core.BlockHeightResponse)
	return resp.Height, nil
}

// requestBlockList sends RBL{start_from} to peer and waits for ABL.
func (n *Node) requestBlockList(peer string, startFrom uint64) ([]*core.Block, error) {
	conn, ok := n.peerConn(peer)
	if !ok {
		return nil, internalerrors.ErrTimeout
	}
	requestID := uuid.NewString()
	req := &core.BlockListRequest{RequestID: requestID, StartFrom: startFrom}
	payload, err := req.Serialize()
	if err != nil {
		return nil, err
	}
	done := n.requests.register(requestID, peer, DefaultRequestTimeout)
	if err := conn.WriteFrame(payload); err != nil {
		return nil, err
	}
	result := <-done
	if err, ok := result.(error); ok {
		return nil, err
	}
	resp := result.(*core.BlockListResponse)
	return resp.Blocks, nil
}

// handleBlockHeightRequest is the responder side of RBH: reply BLH only if
// my_height > requester_height (§4.8).
func (n *Node) handleBlockHeightRequest(msg inboundMessage) {
	req, err := core.DeserializeBlockHeightRequest(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad RBH")
		return
	}
	myHeight, err := n.chain.Height()
	if err != nil {
		n.log.WithError(err).Warn("cannot read height to answer RBH")
		return
	}
	if myHeight <= req.Height {
		return
	}
	resp := &core.BlockHeightResponse{RequestID: req.RequestID, Height: myHeight, Address: n.account.Address}
	n.reply(msg.peerAddr, resp)
}

func (n *Node) handleBlockHeightResponse(msg inboundMessage) {
	resp, err := core.DeserializeBlockHeightResponse(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad BLH")
		return
	}
	n.requests.complete(resp.RequestID, resp)
}

// handleBlockListRequest is the responder side of RBL: reply with
// get_block(start..=my_height), or an empty list if start > my_height.
func (n *Node) handleBlockListRequest(msg inboundMessage) {
	req, err := core.DeserializeBlockListRequest(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad RBL")
		return
	}
	myHeight, err := n.chain.Height()
	if err != nil {
		n.log.WithError(err).Warn("cannot read height to answer RBL")
		return
	}
	var blocks []*core.Block
	for h := req.StartFrom; h <= myHeight; h++ {
		b, ok, err := n.chain.GetBlock(h)
		if err != nil {
			n.log.WithError(err).WithField("height", h).Warn("read failure answering RBL")
			return
		}
		if ok {
			blocks = append(blocks, b)
		}
	}
	resp := &core.BlockListResponse{RequestID: req.RequestID, Blocks: blocks}
	n.reply(msg.peerAddr, resp)
}

func (n *Node) handleBlockListResponse(msg inboundMessage) {
	resp, err := core.DeserializeBlockListResponse(msg.payload)
	if err != nil {
		n.log.WithError(err).Warn("bad ABL")
		return
	}
	n.requests.complete(resp.RequestID, resp)
}

type wireMessage interface {
	Serialize() ([]byte, error)
}

func (n *Node) reply(peer string, msg wireMessage) {
	conn, ok := n.peerConn(peer)
	if !ok {
		return
	}
	payload, err := msg.Serialize()
	if err != nil {
		n.log.WithError(err).Warn("failed to serialise reply")
		return
	}
	if err := conn.WriteFrame(payload); err != nil {
		n.log.WithError(err).WithField("peer", peer).Warn("failed to send reply")
	}
}

func (n *Node) broadcast(msg wireMessage) {
	payload, err := msg.Serialize()
	if err != nil {
		n.log.WithError(err).Warn("failed to serialise broadcast")
		return
	}
	for _, addr := range n.connectedPeerAddrs() {
		conn, ok := n.peerConn(addr)
		if !ok {
			continue
		}
		if err := conn.WriteFrame(payload); err != nil {
			n.log.WithError(err).WithField("peer", addr).Warn("broadcast failed")
		}
	}
}
