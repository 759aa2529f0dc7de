// Package node implements nexachain's Node FSM (C8): the boot→ready
// lifecycle, the boot-time chain-synchronisation handshake, transaction and
// block admission, miner leader election, and the block-production tick.
// It is grounded on the teacher's internal/consensus.ConsensusEngine shape
// (a struct holding a stop channel and sync.WaitGroup, driven by a single
// goroutine select-looping over a ticker and an inbound-message channel),
// generalised from the teacher's placeholder proposer/validator split onto
// the wire messages and validate-and-apply pipeline §4.8 specifies.
package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nexachain.dev/nexachain/internal/chain"
	"nexachain.dev/nexachain/internal/config"
	"nexachain.dev/nexachain/internal/core"
	"nexachain.dev/nexachain/internal/discovery"
	internalerrors "nexachain.dev/nexachain/internal/errors"
	"nexachain.dev/nexachain/internal/mempool"
	"nexachain.dev/nexachain/internal/netconf"
	"nexachain.dev/nexachain/internal/network"
	"nexachain.dev/nexachain/internal/state"
	"nexachain.dev/nexachain/internal/wallet"
)

// FSMState is one of the two states §4.8 names.
type FSMState string

const (
	StateBoot  FSMState = "boot"
	StateReady FSMState = "ready"
)

// NodeType selects whether this node participates in leader election and
// mining (§6 cnode --node_type).
type NodeType string

const (
	NodeTypeBasic     NodeType = "basic"
	NodeTypeValidator NodeType = "validator"
)

type inboundMessage struct {
	peerAddr string
	tag      string
	payload  []byte
}

// Node is one running nexachain process: its chain, world state, mempool,
// peer set, and FSM state.
type Node struct {
	cfg      *config.Config
	log      *logrus.Entry
	account  *wallet.Account
	nodeType NodeType

	chain   *chain.Chain
	state   *state.WorldState
	mempool *mempool.Mempool
	dir     discovery.Directory
	decl    *netconf.Declaration

	requests *requestTable

	mu          sync.Mutex
	fsmState    FSMState
	peers       map[string]*network.Conn
	readyToMine bool
	leader      string
	lastBlockTS int64

	inbound chan inboundMessage
	stop    chan struct{}
	wg      sync.WaitGroup
	ln      *network.Listener

	tickInterval time.Duration
}

// Config bundles the inputs needed to start a Node, beyond the already-open
// store handles a caller (cmd/nexachaind) assembled.
type Config struct {
	AppConfig    *config.Config
	Account      *wallet.Account
	NodeType     NodeType
	Chain        *chain.Chain
	State        *state.WorldState
	Directory    discovery.Directory
	Declaration  *netconf.Declaration
	Log          *logrus.Entry
	TickInterval time.Duration
}

// New constructs a Node ready to Start. The chain/state/directory handles
// are assumed already open; Node takes ownership of their lifecycle only
// insofar as Stop() does not close them — callers close what they opened.
func New(c Config) *Node {
	log := c.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tick := c.TickInterval
	if tick <= 0 {
		tick = 2 * time.Second
	}
	return &Node{
		cfg:          c.AppConfig,
		log:          log.WithField("component", "node").WithField("address", c.Account.Address),
		account:      c.Account,
		nodeType:     c.NodeType,
		chain:        c.Chain,
		state:        c.State,
		mempool:      mempool.New(),
		dir:          c.Directory,
		decl:         c.Declaration,
		requests:     newRequestTable(),
		fsmState:     StateBoot,
		peers:        make(map[string]*network.Conn),
		inbound:      make(chan inboundMessage, 256),
		stop:         make(chan struct{}),
		tickInterval: tick,
	}
}

// Address returns this node's account address.
func (n *Node) Address() string { return n.account.Address }

// isMiner reports whether this node's address is authorised to mine,
// matching §4.8's "authorised nodes only".
func (n *Node) isMiner() bool {
	return n.nodeType == NodeTypeValidator && n.decl.CanMine(n.account.Address)
}

// Listen binds the node's TCP port and begins accepting peer connections.
func (n *Node) Listen(port int) error {
	ln, err := network.Listen(fmt.Sprintf(":%d", port), n.log)
	if err != nil {
		return err
	}
	n.ln = ln
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := ln.Serve(n.handleConn); err != nil {
			n.log.WithError(err).Warn("listener stopped")
		}
	}()
	return nil
}

// Start dials every known peer, launches the event loop, and kicks off the
// boot-time sync protocol (§4.8). It returns once the node has reached
// StateReady.
func (n *Node) Start() error {
	n.wg.Add(1)
	go n.eventLoop()

	peers, err := n.dir.Members()
	if err != nil {
		return err
	}
	for _, p := range peers {
		if p.ID == n.account.Address {
			continue
		}
		n.dialPeer(p)
	}

	n.runBootSync()
	return nil
}

// Stop signals the event loop and listener to shut down and waits for them
// to exit.
func (n *Node) Stop() {
	close(n.stop)
	if n.ln != nil {
		n.ln.Close()
	}
	n.mu.Lock()
	for _, c := range n.peers {
		c.Close()
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Node) dialPeer(p discovery.Peer) {
	conn, err := network.Dial(fmt.Sprintf("%s:%d", p.Host, p.Port))
	if err != nil {
		n.log.WithError(err).WithField("peer", p.ID).Warn("dial failed")
		return
	}
	n.registerPeer(p.ID, conn)
	n.sendHello(conn)
	n.wg.Add(1)
	go n.readLoop(p.ID, conn)
}

func (n *Node) handleConn(conn *network.Conn) {
	payload, err := conn.ReadFrame()
	if err != nil {
		return
	}
	hello, err := core.DeserializeHello(payload)
	if err != nil {
		n.log.WithError(err).Warn("bad handshake")
		return
	}
	n.registerPeer(hello.Address, conn)
	ack := &core.HelloAck{Address: n.account.Address, RequestID: hello.RequestID}
	if data, err := ack.Serialize(); err == nil {
		conn.WriteFrame(data)
	}
	n.wg.Add(1)
	n.readLoop(hello.Address, conn)
}

func (n *Node) sendHello(conn *network.Conn) {
	hello := &core.Hello{Address: n.account.Address, RequestID: uuid.NewString()}
	if err := network.SendHello(conn, hello); err != nil {
		n.log.WithError(err).Warn("send hello failed")
	}
}

func (n *Node) registerPeer(addr string, conn *network.Conn) {
	n.mu.Lock()
	n.peers[addr] = conn
	n.mu.Unlock()
	n.log.WithField("peer", addr).Info("peer connected")
}

func (n *Node) dropPeer(addr string) {
	n.mu.Lock()
	delete(n.peers, addr)
	wasLeader := n.leader == addr
	n.mu.Unlock()
	n.requests.dropPeer(addr)
	n.log.WithField("peer", addr).Info("peer disconnected")
	if wasLeader {
		n.electLeader()
	}
}

// readLoop pulls frames off one peer connection and forwards them to the
// event loop, preserving §5's "messages from a single peer are processed
// in the order received" by funnelling every peer through the same
// unbounded-enough inbound channel while each readLoop only ever issues one
// send at a time.
func (n *Node) readLoop(peerAddr string, conn *network.Conn) {
	defer n.wg.Done()
	defer n.dropPeer(peerAddr)
	for {
		payload, err := conn.ReadFrame()
		if err != nil {
			return
		}
		if len(payload) < 3 {
			continue
		}
		select {
		case n.inbound <- inboundMessage{peerAddr: peerAddr, tag: string(payload[:3]), payload: payload}:
		case <-n.stop:
			return
		}
	}
}

func (n *Node) peerConn(addr string) (*network.Conn, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.peers[addr]
	return c, ok
}

func (n *Node) connectedPeerAddrs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.peers))
	for addr := range n.peers {
		out = append(out, addr)
	}
	return out
}

func (n *Node) setState(s FSMState) {
	n.mu.Lock()
	prev := n.fsmState
	n.fsmState = s
	n.mu.Unlock()
	n.log.WithFields(logrus.Fields{"from": prev, "to": s}).Info("fsm transition")
}

func (n *Node) State() FSMState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fsmState
}

// eventLoop is the single-threaded cooperative scheduler §5 describes: one
// goroutine drains inbound peer messages and fires the block-production
// ticker, with no shared-memory mutex held across either case.
func (n *Node) eventLoop() {
	defer n.wg.Done()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if n.isMiner() {
		ticker = time.NewTicker(n.tickInterval)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-n.stop:
			return
		case msg := <-n.inbound:
			n.dispatch(msg)
		case <-tickC:
			n.blockProductionTick()
		}
	}
}

func (n *Node) dispatch(msg inboundMessage) {
	switch msg.tag {
	case "TXN":
		n.handleIncomingTransaction(msg)
	case "BLK", "GLK":
		n.handleIncomingBlock(msg)
	case "ACK":
		n.handleHelloAck(msg)
	case "RBH":
		n.handleBlockHeightRequest(msg)
	case "BLH":
		n.handleBlockHeightResponse(msg)
	case "RBL":
		n.handleBlockListRequest(msg)
	case "ABL":
		n.handleBlockListResponse(msg)
	case "LRQ":
		n.handleLeaderRequest(msg)
	case "LRS":
		n.handleLeaderResponse(msg)
	default:
		n.log.WithError(internalerrors.ErrUnsupportedMessage).WithField("tag", msg.tag).Warn("dropping message")
	}
}

func (n *Node) handleHelloAck(msg inboundMessage) {
	if _, err := core.DeserializeHelloAck(msg.payload); err != nil {
		n.log.WithError(err).Warn("bad hello ack")
	}
}
