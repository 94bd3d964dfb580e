package raft

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ApplyFunc is invoked once per committed entry, in log order, so the
// owning node can decode the command and hand it to its storage engine.
type ApplyFunc func(command []byte)

// Consensus is a single Raft replica: its state, peer table, UDP socket,
// and persistence handle. All state mutation happens on the single
// goroutine started by Run; Submit, Stop, IsLeader and State are the
// methods safe to call from another goroutine.
type Consensus struct {
	mu sync.Mutex

	nodeID  int32
	addr    string
	conn    net.PacketConn
	log     *zap.Logger
	apply   ApplyFunc
	persist Persister

	state           State
	currentTerm     int32
	votedFor        int32
	entries         []LogEntry
	commitIndex     int32
	lastApplied     int32
	currentLeaderID int32
	votesReceived   int

	peers map[int32]*Peer

	nextIndex  map[int32]int32
	matchIndex map[int32]int32

	electionDeadline  time.Time
	heartbeatDeadline time.Time

	stopCh chan struct{}
	doneCh chan struct{}

	submitCh chan []byte
}

// Config carries the fixed parameters needed to start a replica.
type Config struct {
	NodeID        int32
	ListenAddr    string
	SeedPeerAddrs []string
	Persister     Persister
	Apply         ApplyFunc
	Logger        *zap.Logger
}

// New creates a replica bound to its UDP listen address but does not start
// its background loop; call Run for that.
func New(cfg Config) (*Consensus, error) {
	conn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("raft: listen %s: %w", cfg.ListenAddr, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	persister := cfg.Persister
	if persister == nil {
		persister = NewMemoryPersister()
	}

	c := &Consensus{
		nodeID:          cfg.NodeID,
		addr:            cfg.ListenAddr,
		conn:            conn,
		log:             logger,
		apply:           cfg.Apply,
		persist:         persister,
		state:           Dead,
		votedFor:        -1,
		commitIndex:     -1,
		lastApplied:     -1,
		currentLeaderID: -1,
		peers:           map[int32]*Peer{},
		nextIndex:       map[int32]int32{},
		matchIndex:      map[int32]int32{},
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		submitCh:        make(chan []byte, 64),
	}

	if term, votedFor, entries, err := persister.Load(); err == nil {
		c.currentTerm = term
		c.votedFor = votedFor
		c.entries = entries
	}

	for i, addr := range cfg.SeedPeerAddrs {
		id := int32(i)
		if addr == cfg.ListenAddr {
			continue
		}
		c.peers[id] = &Peer{ID: id, Addr: addr}
	}
	if len(c.peers) > 0 {
		c.state = Follower
	}

	return c, nil
}

// Run drives the replica's election/heartbeat/message loop until Stop is
// called. It must be started in its own goroutine.
func (c *Consensus) Run() {
	defer close(c.doneCh)

	c.resetElectionDeadline()
	c.heartbeatDeadline = time.Now().Add(heartbeatInterval)

	readCh := make(chan datagramMsg, 16)
	go c.readLoop(readCh)

	for {
		select {
		case <-c.stopCh:
			c.conn.Close()
			return
		case msg := <-readCh:
			c.handleDatagram(msg.payload, msg.addr)
		case value := <-c.submitCh:
			c.handleSubmit(value)
		case <-time.After(c.nextTimerDuration()):
			c.onTimer()
		}
	}
}

// datagramMsg pairs a decoded datagram's raw bytes with the address it
// arrived from, so RPC handlers know where to send their reply.
type datagramMsg struct {
	payload []byte
	addr    string
}

func (c *Consensus) readLoop(out chan<- datagramMsg) {
	buf := make([]byte, 65536)
	for {
		c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := c.conn.ReadFrom(buf)
		select {
		case <-c.stopCh:
			return
		default:
		}
		if err != nil {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- datagramMsg{payload: cp, addr: addr.String()}:
		case <-c.stopCh:
			return
		}
	}
}

func (c *Consensus) nextTimerDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	next := c.electionDeadline
	if c.state == Leader && c.heartbeatDeadline.Before(next) {
		next = c.heartbeatDeadline
	}
	d := next.Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (c *Consensus) onTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	switch c.state {
	case Dead:
		if now.After(c.electionDeadline) {
			c.tryJoinLocked()
			c.resetElectionDeadlineLocked()
		}
	case Leader:
		if now.After(c.heartbeatDeadline) {
			c.heartbeatDeadline = now.Add(heartbeatInterval)
			c.broadcastAppendEntriesLocked()
		}
	default:
		if now.After(c.electionDeadline) {
			c.startElectionLocked()
		}
	}
}

func (c *Consensus) resetElectionDeadline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetElectionDeadlineLocked()
}

func (c *Consensus) resetElectionDeadlineLocked() {
	jitter := electionTimeoutMin + time.Duration(rand.Int63n(int64(electionTimeoutMax-electionTimeoutMin)))
	c.electionDeadline = time.Now().Add(jitter)
}

// Stop halts the background loop and closes the UDP socket.
func (c *Consensus) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// IsLeader reports whether this replica currently believes itself leader.
func (c *Consensus) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Leader
}

// State returns the replica's current lifecycle state.
func (c *Consensus) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit enqueues a command for the replica loop to act on: if leader,
// append to the local log; otherwise forward to the known leader.
func (c *Consensus) Submit(command []byte) {
	select {
	case c.submitCh <- command:
	case <-c.stopCh:
	}
}

func (c *Consensus) handleSubmit(command []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Leader {
		if leader, ok := c.peers[c.currentLeaderID]; ok {
			c.sendTo(leader.Addr, forwardValueRPC{Command: command}.encode())
		}
		return
	}
	c.entries = append(c.entries, LogEntry{Term: c.currentTerm, Command: command})
	c.persistLocked()
	c.broadcastAppendEntriesLocked()
}

func (c *Consensus) sendTo(addr string, payload []byte) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		c.log.Warn("raft: bad peer address", zap.String("addr", addr), zap.Error(err))
		return
	}
	if _, err := c.conn.WriteTo(payload, raddr); err != nil {
		c.log.Warn("raft: send failed", zap.String("addr", addr), zap.Error(err))
	}
}

func (c *Consensus) persistLocked() {
	if err := c.persist.Save(c.currentTerm, c.votedFor, c.entries); err != nil {
		c.log.Warn("raft: persist failed, continuing in-memory", zap.Error(err))
	}
}

// becomeFollowerLocked adopts a higher term and reverts to follower,
// per the "any -> follower" transition on seeing term > currentTerm.
func (c *Consensus) becomeFollowerLocked(term int32) {
	c.currentTerm = term
	c.votedFor = -1
	c.state = Follower
	c.persistLocked()
	c.resetElectionDeadlineLocked()
}

func (c *Consensus) lastLogIndex() int32 { return int32(len(c.entries)) - 1 }

func (c *Consensus) lastLogTerm() int32 {
	if len(c.entries) == 0 {
		return -1
	}
	return c.entries[len(c.entries)-1].Term
}

func (c *Consensus) onlinePeerCount() int {
	now := time.Now()
	n := 0
	for _, p := range c.peers {
		if now.Sub(p.LastActiveTime) <= nodeActiveDeadline {
			n++
		}
	}
	return n
}
