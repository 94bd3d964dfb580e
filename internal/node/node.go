// Package node wires the query executor, storage engine, Raft consensus,
// and cluster router into a single running server process.
package node

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	v1 "github.com/mrshabel/chronodb/api/v1"
	"github.com/mrshabel/chronodb/internal/cluster"
	"github.com/mrshabel/chronodb/internal/config"
	"github.com/mrshabel/chronodb/internal/query"
	"github.com/mrshabel/chronodb/internal/raft"
	"github.com/mrshabel/chronodb/internal/storage"
	"github.com/mrshabel/chronodb/internal/wire"
)

// Config carries everything needed to stand up a node.
type Config struct {
	NodeID          int
	ClientAddr      string // TCP address this node binds for client traffic
	DebugAddr       string // HTTP debug endpoint address, empty to disable
	DataDir         string
	ShardLeaders    []string // ip:port per shard, index is shard ID
	RaftReplicas    []string // ip:port per Raft peer
	RaftAddr        string   // this node's own Raft UDP listen address
	RaftHeartbeatMS int
	Logger          *zap.Logger
}

// Node owns every running component for one server process: the storage
// engine, Raft replica, cluster router, client TCP listener, and an
// optional debug HTTP server.
type Node struct {
	cfg Config
	log *zap.Logger

	dbCtx     *storage.DBContext
	executor  *query.Executor
	consensus *raft.Consensus
	ring      *cluster.Ring
	router    *cluster.Router

	listener net.Listener
	http     *http.Server

	shutdown     bool
	shutdownLock sync.Mutex
	doneCh       chan struct{}
}

// New builds and starts a node's components in dependency order: storage,
// Raft, cluster router, then the client-facing listeners.
func New(cfg Config) (*Node, error) {
	n := &Node{cfg: cfg, doneCh: make(chan struct{})}

	setup := []func() error{
		n.setupLogger,
		n.setupStorage,
		n.setupRaft,
		n.setupCluster,
		n.setupListener,
		n.setupDebugServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) setupLogger() error {
	if n.cfg.Logger == nil {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		n.cfg.Logger = logger
	}
	n.log = n.cfg.Logger
	return nil
}

func (n *Node) setupStorage() error {
	ctx, err := storage.NewDBContext(n.cfg.DataDir, n.log)
	if err != nil {
		return err
	}
	n.dbCtx = ctx
	n.executor = query.NewExecutor(ctx)
	return nil
}

func (n *Node) setupRaft() error {
	if n.cfg.RaftAddr == "" {
		return nil
	}
	persister := raft.NewFilePersister(raftStatePath(n.cfg.DataDir))
	consensus, err := raft.New(raft.Config{
		NodeID:        int32(n.cfg.NodeID),
		ListenAddr:    n.cfg.RaftAddr,
		SeedPeerAddrs: n.cfg.RaftReplicas,
		Persister:     persister,
		Apply:         n.applyCommitted,
		Logger:        n.log,
	})
	if err != nil {
		return err
	}
	n.consensus = consensus
	go consensus.Run()
	return nil
}

// applyCommitted is invoked by the Raft replica, in log order, once a
// submitted write command commits. It decodes the command and applies it
// to this node's storage engine directly, bypassing the query executor's
// notion of an "active" database, since a committed entry always names
// its target database and series explicitly.
func (n *Node) applyCommitted(command []byte) {
	if err := n.applyWriteCommand(command); err != nil {
		n.log.Warn("raft: apply committed entry failed", zap.Error(err))
	}
}

func (n *Node) applyWriteCommand(payload []byte) error {
	cmd, err := decodeWriteCommand(payload)
	if err != nil {
		return err
	}
	db, err := n.dbCtx.CreateDatabase(cmd.Database)
	if err != nil {
		return err
	}
	series, err := db.CreateSeries(cmd.Series, storage.Options{})
	if err != nil {
		return err
	}
	for _, r := range cmd.Records {
		if err := series.Insert(r.TimestampNS, r.Value); err != nil {
			return err
		}
	}
	return nil
}

// submitLocal hands an already-encoded write command to this node's own
// Raft leader, or, when no consensus module is configured (single-node
// mode), applies it to storage directly.
func (n *Node) submitLocal(payload []byte) error {
	if n.consensus != nil {
		n.consensus.Submit(payload)
		return nil
	}
	return n.applyWriteCommand(payload)
}

func (n *Node) setupCluster() error {
	if len(n.cfg.ShardLeaders) == 0 {
		return nil
	}
	shards := make([]cluster.ShardNode, len(n.cfg.ShardLeaders))
	for i, addr := range n.cfg.ShardLeaders {
		shards[i] = cluster.ShardNode{ID: i, Addr: addr}
	}
	n.ring = cluster.NewRing(shards)
	n.router = cluster.NewRouter(n.ring, n.cfg.NodeID, n.handleLocalWrite, n.log)
	return nil
}

// handleLocalWrite is the router's LocalHandler: it's called both for
// writes originating on this node and for writes forwarded here by a
// peer that determined this shard owns the key. Either way, payload is
// an encoded writeCommand, not raw query text.
func (n *Node) handleLocalWrite(key string, payload []byte) error {
	return n.submitLocal(payload)
}

func (n *Node) setupListener() error {
	ln, err := net.Listen("tcp", n.cfg.ClientAddr)
	if err != nil {
		return fmt.Errorf("node: listen %s: %w", n.cfg.ClientAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.doneCh:
				return
			default:
				n.log.Warn("node: accept failed", zap.Error(err))
				return
			}
		}
		go n.serveConn(conn)
	}
}

// serveConn multiplexes a single accepted TCP connection between the
// client query protocol ('$'/'!'/'#' leading bytes) and the cluster
// peer-to-peer protocol (MsgJoin/MsgData leading bytes), peeking the
// first byte to tell them apart since both share this node's one client
// listener.
func (n *Node) serveConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	lead, err := r.Peek(1)
	if err != nil {
		return
	}
	switch lead[0] {
	case byte(cluster.MsgJoin), byte(cluster.MsgData):
		n.serveClusterConn(r)
	default:
		n.serveClientConn(conn, r)
	}
}

func (n *Node) serveClientConn(conn net.Conn, r *bufio.Reader) {
	w := bufio.NewWriter(conn)
	for {
		q, err := wire.ReadRequest(r)
		if err != nil {
			return
		}
		res, err := n.runQuery(q)
		if err != nil {
			if werr := wire.WriteError(w, err.Error()); werr != nil {
				return
			}
		} else if res.IsArray {
			if werr := wire.WriteRecords(w, res.Records); werr != nil {
				return
			}
		} else {
			if werr := wire.WriteString(w, res.Message); werr != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// serveClusterConn reads cluster frames off a connection a peer opened to
// forward writes this node's shard owns. There is no response frame: the
// forwarding side fires and forgets, the same way Router.Submit does for
// a local write.
func (n *Node) serveClusterConn(r *bufio.Reader) {
	for {
		t, msg, err := cluster.ReadMessage(r)
		if err != nil {
			return
		}
		if t != cluster.MsgData {
			continue
		}
		if err := n.submitLocal(msg.Payload); err != nil {
			n.log.Warn("node: apply forwarded write failed", zap.Error(err))
		}
	}
}

// runQuery parses and executes one query string. An INSERT resolves its
// timeunits into concrete records and is routed through the cluster
// router (or straight to submitLocal in single-node mode) so it
// replicates through Raft instead of writing to storage inline; every
// other statement runs synchronously against the executor.
func (n *Node) runQuery(q string) (query.Result, error) {
	stmt, err := query.Parse(q)
	if err != nil {
		return query.Result{}, err
	}
	ins, ok := stmt.(query.InsertStmt)
	if !ok {
		return n.executor.Execute(stmt)
	}

	db, err := n.dbCtx.Active()
	if err != nil {
		return query.Result{}, err
	}
	cmd := writeCommand{Database: db.Name(), Series: ins.Series}
	for _, v := range ins.Values {
		ts, err := query.ResolveTimeUnitNS(v.Time)
		if err != nil {
			return query.Result{}, err
		}
		cmd.Records = append(cmd.Records, v1.Record{TimestampNS: ts, Value: v.Value})
	}
	payload := cmd.encode()

	if n.router != nil {
		if err := n.router.Submit(cmd.Series, payload); err != nil {
			return query.Result{}, err
		}
		return query.Result{Message: "OK"}, nil
	}
	if err := n.submitLocal(payload); err != nil {
		return query.Result{}, err
	}
	return query.Result{Message: "OK"}, nil
}

func (n *Node) setupDebugServer() error {
	if n.cfg.DebugAddr == "" {
		return nil
	}
	n.http = newDebugHTTPServer(n.cfg.DebugAddr, n)
	go func() {
		if err := n.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.log.Warn("node: debug http server failed", zap.Error(err))
		}
	}()
	return nil
}

func raftStatePath(dataDir string) string {
	return dataDir + "/raft-state"
}

// Shutdown stops every component once, aggregating any errors encountered.
func (n *Node) Shutdown() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()
	if n.shutdown {
		return nil
	}
	n.shutdown = true
	close(n.doneCh)

	var err error
	if n.listener != nil {
		err = multierr.Append(err, n.listener.Close())
	}
	if n.consensus != nil {
		n.consensus.Stop()
	}
	if n.router != nil {
		err = multierr.Append(err, n.router.Close())
	}
	if n.http != nil {
		err = multierr.Append(err, n.http.Close())
	}
	if n.dbCtx != nil {
		err = multierr.Append(err, n.dbCtx.Close())
	}
	return err
}

// FromConfig builds a node.Config from a loaded file config plus CLI
// overrides for node ID and client port.
func FromConfig(fileCfg config.Node, dataDir, clientAddr, debugAddr, raftAddr string) Config {
	return Config{
		NodeID:          fileCfg.ID,
		ClientAddr:      clientAddr,
		DebugAddr:       debugAddr,
		DataDir:         dataDir,
		ShardLeaders:    fileCfg.ShardLeaders,
		RaftReplicas:    fileCfg.RaftReplicas,
		RaftAddr:        raftAddr,
		RaftHeartbeatMS: fileCfg.RaftHeartbeatMS,
	}
}
