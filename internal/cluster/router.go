package cluster

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// LocalHandler is invoked when a key routes to this node's own shard.
type LocalHandler func(key string, payload []byte) error

// ErrRouteFailed is returned when a write cannot be delivered to the shard
// that owns its key: a connect failure with no automatic rehash, per
// spec's routing failure semantics.
type ErrRouteFailed struct {
	ShardID int
	Addr    string
	Cause   error
}

func (e ErrRouteFailed) Error() string {
	return fmt.Sprintf("cluster: route to shard %d (%s): %v", e.ShardID, e.Addr, e.Cause)
}

func (e ErrRouteFailed) Unwrap() error { return e.Cause }

// Router decides whether a key's write belongs to this node or a remote
// shard leader, dialing (and reusing) a TCP connection per remote peer.
type Router struct {
	mu      sync.Mutex
	ring    *Ring
	selfID  int
	conns   map[int]net.Conn
	log     *zap.Logger
	onLocal LocalHandler
}

// NewRouter builds a router over ring for the shard identified by selfID.
// Writes whose key hashes to selfID are handed to onLocal; all others are
// serialized and sent to the owning shard's TCP address.
func NewRouter(ring *Ring, selfID int, onLocal LocalHandler, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{ring: ring, selfID: selfID, conns: map[int]net.Conn{}, log: log, onLocal: onLocal}
}

// Submit routes key/payload to its owning shard: locally if this node owns
// it, over TCP otherwise.
func (r *Router) Submit(key string, payload []byte) error {
	owner := r.ring.Owner(key)
	if owner.ID == r.selfID {
		return r.onLocal(key, payload)
	}
	conn, err := r.connFor(owner)
	if err != nil {
		return ErrRouteFailed{ShardID: owner.ID, Addr: owner.Addr, Cause: err}
	}
	if err := WriteData(conn, DataMessage{Key: key, Payload: payload}); err != nil {
		r.dropConn(owner.ID)
		return ErrRouteFailed{ShardID: owner.ID, Addr: owner.Addr, Cause: err}
	}
	return nil
}

// connFor returns the cached connection to a shard, dialing lazily on
// first use or after a previous failure.
func (r *Router) connFor(shard ShardNode) (net.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[shard.ID]; ok {
		return c, nil
	}
	conn, err := net.Dial("tcp", shard.Addr)
	if err != nil {
		return nil, err
	}
	r.conns[shard.ID] = conn
	return conn, nil
}

func (r *Router) dropConn(shardID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[shardID]; ok {
		c.Close()
		delete(r.conns, shardID)
	}
}

// Close tears down every open peer connection.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, c := range r.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.conns, id)
	}
	return firstErr
}
