// Package cluster routes series keys to the shard that owns them and
// ships write traffic to remote shard leaders over TCP.
package cluster

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// vnodesPerShard is how many virtual nodes each shard contributes to the
// ring, smoothing the hash distribution across shards.
const vnodesPerShard = 10

// ShardNode is one shard's cluster address.
type ShardNode struct {
	ID   int
	Addr string
}

type vnode struct {
	hash    uint32
	shardID int
}

// Ring is a sorted consistent-hash ring over a fixed set of shards.
type Ring struct {
	shards []ShardNode
	vnodes []vnode
}

// NewRing builds a ring over shards, each contributing vnodesPerShard
// virtual nodes sorted by hash ascending.
func NewRing(shards []ShardNode) *Ring {
	r := &Ring{shards: shards}
	for i, s := range shards {
		for v := 0; v < vnodesPerShard; v++ {
			r.vnodes = append(r.vnodes, vnode{
				hash:    hashKey(fmt.Sprintf("%s-%d", s.Addr, v)),
				shardID: i,
			})
		}
	}
	sort.Slice(r.vnodes, func(a, b int) bool { return r.vnodes[a].hash < r.vnodes[b].hash })
	return r
}

// hashKey is the 32-bit FNV-1a hash used for both v-node construction and
// key lookup.
func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// Owner returns the shard owning key: the first v-node with hash >= H(key),
// wrapping to the lowest v-node if none is found.
func (r *Ring) Owner(key string) ShardNode {
	h := hashKey(key)
	i := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	if i == len(r.vnodes) {
		i = 0
	}
	return r.shards[r.vnodes[i].shardID]
}

// Shards returns every shard registered on the ring.
func (r *Ring) Shards() []ShardNode { return r.shards }
