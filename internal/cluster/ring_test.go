package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_OwnerIsStable(t *testing.T) {
	shards := []ShardNode{
		{ID: 0, Addr: "127.0.0.1:9000"},
		{ID: 1, Addr: "127.0.0.1:9001"},
		{ID: 2, Addr: "127.0.0.1:9002"},
	}
	r := NewRing(shards)

	first := r.Owner("cpu.host1")
	second := r.Owner("cpu.host1")
	require.Equal(t, first.ID, second.ID)
}

func TestRing_DistributesAcrossShards(t *testing.T) {
	shards := []ShardNode{
		{ID: 0, Addr: "127.0.0.1:9000"},
		{ID: 1, Addr: "127.0.0.1:9001"},
		{ID: 2, Addr: "127.0.0.1:9002"},
	}
	r := NewRing(shards)

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		owner := r.Owner(randKey(i))
		seen[owner.ID] = true
	}
	require.True(t, len(seen) > 1, "expected keys to spread across more than one shard")
}

func randKey(i int) string {
	return "series-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
}
