package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
)

func startCluster(t *testing.T, n int) []*Consensus {
	t.Helper()
	ports := dynaport.Get(n)
	addrs := make([]string, n)
	for i, p := range ports {
		addrs[i] = "127.0.0.1:" + itoa(p)
	}

	nodes := make([]*Consensus, n)
	applied := make([]chan []byte, n)
	for i := 0; i < n; i++ {
		applied[i] = make(chan []byte, 16)
		i := i
		c, err := New(Config{
			NodeID:        int32(i),
			ListenAddr:    addrs[i],
			SeedPeerAddrs: addrs,
			Persister:     NewMemoryPersister(),
			Apply:         func(v []byte) { applied[i] <- v },
		})
		require.NoError(t, err)
		nodes[i] = c
		go c.Run()
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.Stop()
		}
	})
	return nodes
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestConsensus_ElectsALeader(t *testing.T) {
	nodes := startCluster(t, 3)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		leaders := 0
		for _, n := range nodes {
			if n.IsLeader() {
				leaders++
			}
		}
		if leaders == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no single leader elected within deadline")
}

func TestAppendEntriesRPC_RoundTrip(t *testing.T) {
	rpc := appendEntriesRPC{
		Term:         3,
		LeaderID:     1,
		PrevLogIndex: 0,
		PrevLogTerm:  2,
		Entries:      []LogEntry{{Term: 3, Command: []byte("cpu:42")}},
		LeaderCommit: 0,
	}
	msgType, payload, err := decodeDatagram(rpc.encode())
	require.NoError(t, err)
	require.Equal(t, msgAppendEntriesRPC, msgType)

	got, err := decodeAppendEntriesRPC(payload)
	require.NoError(t, err)
	require.Equal(t, rpc, got)
}

func TestConsensus_SubmitReplicatesToEveryLog(t *testing.T) {
	nodes := startCluster(t, 3)

	var leader *Consensus
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && leader == nil {
		for _, n := range nodes {
			if n.IsLeader() {
				leader = n
				break
			}
		}
		if leader == nil {
			time.Sleep(20 * time.Millisecond)
		}
	}
	require.NotNil(t, leader, "no leader elected within deadline")

	leader.Submit([]byte("cpu:7"))

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allMatch := true
		for _, n := range nodes {
			n.mu.Lock()
			last := len(n.entries) > 0 &&
				string(n.entries[len(n.entries)-1].Command) == "cpu:7"
			n.mu.Unlock()
			if !last {
				allMatch = false
				break
			}
		}
		if allMatch {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("submitted command did not replicate to every replica's log within deadline")
}
