package node

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"

	"github.com/mrshabel/chronodb/internal/cluster"
	"github.com/mrshabel/chronodb/internal/wire"
)

func startTestNode(t *testing.T) string {
	t.Helper()
	port := dynaport.Get(1)[0]
	addr := "127.0.0.1:" + itoa(port)

	n, err := New(Config{
		NodeID:     1,
		ClientAddr: addr,
		DataDir:    t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, n.Shutdown()) })
	return addr
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func roundTrip(t *testing.T, conn net.Conn, query string) wire.Response {
	t.Helper()
	w := bufio.NewWriter(conn)
	require.NoError(t, wire.WriteRequest(w, query))
	require.NoError(t, w.Flush())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := wire.ReadResponse(bufio.NewReader(conn))
	require.NoError(t, err)
	return resp
}

func TestNode_ClientRoundTrip(t *testing.T) {
	addr := startTestNode(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, "CREATEDB metrics")
	require.Equal(t, wire.KindString, resp.Kind)

	resp = roundTrip(t, conn, "USE metrics")
	require.Equal(t, wire.KindString, resp.Kind)

	resp = roundTrip(t, conn, "INSERT INTO cpu VALUES (1700000000, 42)")
	require.Equal(t, wire.KindString, resp.Kind)

	resp = roundTrip(t, conn, "SELECT value FROM cpu")
	require.Equal(t, wire.KindRecords, resp.Kind)
	require.Len(t, resp.Records, 1)
	require.InDelta(t, 42, resp.Records[0].Value, 1e-9)
}

// TestNode_RemoteWriteForwardedAndApplied starts two shards and writes a
// series whose key the ring assigns to the second node's shard, through
// the first node's client connection. It exercises the whole remote path:
// Router.Submit serializes a MsgData frame to the owning shard's client
// listener, and that listener's cluster branch decodes and applies it.
func TestNode_RemoteWriteForwardedAndApplied(t *testing.T) {
	ports := dynaport.Get(2)
	addrA := "127.0.0.1:" + itoa(ports[0])
	addrB := "127.0.0.1:" + itoa(ports[1])
	shards := []string{addrA, addrB}

	nodeA, err := New(Config{NodeID: 0, ClientAddr: addrA, DataDir: t.TempDir(), ShardLeaders: shards})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, nodeA.Shutdown()) })

	nodeB, err := New(Config{NodeID: 1, ClientAddr: addrB, DataDir: t.TempDir(), ShardLeaders: shards})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, nodeB.Shutdown()) })

	ring := cluster.NewRing([]cluster.ShardNode{{ID: 0, Addr: addrA}, {ID: 1, Addr: addrB}})
	series := findSeriesOwnedBy(t, ring, 1)

	connA, err := net.Dial("tcp", addrA)
	require.NoError(t, err)
	defer connA.Close()

	resp := roundTrip(t, connA, "CREATEDB metrics")
	require.Equal(t, wire.KindString, resp.Kind)
	resp = roundTrip(t, connA, "USE metrics")
	require.Equal(t, wire.KindString, resp.Kind)
	resp = roundTrip(t, connA, "INSERT INTO "+series+" VALUES (1700000000, 99)")
	require.Equal(t, wire.KindString, resp.Kind)

	connB, err := net.Dial("tcp", addrB)
	require.NoError(t, err)
	defer connB.Close()

	require.Eventually(t, func() bool {
		resp = roundTrip(t, connB, "USE metrics")
		if resp.Kind != wire.KindString {
			return false
		}
		resp = roundTrip(t, connB, "SELECT value FROM "+series)
		return resp.Kind == wire.KindRecords && len(resp.Records) == 1
	}, 2*time.Second, 20*time.Millisecond, "forwarded write never landed on owning shard")
}

func findSeriesOwnedBy(t *testing.T, ring *cluster.Ring, shardID int) string {
	t.Helper()
	for i := 0; i < 1000; i++ {
		name := "series" + itoa(i)
		if ring.Owner(name).ID == shardID {
			return name
		}
	}
	t.Fatal("no series name found routing to target shard")
	return ""
}

func TestNode_InvalidQueryReturnsError(t *testing.T) {
	addr := startTestNode(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, "BOGUS QUERY")
	require.Equal(t, wire.KindError, resp.Kind)
}
