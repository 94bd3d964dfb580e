package cluster

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
)

func TestRouter_LocalDelivery(t *testing.T) {
	ring := NewRing([]ShardNode{{ID: 0, Addr: "127.0.0.1:1"}})

	var gotKey string
	r := NewRouter(ring, 0, func(key string, payload []byte) error {
		gotKey = key
		return nil
	}, nil)

	require.NoError(t, r.Submit("cpu", []byte("v")))
	require.Equal(t, "cpu", gotKey)
}

func TestRouter_RemoteDelivery(t *testing.T) {
	port := dynaport.Get(1)[0]
	addr := "127.0.0.1:" + itoa(port)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan DataMessage, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := ReadMessage(conn)
		if err == nil && msg != nil {
			received <- *msg
		}
	}()

	ring := NewRing([]ShardNode{
		{ID: 0, Addr: "127.0.0.1:1"},
		{ID: 1, Addr: addr},
	})
	// force routing to shard 1 regardless of hash by using selfID 0 and
	// asserting whichever shard owns the key isn't self.
	r := NewRouter(ring, 0, func(key string, payload []byte) error {
		t.Fatal("expected remote routing, got local handler")
		return nil
	}, nil)

	// pick a key that the ring actually assigns to shard 1; fall back to
	// scanning since hash distribution is deterministic but unpredictable.
	key := findKeyForShard(t, ring, 1)
	require.NoError(t, r.Submit(key, []byte("payload")))

	select {
	case msg := <-received:
		require.Equal(t, key, msg.Key)
		require.Equal(t, []byte("payload"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote message")
	}
}

func findKeyForShard(t *testing.T, ring *Ring, shardID int) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		k := randKey(i)
		if ring.Owner(k).ID == shardID {
			return k
		}
	}
	t.Fatal("no key found routing to target shard")
	return ""
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
