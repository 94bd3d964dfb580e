package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `# this is a comment
id 3
type shard
host 10.0.0.5:9000
shard_leaders 10.0.0.1:9000 10.0.0.2:9000
raft_replicas 10.0.0.1:9100 10.0.0.2:9100 10.0.0.3:9100
raft_heartbeat_ms 150
`)
	n, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, n.ID)
	require.Equal(t, TypeShard, n.Type)
	require.Equal(t, "10.0.0.5:9000", n.Host)
	require.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000"}, n.ShardLeaders)
	require.Equal(t, []string{"10.0.0.1:9100", "10.0.0.2:9100", "10.0.0.3:9100"}, n.RaftReplicas)
	require.Equal(t, 150, n.RaftHeartbeatMS)
}

func TestLoad_ReplicaType(t *testing.T) {
	path := writeConfig(t, "id 1\ntype replica\n")
	n, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, TypeReplica, n.Type)
}

func TestLoad_UnknownKeyIgnored(t *testing.T) {
	path := writeConfig(t, "id 1\nfuture_key some_value\n")
	n, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, n.ID)
}

func TestLoad_BadIDErrors(t *testing.T) {
	path := writeConfig(t, "id notanumber\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_BadTypeErrors(t *testing.T) {
	path := writeConfig(t, "type bogus\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.Error(t, err)
}
