package storage

import (
	"testing"

	v1 "github.com/mrshabel/chronodb/api/v1"
	"github.com/stretchr/testify/require"
)

func TestPartition_CreateFindAndReopen(t *testing.T) {
	dir := t.TempDir()
	records := make([]v1.Record, 0, 200)
	for i := uint64(0); i < 200; i++ {
		records = append(records, v1.Record{TimestampNS: i * 1_000_000_000, Value: float64(i)})
	}

	p, err := createPartition(dir, 0, records)
	require.NoError(t, err)

	r, ok := p.find(50 * 1_000_000_000)
	require.True(t, ok)
	require.Equal(t, float64(50), r.Value)

	recs, err := p.rangeWithin(10*1_000_000_000, 15*1_000_000_000, nil)
	require.NoError(t, err)
	require.Len(t, recs, 6)

	require.NoError(t, p.Close())

	p2, err := openPartition(dir, 0)
	require.NoError(t, err)
	defer p2.Close()

	r2, ok := p2.find(199 * 1_000_000_000)
	require.True(t, ok)
	require.Equal(t, float64(199), r2.Value)

	all, err := p2.scanAll(nil)
	require.NoError(t, err)
	require.Len(t, all, 200)
}
