package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeries_InsertAndFind(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSeries("cpu", dir, Options{}, nil)
	require.NoError(t, err)
	defer s.Close()

	ts := uint64(1_700_000_000) * 1_000_000_000
	require.NoError(t, s.Insert(ts, 42.5))

	r, ok := s.Find(ts)
	require.True(t, ok)
	require.Equal(t, 42.5, r.Value)

	_, ok = s.Find(ts + 1)
	require.False(t, ok)
}

func TestSeries_RangeAcrossBuckets(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSeries("cpu", dir, Options{}, nil)
	require.NoError(t, err)
	defer s.Close()

	base := uint64(1_700_000_000) * 1_000_000_000
	nsPerSec := uint64(1_000_000_000)
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, s.Insert(base+i*nsPerSec, float64(i)))
	}

	recs, err := s.Range(base+2*nsPerSec, base+5*nsPerSec)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	require.Equal(t, float64(2), recs[0].Value)
	require.Equal(t, float64(5), recs[3].Value)
}

func TestSeries_OutOfOrderEarlierSecond(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSeries("cpu", dir, Options{}, nil)
	require.NoError(t, err)
	defer s.Close()

	base := uint64(1_700_000_000) * 1_000_000_000
	nsPerSec := uint64(1_000_000_000)

	require.NoError(t, s.Insert(base+100*nsPerSec, 1))
	require.NoError(t, s.Insert(base+50*nsPerSec, 2))

	r, ok := s.Find(base + 50*nsPerSec)
	require.True(t, ok)
	require.Equal(t, float64(2), r.Value)

	recs, err := s.Range(base, base+200*nsPerSec)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, float64(2), recs[0].Value)
	require.Equal(t, float64(1), recs[1].Value)
}

func TestSeries_FlushAndReadBack(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSeries("cpu", dir, Options{}, nil)
	require.NoError(t, err)

	base := uint64(1_700_000_000) * 1_000_000_000
	nsPerSec := uint64(1_000_000_000)

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, s.Insert(base+i*chunkSpanSecNS(nsPerSec), float64(i)))
	}
	require.NoError(t, s.Close())

	s2, err := NewSeries("cpu", dir, Options{}, nil)
	require.NoError(t, err)
	defer s2.Close()

	require.True(t, len(s2.partitions) >= 1)
	r, ok := s2.Find(base)
	require.True(t, ok)
	require.Equal(t, float64(0), r.Value)
}

func chunkSpanSecNS(nsPerSec uint64) uint64 {
	return uint64(chunkSpanSec) * nsPerSec
}
