package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWAL_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := openWAL(dir, 'h', 1700000000)
	require.NoError(t, err)

	require.NoError(t, w.append(1, 1.5))
	require.NoError(t, w.append(2, 2.5))
	require.NoError(t, w.Close())

	w2, err := openWAL(dir, 'h', 1700000000)
	require.NoError(t, err)
	defer w2.Close()

	var got []float64
	require.NoError(t, w2.replay(func(tsNS uint64, value float64) error {
		got = append(got, value)
		return nil
	}))
	require.Equal(t, []float64{1.5, 2.5}, got)
}

func TestWAL_Relabel(t *testing.T) {
	dir := t.TempDir()
	w, err := openWAL(dir, 'h', 42)
	require.NoError(t, err)
	require.NoError(t, w.append(1, 9))

	require.NoError(t, w.relabel(dir, 't', 42))
	require.NoError(t, w.append(2, 10))
	require.NoError(t, w.Close())

	reopened, err := openWAL(dir, 't', 42)
	require.NoError(t, err)
	defer reopened.Close()

	var vals []float64
	require.NoError(t, reopened.replay(func(_ uint64, v float64) error {
		vals = append(vals, v)
		return nil
	}))
	require.Equal(t, []float64{9, 10}, vals)
}
