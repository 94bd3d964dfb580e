package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/mrshabel/chronodb/api/v1"
)

func TestWriteCommand_RoundTrip(t *testing.T) {
	cmd := writeCommand{
		Database: "metrics",
		Series:   "cpu",
		Records: []v1.Record{
			{TimestampNS: 1700000000000000000, Value: 42},
			{TimestampNS: 1700000001000000000, Value: -3.5},
		},
	}

	got, err := decodeWriteCommand(cmd.encode())
	require.NoError(t, err)
	require.Equal(t, cmd, got)
}

func TestDecodeWriteCommand_TruncatedPayload(t *testing.T) {
	_, err := decodeWriteCommand([]byte{0, 0, 0, 5, 'h', 'e'})
	require.ErrorIs(t, err, errBadCommand)
}
