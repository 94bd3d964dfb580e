package wire

import (
	"bufio"
	"bytes"
	"testing"

	v1 "github.com/mrshabel/chronodb/api/v1"
	"github.com/stretchr/testify/require"
)

func TestRequest_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteRequest(w, "SELECT value FROM cpu"))

	r := bufio.NewReader(&buf)
	got, err := ReadRequest(r)
	require.NoError(t, err)
	require.Equal(t, "SELECT value FROM cpu", got)
}

func TestResponse_StringAndError(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteString(w, "OK"))

	resp, err := ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, KindString, resp.Kind)
	require.Equal(t, "OK", resp.Text)

	buf.Reset()
	require.NoError(t, WriteError(w, "series not found"))
	resp, err = ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, KindError, resp.Kind)
	require.Equal(t, "series not found", resp.Text)
}

func TestResponse_Records(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	records := []v1.Record{
		{TimestampNS: 1700000000000000000, Value: 1.5},
		{TimestampNS: 1700000001000000000, Value: -2.25},
	}
	require.NoError(t, WriteRecords(w, records))

	resp, err := ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, KindRecords, resp.Kind)
	require.Len(t, resp.Records, 2)
	require.Equal(t, records[0].TimestampNS, resp.Records[0].TimestampNS)
	require.InDelta(t, records[1].Value, resp.Records[1].Value, 1e-9)
}

func TestResponse_UnknownLeadingByte(t *testing.T) {
	buf := bytes.NewBufferString("?garbage")
	_, err := ReadResponse(bufio.NewReader(buf))
	require.ErrorIs(t, err, ErrCodec)
}
