package node

import (
	"encoding/binary"
	"errors"
	"math"

	v1 "github.com/mrshabel/chronodb/api/v1"
)

var wcEnc = binary.BigEndian

// errBadCommand is returned when a write command fails to decode.
var errBadCommand = errors.New("node: malformed write command")

// writeCommand is the payload a node submits to Raft for a single INSERT:
// the resolved database/series names plus the already-resolved
// (timestamp, value) samples. Raft itself only ever stores and replicates
// this as an opaque byte slice; applyWriteCommand decodes it back once an
// entry commits. This is the parameterization the fixed-width LogEntry
// value historically lacked.
type writeCommand struct {
	Database string
	Series   string
	Records  []v1.Record
}

// encode serializes a writeCommand as `str database; str series; i32
// record_count, (u64 timestamp_ns, f64 value)*`.
func (c writeCommand) encode() []byte {
	buf := encodeWCString(nil, c.Database)
	buf = encodeWCString(buf, c.Series)

	head := make([]byte, 4)
	wcEnc.PutUint32(head, uint32(len(c.Records)))
	buf = append(buf, head...)

	for _, r := range c.Records {
		rec := make([]byte, 16)
		wcEnc.PutUint64(rec[0:8], r.TimestampNS)
		wcEnc.PutUint64(rec[8:16], math.Float64bits(r.Value))
		buf = append(buf, rec...)
	}
	return buf
}

func decodeWriteCommand(buf []byte) (writeCommand, error) {
	database, buf, err := decodeWCString(buf)
	if err != nil {
		return writeCommand{}, err
	}
	series, buf, err := decodeWCString(buf)
	if err != nil {
		return writeCommand{}, err
	}
	if len(buf) < 4 {
		return writeCommand{}, errBadCommand
	}
	n := int(wcEnc.Uint32(buf[:4]))
	buf = buf[4:]

	records := make([]v1.Record, 0, n)
	for i := 0; i < n; i++ {
		if len(buf) < 16 {
			return writeCommand{}, errBadCommand
		}
		ts := wcEnc.Uint64(buf[0:8])
		val := math.Float64frombits(wcEnc.Uint64(buf[8:16]))
		records = append(records, v1.Record{TimestampNS: ts, Value: val})
		buf = buf[16:]
	}
	return writeCommand{Database: database, Series: series, Records: records}, nil
}

func encodeWCString(buf []byte, s string) []byte {
	head := make([]byte, 4)
	wcEnc.PutUint32(head, uint32(len(s)))
	buf = append(buf, head...)
	buf = append(buf, s...)
	return buf
}

func decodeWCString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, errBadCommand
	}
	n := int(wcEnc.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < n {
		return "", nil, errBadCommand
	}
	return string(buf[:n]), buf[n:], nil
}
