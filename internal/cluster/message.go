package cluster

import (
	"encoding/binary"
	"errors"
	"io"
)

var enc = binary.BigEndian

// ErrCodec is returned when a cluster TCP message fails to decode.
var ErrCodec = errors.New("cluster: codec error")

type msgType byte

const (
	// MsgJoin announces a node joining the cluster topology.
	MsgJoin msgType = 0
	// MsgData carries a routed key/payload pair to its owning shard.
	MsgData msgType = 1
)

// DataMessage is the decoded body of a MsgData frame: a routed key and an
// opaque payload (the executor's serialized insert).
type DataMessage struct {
	Key     string
	Payload []byte
}

// WriteJoin writes a MsgJoin frame.
func WriteJoin(w io.Writer) error {
	_, err := w.Write([]byte{byte(MsgJoin)})
	return err
}

// WriteData writes a MsgData frame: `i32 key_length; key bytes; i32
// payload_length; payload bytes`.
func WriteData(w io.Writer, msg DataMessage) error {
	buf := make([]byte, 1+4+len(msg.Key)+4+len(msg.Payload))
	buf[0] = byte(MsgData)
	enc.PutUint32(buf[1:5], uint32(len(msg.Key)))
	off := 5
	off += copy(buf[off:], msg.Key)
	enc.PutUint32(buf[off:off+4], uint32(len(msg.Payload)))
	off += 4
	copy(buf[off:], msg.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a single cluster message type byte and, for MsgData,
// its decoded body.
func ReadMessage(r io.Reader) (msgType, *DataMessage, error) {
	head := make([]byte, 1)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, err
	}
	t := msgType(head[0])
	if t == MsgJoin {
		return t, nil, nil
	}
	if t != MsgData {
		return 0, nil, ErrCodec
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return 0, nil, err
	}
	keyLen := enc.Uint32(lenBuf)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return 0, nil, err
	}

	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return 0, nil, err
	}
	payloadLen := enc.Uint32(lenBuf)
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	return t, &DataMessage{Key: string(key), Payload: payload}, nil
}
