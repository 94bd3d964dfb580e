package raft

import (
	"errors"
	"fmt"
)

// msgType is the single discriminator byte that opens every Raft datagram.
type msgType byte

const (
	msgClusterJoin msgType = iota
	msgAddPeer
	msgForwardValue
	msgAppendEntriesRPC
	msgAppendEntriesReply
	msgRequestVoteRPC
	msgRequestVoteReply
)

// ErrCodec is returned when a Raft datagram fails to decode.
var ErrCodec = errors.New("raft: codec error")

type clusterJoinRPC struct {
	NodeID int32
	Addr   string
}

type addPeerRPC struct {
	NodeID int32
	Addr   string
}

type forwardValueRPC struct {
	Command []byte
}

type appendEntriesRPC struct {
	Term         int32
	LeaderID     int32
	PrevLogIndex int32
	PrevLogTerm  int32
	Entries      []LogEntry
	LeaderCommit int32
}

type appendEntriesReply struct {
	FromID  int32
	Term    int32
	Success bool
}

type requestVoteRPC struct {
	Term         int32
	CandidateID  int32
	LastLogIndex int32
	LastLogTerm  int32
}

type requestVoteReply struct {
	FromID      int32
	Term        int32
	VoteGranted bool
}

// encodeString writes an i32 length prefix followed by the string's bytes.
func encodeString(buf []byte, s string) []byte {
	head := make([]byte, 4)
	enc.PutUint32(head, uint32(len(s)))
	buf = append(buf, head...)
	buf = append(buf, s...)
	return buf
}

func decodeString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, ErrCodec
	}
	n := int(enc.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < n {
		return "", nil, ErrCodec
	}
	return string(buf[:n]), buf[n:], nil
}

func putI32(buf []byte, v int32) []byte {
	head := make([]byte, 4)
	enc.PutUint32(head, uint32(v))
	return append(buf, head...)
}

func getI32(buf []byte) (int32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, ErrCodec
	}
	return int32(enc.Uint32(buf[:4])), buf[4:], nil
}

func encodeMessage(t msgType, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(t))
	return append(out, payload...)
}

func (m clusterJoinRPC) encode() []byte {
	buf := putI32(nil, m.NodeID)
	buf = encodeString(buf, m.Addr)
	return encodeMessage(msgClusterJoin, buf)
}

func decodeClusterJoinRPC(buf []byte) (clusterJoinRPC, error) {
	nodeID, rest, err := getI32(buf)
	if err != nil {
		return clusterJoinRPC{}, err
	}
	addr, _, err := decodeString(rest)
	if err != nil {
		return clusterJoinRPC{}, err
	}
	return clusterJoinRPC{NodeID: nodeID, Addr: addr}, nil
}

func (m addPeerRPC) encode() []byte {
	buf := putI32(nil, m.NodeID)
	buf = encodeString(buf, m.Addr)
	return encodeMessage(msgAddPeer, buf)
}

func decodeAddPeerRPC(buf []byte) (addPeerRPC, error) {
	nodeID, rest, err := getI32(buf)
	if err != nil {
		return addPeerRPC{}, err
	}
	addr, _, err := decodeString(rest)
	if err != nil {
		return addPeerRPC{}, err
	}
	return addPeerRPC{NodeID: nodeID, Addr: addr}, nil
}

func (m forwardValueRPC) encode() []byte {
	buf := encodeString(nil, string(m.Command))
	return encodeMessage(msgForwardValue, buf)
}

func decodeForwardValueRPC(buf []byte) (forwardValueRPC, error) {
	cmd, _, err := decodeString(buf)
	if err != nil {
		return forwardValueRPC{}, err
	}
	return forwardValueRPC{Command: []byte(cmd)}, nil
}

func (m appendEntriesRPC) encode() []byte {
	var buf []byte
	buf = putI32(buf, m.Term)
	buf = putI32(buf, m.LeaderID)
	buf = putI32(buf, m.PrevLogIndex)
	buf = putI32(buf, m.PrevLogTerm)
	buf = putI32(buf, int32(len(m.Entries)))
	for _, e := range m.Entries {
		buf = putI32(buf, e.Term)
		buf = encodeString(buf, string(e.Command))
	}
	buf = putI32(buf, m.LeaderCommit)
	return encodeMessage(msgAppendEntriesRPC, buf)
}

func decodeAppendEntriesRPC(buf []byte) (appendEntriesRPC, error) {
	var m appendEntriesRPC
	var err error
	if m.Term, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.LeaderID, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.PrevLogIndex, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.PrevLogTerm, buf, err = getI32(buf); err != nil {
		return m, err
	}
	var count int32
	if count, buf, err = getI32(buf); err != nil {
		return m, err
	}
	m.Entries = make([]LogEntry, count)
	for i := int32(0); i < count; i++ {
		var term int32
		var command string
		if term, buf, err = getI32(buf); err != nil {
			return m, err
		}
		if command, buf, err = decodeString(buf); err != nil {
			return m, err
		}
		m.Entries[i] = LogEntry{Term: term, Command: []byte(command)}
	}
	if m.LeaderCommit, buf, err = getI32(buf); err != nil {
		return m, err
	}
	return m, nil
}

func (m appendEntriesReply) encode() []byte {
	var buf []byte
	buf = putI32(buf, m.FromID)
	buf = putI32(buf, m.Term)
	success := int32(0)
	if m.Success {
		success = 1
	}
	buf = putI32(buf, success)
	return encodeMessage(msgAppendEntriesReply, buf)
}

func decodeAppendEntriesReply(buf []byte) (appendEntriesReply, error) {
	var m appendEntriesReply
	var err error
	var success int32
	if m.FromID, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.Term, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if success, buf, err = getI32(buf); err != nil {
		return m, err
	}
	m.Success = success != 0
	return m, nil
}

func (m requestVoteRPC) encode() []byte {
	var buf []byte
	buf = putI32(buf, m.Term)
	buf = putI32(buf, m.CandidateID)
	buf = putI32(buf, m.LastLogIndex)
	buf = putI32(buf, m.LastLogTerm)
	return encodeMessage(msgRequestVoteRPC, buf)
}

func decodeRequestVoteRPC(buf []byte) (requestVoteRPC, error) {
	var m requestVoteRPC
	var err error
	if m.Term, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.CandidateID, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.LastLogIndex, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.LastLogTerm, buf, err = getI32(buf); err != nil {
		return m, err
	}
	return m, nil
}

func (m requestVoteReply) encode() []byte {
	var buf []byte
	buf = putI32(buf, m.FromID)
	buf = putI32(buf, m.Term)
	granted := int32(0)
	if m.VoteGranted {
		granted = 1
	}
	buf = putI32(buf, granted)
	return encodeMessage(msgRequestVoteReply, buf)
}

func decodeRequestVoteReply(buf []byte) (requestVoteReply, error) {
	var m requestVoteReply
	var err error
	var granted int32
	if m.FromID, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if m.Term, buf, err = getI32(buf); err != nil {
		return m, err
	}
	if granted, buf, err = getI32(buf); err != nil {
		return m, err
	}
	m.VoteGranted = granted != 0
	return m, nil
}

// decodeDatagram splits a raw datagram into its type and remaining payload.
func decodeDatagram(datagram []byte) (msgType, []byte, error) {
	if len(datagram) < 1 {
		return 0, nil, fmt.Errorf("%w: empty datagram", ErrCodec)
	}
	return msgType(datagram[0]), datagram[1:], nil
}
