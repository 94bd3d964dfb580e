package raft

import (
	"encoding/binary"
	"os"
)

var enc = binary.BigEndian

// Persister is a pluggable store for a replica's durable state: current
// term, voted-for candidate, and log. The default implementation writes a
// single flat file; tests may supply an in-memory stand-in.
type Persister interface {
	Save(currentTerm, votedFor int32, log []LogEntry) error
	Load() (currentTerm, votedFor int32, log []LogEntry, err error)
}

// filePersister is the default Persister, writing the exact layout:
// i32 current_term, i32 voted_for, i32 log_length, (i32 term, i32
// command_length, command bytes)*.
type filePersister struct {
	path string
}

// NewFilePersister returns a Persister backed by a single file at path.
func NewFilePersister(path string) Persister {
	return &filePersister{path: path}
}

func (p *filePersister) Save(currentTerm, votedFor int32, log []LogEntry) error {
	head := make([]byte, 12)
	enc.PutUint32(head[0:4], uint32(currentTerm))
	enc.PutUint32(head[4:8], uint32(votedFor))
	enc.PutUint32(head[8:12], uint32(len(log)))

	buf := head
	for _, e := range log {
		buf = putI32(buf, e.Term)
		buf = encodeString(buf, string(e.Command))
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

func (p *filePersister) Load() (int32, int32, []LogEntry, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, -1, nil, nil
		}
		return 0, -1, nil, err
	}
	if len(buf) < 12 {
		return 0, -1, nil, nil
	}
	currentTerm := int32(enc.Uint32(buf[0:4]))
	votedFor := int32(enc.Uint32(buf[4:8]))
	logLength := int(enc.Uint32(buf[8:12]))
	buf = buf[12:]

	log := make([]LogEntry, 0, logLength)
	for i := 0; i < logLength; i++ {
		term, rest, err := getI32(buf)
		if err != nil {
			break
		}
		command, rest, err := decodeString(rest)
		if err != nil {
			break
		}
		log = append(log, LogEntry{Term: term, Command: []byte(command)})
		buf = rest
	}
	return currentTerm, votedFor, log, nil
}

// memoryPersister is an in-memory Persister used in tests.
type memoryPersister struct {
	currentTerm int32
	votedFor    int32
	log         []LogEntry
	saved       bool
}

// NewMemoryPersister returns a Persister that never touches disk.
func NewMemoryPersister() Persister {
	return &memoryPersister{votedFor: -1}
}

func (p *memoryPersister) Save(currentTerm, votedFor int32, log []LogEntry) error {
	p.currentTerm = currentTerm
	p.votedFor = votedFor
	p.log = append([]LogEntry(nil), log...)
	p.saved = true
	return nil
}

func (p *memoryPersister) Load() (int32, int32, []LogEntry, error) {
	if !p.saved {
		return 0, -1, nil, nil
	}
	return p.currentTerm, p.votedFor, append([]LogEntry(nil), p.log...), nil
}
