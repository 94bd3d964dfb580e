package storage

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// walRecordWidth is the fixed width of a (timestamp, value) WAL record.
const walRecordWidth = 16

// wal is the append-only file backing a single chunk, one per chunk role
// ('h' for head, 't' for previous), anchored at a base second. Replaying a
// wal from the start rebuilds its chunk on restart.
type wal struct {
	mu   sync.Mutex
	file *os.File
	size uint64
}

func walPath(dir string, role byte, baseSec int64) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%c-%d.log", role, baseSec))
}

// openWAL opens (or creates) the wal file for the given role and base
// second, positioned at its current size for append.
func openWAL(dir string, role byte, baseSec int64) (*wal, error) {
	f, err := os.OpenFile(walPath(dir, role, baseSec), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWALAppend, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrWALAppend, err)
	}
	return &wal{file: f, size: uint64(fi.Size())}, nil
}

// append writes a single fixed-width (timestamp, value) record.
func (w *wal) append(tsNS uint64, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, walRecordWidth)
	enc.PutUint64(buf[:8], tsNS)
	enc.PutUint64(buf[8:], math.Float64bits(value))
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrWALAppend, err)
	}
	w.size += walRecordWidth
	return nil
}

// replay invokes fn for every record in the wal, oldest first.
func (w *wal) replay(fn func(tsNS uint64, value float64) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, walRecordWidth)
	for off := int64(0); ; off += walRecordWidth {
		n, err := w.file.ReadAt(buf, off)
		if n == walRecordWidth {
			tsNS := enc.Uint64(buf[:8])
			value := math.Float64frombits(enc.Uint64(buf[8:]))
			if ferr := fn(tsNS, value); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			break
		}
	}
	return nil
}

// Close flushes and closes the underlying file without removing it.
func (w *wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// remove closes and deletes the underlying file, used once a chunk has been
// flushed to a partition and its wal is no longer needed for recovery.
func (w *wal) remove() error {
	name := w.file.Name()
	if err := w.file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// relabel renames the wal file to the given role and base second, used when
// the head chunk is demoted to prev so the on-disk name matches its new
// role for rebuild to recognize after a restart.
func (w *wal) relabel(dir string, role byte, baseSec int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	oldName := w.file.Name()
	if err := w.file.Close(); err != nil {
		return err
	}
	newName := walPath(dir, role, baseSec)
	if err := os.Rename(oldName, newName); err != nil {
		return err
	}
	f, err := os.OpenFile(newName, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}
