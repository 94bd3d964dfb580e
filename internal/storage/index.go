package storage

import (
	"io"
	"os"

	"github.com/tysonmote/gommap"
)

// indexEntryWidth is the width of a single sparse index entry: an 8-byte
// nanosecond timestamp (the first sample's timestamp in the batch) followed
// by an 8-byte byte offset into the partition's commit log.
const indexEntryWidth uint64 = 16

// sparseIndex is a memory-mapped, append-only list of (timestamp, offset)
// entries, one per flushed batch, kept sorted by timestamp since batches are
// always appended in increasing time order.
type sparseIndex struct {
	file *os.File
	mmap gommap.MMap
	size uint64
}

// newSparseIndex creates or reopens the sparse index file for a partition,
// growing it to maxBytes before mapping since gommap files cannot grow once
// mapped.
func newSparseIndex(f *os.File, maxBytes int64) (*sparseIndex, error) {
	idx := &sparseIndex{file: f}
	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, err
	}
	idx.size = uint64(fi.Size())

	if err := os.Truncate(f.Name(), maxBytes); err != nil {
		return nil, err
	}
	m, err := gommap.Map(idx.file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	idx.mmap = m
	return idx, nil
}

func (i *sparseIndex) Name() string {
	return i.file.Name()
}

// count returns the number of entries currently written.
func (i *sparseIndex) count() uint64 {
	return i.size / indexEntryWidth
}

// entryAt returns the nth entry (0-indexed).
func (i *sparseIndex) entryAt(n uint64) (tsNS uint64, offset uint64, err error) {
	pos := n * indexEntryWidth
	if i.size < pos+indexEntryWidth {
		return 0, 0, io.EOF
	}
	tsNS = enc.Uint64(i.mmap[pos : pos+8])
	offset = enc.Uint64(i.mmap[pos+8 : pos+indexEntryWidth])
	return tsNS, offset, nil
}

// write appends a new (timestamp, offset) entry.
func (i *sparseIndex) write(tsNS uint64, offset uint64) error {
	if uint64(len(i.mmap)) < i.size+indexEntryWidth {
		return io.EOF
	}
	enc.PutUint64(i.mmap[i.size:i.size+8], tsNS)
	enc.PutUint64(i.mmap[i.size+8:i.size+indexEntryWidth], offset)
	i.size += indexEntryWidth
	return nil
}

// floorSearch returns the offset of the last entry whose timestamp is <= ts,
// used to find the batch that may contain ts. ok is false if every entry is
// newer than ts (caller should start from the first batch instead).
func (i *sparseIndex) floorSearch(ts uint64) (offset uint64, ok bool) {
	n := i.count()
	if n == 0 {
		return 0, false
	}
	lo, hi := uint64(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		midTS, _, err := i.entryAt(mid)
		if err != nil {
			break
		}
		if midTS <= ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	_, off, err := i.entryAt(lo - 1)
	if err != nil {
		return 0, false
	}
	return off, true
}

// ceilSearch returns the offset of the first entry whose timestamp is >= ts.
func (i *sparseIndex) ceilSearch(ts uint64) (offset uint64, ok bool) {
	n := i.count()
	lo, hi := uint64(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		midTS, _, err := i.entryAt(mid)
		if err != nil {
			break
		}
		if midTS < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= n {
		return 0, false
	}
	_, off, err := i.entryAt(lo)
	if err != nil {
		return 0, false
	}
	return off, true
}

func (i *sparseIndex) Close() error {
	if err := i.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := i.file.Sync(); err != nil {
		return err
	}
	if err := i.mmap.UnsafeUnmap(); err != nil {
		return err
	}
	if err := i.file.Truncate(int64(i.size)); err != nil {
		return err
	}
	return i.file.Close()
}
