package storage

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	v1 "github.com/mrshabel/chronodb/api/v1"
)

// batchSize is the number of records flushed to a partition's commit log in
// a single batch, each batch getting one sparse index entry.
const batchSize = 64

// defaultMaxIndexBytes bounds how large a partition's sparse index file can
// grow; index writes past it fail with io.EOF. gommap needs the file
// pre-truncated to its maximum size since it cannot grow once mapped.
const defaultMaxIndexBytes = 1 << 20 // 1MiB, room for 64k batches

// batchHeaderWidth is the fixed-width header in front of every flushed
// batch: an 8-byte total byte length of the encoded records that follow.
const batchHeaderWidth = 8

// recordWidth is the width of a single (timestamp, value) record as encoded
// inside a batch.
const recordWidth = 16

func partitionLogPath(dir string, baseSec int64) string {
	return filepath.Join(dir, fmt.Sprintf("c-%d.log", baseSec))
}

func partitionIndexPath(dir string, baseSec int64) string {
	return filepath.Join(dir, fmt.Sprintf("i-%d.index", baseSec))
}

// partition is an immutable-once-flushed commit log of (timestamp, value)
// batches plus a sparse index mapping each batch's first timestamp to its
// byte offset in the commit log.
type partition struct {
	mu      sync.RWMutex
	dir     string
	baseSec int64

	file *os.File
	buf  *bufio.Writer
	size uint64

	index *sparseIndex

	startTS uint64
	endTS   uint64
}

// createPartition flushes records (already sorted ascending by timestamp)
// into a brand new partition anchored at baseSec.
func createPartition(dir string, baseSec int64, records []v1.Record) (*partition, error) {
	f, err := os.OpenFile(partitionLogPath(dir, baseSec), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}
	idxFile, err := os.OpenFile(partitionIndexPath(dir, baseSec), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}
	idx, err := newSparseIndex(idxFile, defaultMaxIndexBytes)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}

	p := &partition{dir: dir, baseSec: baseSec, file: f, buf: bufio.NewWriter(f), index: idx}
	if len(records) > 0 {
		p.startTS = records[0].TimestampNS
		p.endTS = records[len(records)-1].TimestampNS
	}

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := p.writeBatch(records[start:end]); err != nil {
			p.Close()
			return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
		}
	}
	if err := p.buf.Flush(); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}
	return p, nil
}

// writeBatch encodes and appends one batch, recording its offset in the
// sparse index under its first timestamp.
func (p *partition) writeBatch(records []v1.Record) error {
	if len(records) == 0 {
		return nil
	}
	pos := p.size
	body := make([]byte, len(records)*recordWidth)
	for i, r := range records {
		off := i * recordWidth
		enc.PutUint64(body[off:off+8], r.TimestampNS)
		enc.PutUint64(body[off+8:off+16], math.Float64bits(r.Value))
	}

	hdr := make([]byte, batchHeaderWidth)
	enc.PutUint64(hdr, uint64(len(body)))
	if _, err := p.buf.Write(hdr); err != nil {
		return err
	}
	if _, err := p.buf.Write(body); err != nil {
		return err
	}
	p.size += uint64(len(hdr) + len(body))

	return p.index.write(records[0].TimestampNS, pos)
}

// decodeBatchAt reads and decodes the batch starting at byte offset pos in
// the commit log.
func (p *partition) decodeBatchAt(pos uint64) ([]v1.Record, error) {
	if err := p.buf.Flush(); err != nil {
		return nil, err
	}
	hdr := make([]byte, batchHeaderWidth)
	if _, err := p.file.ReadAt(hdr, int64(pos)); err != nil {
		return nil, err
	}
	bodyLen := enc.Uint64(hdr)
	body := make([]byte, bodyLen)
	if _, err := p.file.ReadAt(body, int64(pos+batchHeaderWidth)); err != nil {
		return nil, err
	}

	n := int(bodyLen) / recordWidth
	out := make([]v1.Record, n)
	for i := 0; i < n; i++ {
		off := i * recordWidth
		out[i] = v1.Record{
			TimestampNS: enc.Uint64(body[off : off+8]),
			Value:       math.Float64frombits(enc.Uint64(body[off+8 : off+16])),
		}
	}
	return out, nil
}

// openPartition rebuilds a partition's in-memory state (bounds, index
// mapping) from existing commit-log and index files on disk.
func openPartition(dir string, baseSec int64) (*partition, error) {
	f, err := os.OpenFile(partitionLogPath(dir, baseSec), os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}
	idxFile, err := os.OpenFile(partitionIndexPath(dir, baseSec), os.O_RDWR, 0644)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}
	idx, err := newSparseIndex(idxFile, defaultMaxIndexBytes)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitPartition, err)
	}

	p := &partition{dir: dir, baseSec: baseSec, file: f, buf: bufio.NewWriter(f), size: uint64(fi.Size()), index: idx}

	if n := idx.count(); n > 0 {
		firstTS, _, err := idx.entryAt(0)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.startTS = firstTS

		_, lastOff, err := idx.entryAt(n - 1)
		if err != nil {
			p.Close()
			return nil, err
		}
		recs, err := p.decodeBatchAt(lastOff)
		if err != nil {
			p.Close()
			return nil, err
		}
		if len(recs) > 0 {
			p.endTS = recs[len(recs)-1].TimestampNS
		}
	}
	return p, nil
}

// find looks up an exact timestamp, binary-searching the sparse index down
// to a batch and scanning that batch linearly.
func (p *partition) find(tsNS uint64) (v1.Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	off, ok := p.index.floorSearch(tsNS)
	if !ok {
		return v1.Record{}, false
	}
	records, err := p.decodeBatchAt(off)
	if err != nil {
		return v1.Record{}, false
	}
	for _, r := range records {
		if r.TimestampNS == tsNS {
			return r, true
		}
	}
	return v1.Record{}, false
}

// rangeWithin appends every record in [t0, t1] held by this partition to
// dst, oldest to newest.
func (p *partition) rangeWithin(t0, t1 uint64, dst []v1.Record) ([]v1.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if t1 < p.startTS || t0 > p.endTS {
		return dst, nil
	}
	startOff, ok := p.index.floorSearch(t0)
	if !ok {
		startOff = 0
	}
	startBatch := p.batchIndexForOffset(startOff)

	n := p.index.count()
	for bi := startBatch; bi < n; bi++ {
		_, off, err := p.index.entryAt(bi)
		if err != nil {
			return dst, err
		}
		records, err := p.decodeBatchAt(off)
		if err != nil {
			return dst, err
		}
		if len(records) > 0 && records[0].TimestampNS > t1 {
			break
		}
		for _, r := range records {
			if r.TimestampNS >= t0 && r.TimestampNS <= t1 {
				dst = append(dst, r)
			}
		}
	}
	return dst, nil
}

func (p *partition) batchIndexForOffset(off uint64) uint64 {
	n := p.index.count()
	lo, hi := uint64(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		_, midOff, err := p.index.entryAt(mid)
		if err != nil || midOff >= off {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// scanAll appends every record in this partition to dst, oldest to newest.
func (p *partition) scanAll(dst []v1.Record) ([]v1.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := p.index.count()
	for bi := uint64(0); bi < n; bi++ {
		_, off, err := p.index.entryAt(bi)
		if err != nil {
			return dst, err
		}
		records, err := p.decodeBatchAt(off)
		if err != nil {
			return dst, err
		}
		dst = append(dst, records...)
	}
	return dst, nil
}

func (p *partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf != nil {
		if err := p.buf.Flush(); err != nil {
			return err
		}
	}
	if err := p.index.Close(); err != nil {
		return err
	}
	return p.file.Close()
}

// Remove closes and deletes the partition's files, used when the
// tsMaxPartitions cap is exceeded and the oldest partition is evicted.
func (p *partition) Remove() error {
	logName := p.file.Name()
	idxName := p.index.Name()
	if err := p.Close(); err != nil {
		return err
	}
	if err := os.Remove(logName); err != nil {
		return err
	}
	return os.Remove(idxName)
}
