package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	v1 "github.com/mrshabel/chronodb/api/v1"
	"go.uber.org/zap"
)

// tsMaxPartitions bounds how many flushed partitions a series retains; once
// exceeded, the oldest partition is evicted.
const tsMaxPartitions = 16

// chunkSpanSec is the width, in whole seconds, of a chunk's bucket window.
const chunkSpanSec = bucketsPerChunk

// Options configures a Series' retention and flush behavior.
type Options struct {
	Retention         int // seconds; stored but not read by Series, data is dropped only by tsMaxPartitions eviction
	FlushSize         int // head WAL size in bytes at which head and prev are flushed to partitions; 0 disables size-based flushing
	DuplicationPolicy string
	MaxIndexBytes     int64
}

// Series is a single named time series: a head chunk receiving new writes,
// an optional previous chunk still absorbing slightly-out-of-order writes,
// and zero or more flushed, immutable partitions.
type Series struct {
	mu   sync.Mutex
	name string
	dir  string
	log  *zap.Logger
	opts Options

	head *chunk
	prev *chunk

	partitions []*partition // ordered oldest to newest by baseSec
}

// NewSeries creates or reopens a series backed by files under dir.
func NewSeries(name, dir string, opts Options, log *zap.Logger) (*Series, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("series %s: %w", name, err)
	}
	s := &Series{name: name, dir: dir, opts: opts, log: log}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuild discovers existing partitions and chunk WALs on disk and replays
// them, restoring a series' state after a restart.
func (s *Series) rebuild() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	partitionBases := map[int64]bool{}
	var headBase, prevBase int64
	haveHead, havePrev := false, false

	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "c-") && strings.HasSuffix(name, ".log"):
			base, ok := parseBase(name, "c-", ".log")
			if ok {
				partitionBases[base] = true
			}
		case strings.HasPrefix(name, "wal-h-"):
			base, ok := parseBase(name, "wal-h-", ".log")
			if ok {
				headBase, haveHead = base, true
			}
		case strings.HasPrefix(name, "wal-t-"):
			base, ok := parseBase(name, "wal-t-", ".log")
			if ok {
				prevBase, havePrev = base, true
			}
		}
	}

	bases := make([]int64, 0, len(partitionBases))
	for b := range partitionBases {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	for _, b := range bases {
		p, err := openPartition(s.dir, b)
		if err != nil {
			return err
		}
		s.partitions = append(s.partitions, p)
	}

	if havePrev {
		c, err := s.loadChunkFromWAL('t', prevBase)
		if err != nil {
			return err
		}
		s.prev = c
	}
	if haveHead {
		c, err := s.loadChunkFromWAL('h', headBase)
		if err != nil {
			return err
		}
		s.head = c
	}
	return nil
}

func parseBase(name, prefix, suffix string) (int64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	base, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return base, true
}

func (s *Series) loadChunkFromWAL(role byte, baseSec int64) (*chunk, error) {
	w, err := openWAL(s.dir, role, baseSec)
	if err != nil {
		return nil, err
	}
	c := newChunk(role, baseSec, w)
	if err := w.replay(func(tsNS uint64, value float64) error {
		c.set(tsNS, value)
		return nil
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Insert writes a single sample, routing it to the head chunk, the previous
// chunk (for a write slightly behind the head's window), or triggering a
// head rotation / flush as needed.
func (s *Series) Insert(tsNS uint64, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, _ := splitTimestamp(tsNS)

	if s.opts.FlushSize > 0 && s.head != nil && s.head.wal.size >= uint64(s.opts.FlushSize) {
		if s.prev != nil {
			if err := s.flushChunk(s.prev); err != nil {
				return err
			}
			s.prev = nil
		}
		if err := s.flushChunk(s.head); err != nil {
			return err
		}
		s.head = nil
	}

	if s.head == nil {
		return s.initHead(sec, tsNS, value)
	}

	switch s.head.fit(sec) {
	case 0:
		if err := s.head.wal.append(tsNS, value); err != nil {
			return err
		}
		s.head.set(tsNS, value)
		return nil
	case -1:
		return s.insertOutOfOrder(sec, tsNS, value)
	case 1:
		if err := s.rotateHead(sec); err != nil {
			return err
		}
		if err := s.head.wal.append(tsNS, value); err != nil {
			return err
		}
		s.head.set(tsNS, value)
		return nil
	}
	return nil
}

// insertOutOfOrder routes a write that lands before the head's window: into
// the previous chunk if it fits there, into a flush-retained partition
// otherwise, or establishes prev if absent.
func (s *Series) insertOutOfOrder(sec int64, tsNS uint64, value float64) error {
	if s.prev != nil && s.prev.fit(sec) == 0 {
		if err := s.prev.wal.append(tsNS, value); err != nil {
			return err
		}
		s.prev.set(tsNS, value)
		return nil
	}
	if s.prev == nil {
		base := sec - (sec % chunkSpanSec)
		w, err := openWAL(s.dir, 't', base)
		if err != nil {
			return err
		}
		s.prev = newChunk('t', base, w)
		if s.prev.fit(sec) == 0 {
			if err := s.prev.wal.append(tsNS, value); err != nil {
				return err
			}
			s.prev.set(tsNS, value)
			return nil
		}
	}
	// falls outside both in-memory chunks: append directly to the
	// oldest partition's window if one covers it, otherwise drop it
	// into a synthetic single-batch partition so data is never lost.
	for _, p := range s.partitions {
		if tsNS >= p.startTS && tsNS <= p.endTS {
			return p.writeBatch([]v1.Record{{TimestampNS: tsNS, Value: value}})
		}
	}
	base := sec - (sec % chunkSpanSec)
	p, err := createPartition(s.dir, base, []v1.Record{{TimestampNS: tsNS, Value: value}})
	if err != nil {
		return err
	}
	s.addPartition(p)
	return nil
}

// rotateHead demotes the current head to prev (flushing the old prev first
// if one exists) and starts a fresh head chunk covering sec.
func (s *Series) rotateHead(sec int64) error {
	if s.prev != nil {
		if err := s.flushChunk(s.prev); err != nil {
			return err
		}
		s.prev = nil
	}
	if s.head != nil {
		if err := s.head.wal.relabel(s.dir, 't', s.head.baseOffsetSec); err != nil {
			return err
		}
		s.prev = s.head
		s.head = nil
	}
	return s.initHead(sec, 0, 0)
}

// initHead creates a fresh head chunk anchored at sec's window and, if
// tsNS is non-zero, performs the first insert into it.
func (s *Series) initHead(sec int64, tsNS uint64, value float64) error {
	base := sec - (sec % chunkSpanSec)
	w, err := openWAL(s.dir, 'h', base)
	if err != nil {
		return err
	}
	s.head = newChunk('h', base, w)
	if tsNS != 0 {
		if err := s.head.wal.append(tsNS, value); err != nil {
			return err
		}
		s.head.set(tsNS, value)
	}
	return nil
}

// flushChunk writes a chunk's records into a new partition and discards the
// chunk's WAL, evicting the oldest partition if the retention cap is hit.
func (s *Series) flushChunk(c *chunk) error {
	if c.empty() {
		if c.wal != nil {
			return c.wal.remove()
		}
		return nil
	}
	records := c.scanAll(nil)
	p, err := createPartition(s.dir, c.baseOffsetSec, records)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitPartition, err)
	}
	if err := c.wal.remove(); err != nil {
		return err
	}
	s.addPartition(p)
	return nil
}

func (s *Series) addPartition(p *partition) {
	s.partitions = append(s.partitions, p)
	sort.Slice(s.partitions, func(i, j int) bool { return s.partitions[i].baseSec < s.partitions[j].baseSec })

	if len(s.partitions) > tsMaxPartitions {
		oldest := s.partitions[0]
		s.log.Warn("evicting oldest partition past retention cap",
			zap.String("series", s.name), zap.Int64("base", oldest.baseSec))
		if err := oldest.Remove(); err != nil {
			s.log.Error("failed to remove evicted partition", zap.Error(err))
		}
		s.partitions = s.partitions[1:]
	}
}

// Find looks up an exact timestamp across the head chunk, previous chunk,
// and flushed partitions, newest first.
func (s *Series) Find(tsNS uint64) (v1.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.head != nil {
		if r, ok := s.head.find(tsNS); ok {
			return r, true
		}
	}
	if s.prev != nil {
		if r, ok := s.prev.find(tsNS); ok {
			return r, true
		}
	}
	for i := len(s.partitions) - 1; i >= 0; i-- {
		if r, ok := s.partitions[i].find(tsNS); ok {
			return r, true
		}
	}
	return v1.Record{}, false
}

// Range returns every record with a timestamp in [t0, t1], oldest to
// newest, merging flushed partitions with the in-memory chunks.
func (s *Series) Range(t0, t1 uint64) ([]v1.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t0 > t1 {
		return nil, v1.ErrInvalidRange{T0: int64(t0), T1: int64(t1)}
	}

	var out []v1.Record
	var err error
	for _, p := range s.partitions {
		out, err = p.rangeWithin(t0, t1, out)
		if err != nil {
			return nil, err
		}
	}
	if s.prev != nil {
		out = s.prev.rangeWithin(t0, t1, out)
	}
	if s.head != nil {
		out = s.head.rangeWithin(t0, t1, out)
	}
	return out, nil
}

// Scan returns every record held by the series, oldest to newest.
func (s *Series) Scan() ([]v1.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []v1.Record
	var err error
	for _, p := range s.partitions {
		out, err = p.scanAll(out)
		if err != nil {
			return nil, err
		}
	}
	if s.prev != nil {
		out = s.prev.scanAll(out)
	}
	if s.head != nil {
		out = s.head.scanAll(out)
	}
	return out, nil
}

// Stream invokes fn for every record held by the series, oldest to newest,
// without materializing the full series in memory at once.
func (s *Series) Stream(fn func(v1.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.partitions {
		n := p.index.count()
		for bi := uint64(0); bi < n; bi++ {
			_, off, err := p.index.entryAt(bi)
			if err != nil {
				return err
			}
			records, err := p.decodeBatchAt(off)
			if err != nil {
				return err
			}
			for _, r := range records {
				if err := fn(r); err != nil {
					return err
				}
			}
		}
	}
	if s.prev != nil {
		for _, r := range s.prev.scanAll(nil) {
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	if s.head != nil {
		for _, r := range s.head.scanAll(nil) {
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Series) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.head != nil {
		record(s.head.wal.Close())
	}
	if s.prev != nil {
		record(s.prev.wal.Close())
	}
	for _, p := range s.partitions {
		record(p.Close())
	}
	return firstErr
}

// Name reports the series' name.
func (s *Series) Name() string { return s.name }

func seriesDir(rootDir, dbName, seriesName string) string {
	return filepath.Join(rootDir, dbName, seriesName)
}
