package storage

import (
	v1 "github.com/mrshabel/chronodb/api/v1"
)

const (
	// bucketsPerChunk covers 15 minutes of seconds.
	bucketsPerChunk = 900
	// linearThreshold is the bucket size below which find/insert use a
	// linear scan instead of a binary search.
	linearThreshold = 192
)

// chunk is a fixed array of bucketsPerChunk record buckets anchored at
// baseOffsetSec. The head chunk receives the newest writes; the previous
// chunk, when present, holds an older window still unflushed.
type chunk struct {
	role          byte // 'h' or 't'
	baseOffsetSec int64
	startTS       uint64
	endTS         uint64
	maxIndex      int // highest touched bucket, -1 when empty
	buckets       [bucketsPerChunk][]v1.Record
	wal           *wal
}

func newChunk(role byte, baseSec int64, w *wal) *chunk {
	return &chunk{role: role, baseOffsetSec: baseSec, maxIndex: -1, wal: w}
}

func (c *chunk) empty() bool {
	return c == nil || c.maxIndex < 0
}

// fit reports whether sec lies before (-1), within (0), or beyond (+1) this
// chunk's [baseOffsetSec, baseOffsetSec+bucketsPerChunk) window.
func (c *chunk) fit(sec int64) int {
	switch {
	case sec < c.baseOffsetSec:
		return -1
	case sec >= c.baseOffsetSec+bucketsPerChunk:
		return 1
	default:
		return 0
	}
}

// set inserts a record into the bucket for its whole-second part, keeping
// the bucket ordered by timestamp. Assumes fit(sec) == 0 for this chunk.
func (c *chunk) set(tsNS uint64, value float64) {
	sec, _ := splitTimestamp(tsNS)
	idx := int(sec - c.baseOffsetSec)
	if idx < 0 || idx >= bucketsPerChunk {
		return
	}
	if idx > c.maxIndex {
		c.maxIndex = idx
	}

	rec := v1.Record{TimestampNS: tsNS, Value: value}
	bucket := c.buckets[idx]
	if len(bucket) == 0 || tsNS >= bucket[len(bucket)-1].TimestampNS {
		c.buckets[idx] = append(bucket, rec)
	} else {
		pos := searchInsertPos(bucket, tsNS)
		bucket = append(bucket, v1.Record{})
		copy(bucket[pos+1:], bucket[pos:])
		bucket[pos] = rec
		c.buckets[idx] = bucket
	}
	c.updateBounds(tsNS)
}

func (c *chunk) updateBounds(tsNS uint64) {
	if c.startTS == 0 || tsNS < c.startTS {
		c.startTS = tsNS
	}
	if tsNS > c.endTS {
		c.endTS = tsNS
	}
}

// searchInsertPos returns the position at which tsNS should land to keep
// bucket ordered, linear scan below linearThreshold, binary search above.
func searchInsertPos(bucket []v1.Record, tsNS uint64) int {
	if len(bucket) < linearThreshold {
		i := 0
		for ; i < len(bucket); i++ {
			if bucket[i].TimestampNS > tsNS {
				break
			}
		}
		return i
	}
	lo, hi := 0, len(bucket)
	for lo < hi {
		mid := (lo + hi) / 2
		if bucket[mid].TimestampNS <= tsNS {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// find looks up an exact timestamp within this chunk.
func (c *chunk) find(tsNS uint64) (v1.Record, bool) {
	sec, _ := splitTimestamp(tsNS)
	idx := int(sec - c.baseOffsetSec)
	if idx < 0 || idx > c.maxIndex || idx >= bucketsPerChunk {
		return v1.Record{}, false
	}
	bucket := c.buckets[idx]
	if len(bucket) < linearThreshold {
		for _, r := range bucket {
			if r.TimestampNS == tsNS {
				return r, true
			}
		}
		return v1.Record{}, false
	}
	lo, hi := 0, len(bucket)
	for lo < hi {
		mid := (lo + hi) / 2
		if bucket[mid].TimestampNS < tsNS {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(bucket) && bucket[lo].TimestampNS == tsNS {
		return bucket[lo], true
	}
	return v1.Record{}, false
}

// rangeWithin appends every record in [t0, t1] held by this chunk to dst,
// oldest to newest.
func (c *chunk) rangeWithin(t0, t1 uint64, dst []v1.Record) []v1.Record {
	if c.empty() {
		return dst
	}
	sec0, _ := splitTimestamp(t0)
	sec1, _ := splitTimestamp(t1)

	start := int(sec0 - c.baseOffsetSec)
	if start < 0 {
		start = 0
	}
	end := int(sec1 - c.baseOffsetSec)
	if end > c.maxIndex {
		end = c.maxIndex
	}
	for i := start; i <= end && i < bucketsPerChunk; i++ {
		for _, r := range c.buckets[i] {
			if r.TimestampNS >= t0 && r.TimestampNS <= t1 {
				dst = append(dst, r)
			}
		}
	}
	return dst
}

// scanAll appends every record in this chunk to dst, oldest to newest.
func (c *chunk) scanAll(dst []v1.Record) []v1.Record {
	if c.empty() {
		return dst
	}
	for i := 0; i <= c.maxIndex && i < bucketsPerChunk; i++ {
		dst = append(dst, c.buckets[i]...)
	}
	return dst
}

// splitTimestamp separates a nanosecond epoch timestamp into its
// whole-second part and nanosecond remainder.
func splitTimestamp(tsNS uint64) (sec int64, nsec int64) {
	const nsPerSec = 1_000_000_000
	return int64(tsNS / nsPerSec), int64(tsNS % nsPerSec)
}
