// Package storage implements the per-series write-ahead log, in-memory
// chunk pair (head + previous), and flushed partitions (commit log + sparse
// index) that back a time series.
package storage

import "encoding/binary"

// enc is the fixed byte order used for every on-disk integer and float
// field, mirroring the teacher's package-level binary.BigEndian convention.
var enc = binary.BigEndian
