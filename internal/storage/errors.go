package storage

import "errors"

var (
	// ErrWALAppend is wrapped into the error returned by Series.Insert when
	// the write-ahead log append fails.
	ErrWALAppend = errors.New("wal append failed")
	// ErrInitPartition is wrapped into the error returned when flushing a
	// chunk to a new partition fails.
	ErrInitPartition = errors.New("partition init failed")
)
