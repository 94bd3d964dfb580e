// Package v1 holds the wire-level value types shared between the storage
// engine, the query executor, and the client codec.
package v1

// Record is a single time-series sample.
type Record struct {
	TimestampNS uint64
	Value       float64
}
