// Package store implements the relay's durable blob store: an ordered,
// TTL-bounded ciphertext buffer backed by an embedded SQL engine
// (modernc.org/sqlite, pure Go, no cgo). It owns the single critical
// algorithm in the relay — atomic, per-group monotonic cursor assignment
// — plus delivery tracking, quota accounting, and batch TTL cleanup
// (spec.md §4.4).
package store
