// Package transport defines the duplex-stream provider abstraction the
// relay session engine and client engine are built against (spec.md §6):
// authenticated endpoint identity, confidential integrity-protected byte
// streams, and multiple bidirectional streams per connection. These
// properties are satisfied by modern QUIC+TLS; transport.go defines the
// interface, quic.go is a reference implementation over quic-go, and
// mock.go is an in-memory implementation used to exercise the relay and
// client engines in tests with no network (spec.md §9).
package transport
