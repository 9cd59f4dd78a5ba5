// Package wire implements the sync protocol's wire format: identifier types,
// the outer Envelope record, the inner Message taxonomy, and length-prefixed
// framing for the relay and client engines built on top of it.
//
// Nothing in this package touches the network or a key carrier directly —
// it only knows how to turn Go values into bytes and back, and how to
// reject malformed or oversized input before allocating for it.
package wire
