// Package client implements the device-side sync engine: a multi-relay
// connection manager that pushes and pulls encrypted envelopes against an
// ordered list of relays, failing over to the next configured relay when
// the current one is unreachable (spec.md §4.6). The client holds the
// group's key material and is the only party in the system that ever
// sees plaintext; every relay it talks to sees only opaque ciphertext.
package client
