// Package relay implements the zero-knowledge relay session engine
// (spec.md §4.5): per-connection handshake, push/pull/notify handling,
// rate limiting, resource bounds, and graceful shutdown. The relay never
// sees key material or plaintext; it persists and routes opaque
// ciphertext via the blob store and notifies peers of new cursors
// without ever inspecting payload contents.
package relay
