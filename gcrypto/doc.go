// Package gcrypto implements the sync group's cryptography: the
// memory-hard passphrase-based group-secret derivation, the labeled key
// hierarchy expanded from it, AEAD encryption of envelope payloads, and
// the encrypt-then-hash content-addressing scheme used for large content
// transfer. It is named gcrypto (not crypto) only to avoid shadowing the
// standard library package of that name.
//
// Every sensitive key carrier in this package zeroizes on Drop and
// redacts itself in diagnostic output (spec.md §3 invariant 6, §4.2,
// §4.9 "zeroizing key carriers"). Callers MUST call Drop when a secret
// is no longer needed; this package does not rely on garbage-collector
// scrubbing.
package gcrypto
