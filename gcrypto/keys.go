package gcrypto

import "fmt"

// KeySize is the width, in bytes, of every symmetric key this package
// produces or consumes.
const KeySize = 32

// SaltSize is the width of the per-group passphrase salt (spec.md §3).
const SaltSize = 16

// redacted is the fixed diagnostic placeholder every key carrier prints
// instead of its contents, regardless of the formatting verb used
// (spec.md §3 invariant 6).
const redacted = "<redacted>"

// GroupSecret is the 32-byte root keying material for a sync group,
// produced either randomly or via passphrase-based derivation (Derive).
// It zeroizes on Drop and never reveals its bytes through String, %v, %x
// or any other fmt verb.
type GroupSecret struct {
	b [KeySize]byte
}

// GroupKey is the 32-byte AEAD key expanded from a GroupSecret with the
// "group-encryption-v1" label.
type GroupKey struct {
	b [KeySize]byte
}

// AuthKey is the 32-byte key expanded from a GroupSecret with the
// "group-auth-v1" label. It is reserved: the expansion slot exists, but
// whether it is ever used for explicit message authentication beyond AEAD
// is left open by spec.md §9; this implementation derives it but does not
// wire it into any operation.
type AuthKey struct {
	b [KeySize]byte
}

// ContentKey is the 32-byte AEAD key expanded per-blob for large content
// transfer (spec.md §4.2, §4.7).
type ContentKey struct {
	b [KeySize]byte
}

func newGroupSecret(b []byte) GroupSecret {
	var s GroupSecret
	copy(s.b[:], b)
	return s
}

// Bytes exposes the raw key material for use by the AEAD layer. Callers
// must not retain the returned slice past the carrier's lifetime; prefer
// passing the carrier itself through this package's functions.
func (s *GroupSecret) Bytes() []byte { return s.b[:] }
func (k *GroupKey) Bytes() []byte    { return k.b[:] }
func (k *AuthKey) Bytes() []byte     { return k.b[:] }
func (k *ContentKey) Bytes() []byte  { return k.b[:] }

// Drop zeroizes the key material. Safe to call multiple times.
func (s *GroupSecret) Drop() { ZeroBytes(s.b[:]) }
func (k *GroupKey) Drop()    { ZeroBytes(k.b[:]) }
func (k *AuthKey) Drop()     { ZeroBytes(k.b[:]) }
func (k *ContentKey) Drop()  { ZeroBytes(k.b[:]) }

func (GroupSecret) String() string { return redacted }
func (GroupKey) String() string    { return redacted }
func (AuthKey) String() string     { return redacted }
func (ContentKey) String() string  { return redacted }

func (s GroupSecret) Format(f fmt.State, verb rune) { fmt.Fprint(f, redacted) }
func (k GroupKey) Format(f fmt.State, verb rune)    { fmt.Fprint(f, redacted) }
func (k AuthKey) Format(f fmt.State, verb rune)     { fmt.Fprint(f, redacted) }
func (k ContentKey) Format(f fmt.State, verb rune)  { fmt.Fprint(f, redacted) }
