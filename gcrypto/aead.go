package gcrypto

import (
	"crypto/rand"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/0k-sync/relay-core/syncerr"
)

// NonceSize is the width of the extended nonce used for every AEAD
// operation in this package (spec.md §4.2: "extended-nonce ChaCha20-
// Poly1305 (192-bit random nonces, 128-bit tag)").
const NonceSize = chacha20poly1305.NonceSizeX

// Sealed is a ciphertext plus the fresh nonce that produced it. The
// relay only ever sees Sealed.Nonce and Sealed.Ciphertext inside an
// Envelope.Payload; it never sees the key.
type Sealed struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

// sealWith encrypts plaintext under key with a fresh CSPRNG nonce. No
// nonce counter is used anywhere in this package — every call generates
// new random bytes, per spec.md §4.2 ("fresh CSPRNG bytes per message;
// no counter, no reuse").
func sealWith(key []byte, plaintext, aad []byte) (Sealed, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Sealed{}, err
	}
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sealWith",
			"package":  "gcrypto",
			"error":    err.Error(),
		}).Error("failed to generate AEAD nonce")
		return Sealed{}, err
	}
	ct := aead.Seal(nil, nonce[:], plaintext, aad)
	return Sealed{Nonce: nonce, Ciphertext: ct}, nil
}

// openWith decrypts a Sealed value under key. Any failure — tag
// mismatch, malformed nonce, or key mismatch — surfaces as the single
// opaque syncerr.ErrDecryptionFailed, never distinguishing cause
// (spec.md §4.2, §7).
func openWith(key []byte, s Sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, syncerr.ErrDecryptionFailed
	}
	pt, err := aead.Open(nil, s.Nonce[:], s.Ciphertext, aad)
	if err != nil {
		return nil, syncerr.ErrDecryptionFailed
	}
	return pt, nil
}

// EncryptWithGroupKey encrypts plaintext for transit inside an
// Envelope.Payload under the group's AEAD key.
func EncryptWithGroupKey(key *GroupKey, plaintext []byte) (Sealed, error) {
	return sealWith(key.Bytes(), plaintext, nil)
}

// DecryptWithGroupKey reverses EncryptWithGroupKey. Every decryption
// verifies the tag before returning plaintext (spec.md §4.2).
func DecryptWithGroupKey(key *GroupKey, s Sealed) ([]byte, error) {
	return openWith(key.Bytes(), s, nil)
}

// EncryptWithContentKey encrypts plaintext for the large-content,
// encrypt-then-hash pipeline (spec.md §4.2, §4.7).
func EncryptWithContentKey(key *ContentKey, plaintext []byte) (Sealed, error) {
	return sealWith(key.Bytes(), plaintext, nil)
}

// DecryptWithContentKey reverses EncryptWithContentKey.
func DecryptWithContentKey(key *ContentKey, s Sealed) ([]byte, error) {
	return openWith(key.Bytes(), s, nil)
}

// EncodePayload packs a Sealed value into the flat byte slice an
// Envelope carries as Payload: [nonce(24)][ciphertext+tag].
func (s Sealed) EncodePayload() []byte {
	out := make([]byte, NonceSize+len(s.Ciphertext))
	copy(out, s.Nonce[:])
	copy(out[NonceSize:], s.Ciphertext)
	return out
}

// DecodePayload parses an Envelope.Payload back into a Sealed value.
func DecodePayload(payload []byte) (Sealed, error) {
	if len(payload) < NonceSize {
		return Sealed{}, syncerr.ErrDecryptionFailed
	}
	var s Sealed
	copy(s.Nonce[:], payload[:NonceSize])
	s.Ciphertext = payload[NonceSize:]
	return s, nil
}
