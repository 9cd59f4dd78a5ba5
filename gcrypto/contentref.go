package gcrypto

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/wire"
)

// contentHashSize is the width of ContentRef.ContentHash: an unkeyed
// BLAKE2b-256 digest of the ciphertext (spec.md §4.7: "encrypt-then-hash";
// the hash commits to what was actually stored, not to the plaintext).
const contentHashSize = 32

// ContentRef is the small, relay-visible descriptor for a large blob
// transferred out of band from the main envelope stream (spec.md §4.2,
// §4.7). It never carries plaintext or key material, but its ContentHash
// and Nonce still commit to a specific ciphertext and so are redacted from
// diagnostic output the same way key material is, even though neither
// field is itself secret (spec.md §4.7: "ContentRef's diagnostic output
// redacts content_hash and nonce").
type ContentRef struct {
	BlobId      wire.BlobId
	ContentHash [contentHashSize]byte
	Nonce       [NonceSize]byte
	SizeCT      uint64
	Mime        string
}

// SealContent runs the encrypt-then-hash pipeline for large content
// transfer: derive a per-blob ContentKey, seal the plaintext under it, and
// hash the resulting ciphertext to produce the ContentRef the relay will
// store and distribute (spec.md §4.7). The caller is responsible for
// persisting the returned Sealed.Ciphertext under BlobId and for the
// max_blob_size / chunking decision (content package).
func SealContent(secret *GroupSecret, blobID wire.BlobId, plaintext []byte, mime string) (ContentRef, Sealed, error) {
	key, err := DeriveContentKey(secret, blobID[:])
	if err != nil {
		return ContentRef{}, Sealed{}, err
	}
	defer key.Drop()

	sealed, err := EncryptWithContentKey(&key, plaintext)
	if err != nil {
		return ContentRef{}, Sealed{}, err
	}

	hash := blake2b.Sum256(sealed.Ciphertext)

	ref := ContentRef{
		BlobId:      blobID,
		ContentHash: hash,
		Nonce:       sealed.Nonce,
		SizeCT:      uint64(len(sealed.Ciphertext)),
		Mime:        mime,
	}
	return ref, sealed, nil
}

// OpenContent reverses SealContent: it re-derives the per-blob ContentKey,
// verifies the stored ciphertext's hash matches ref.ContentHash, and
// decrypts. A hash mismatch is treated the same as a decryption failure —
// spec.md §4.2/§4.7 draw no distinction between "tampered ciphertext" and
// "wrong key" in what a caller observes.
func OpenContent(secret *GroupSecret, ref ContentRef, ciphertext []byte) ([]byte, error) {
	if blake2b.Sum256(ciphertext) != ref.ContentHash {
		return nil, syncerr.ErrDecryptionFailed
	}

	key, err := DeriveContentKey(secret, ref.BlobId[:])
	if err != nil {
		return nil, err
	}
	defer key.Drop()

	sealed := Sealed{Nonce: ref.Nonce, Ciphertext: ciphertext}
	return DecryptWithContentKey(&key, sealed)
}

// String renders a ContentRef for logs with its hash and nonce redacted,
// keeping BlobId, SizeCT, and Mime visible (those are not sensitive and
// are useful for correlating log lines with store/relay diagnostics).
func (r ContentRef) String() string {
	return fmt.Sprintf("ContentRef{blob_id:%s, content_hash:%s, nonce:%s, size_ct:%d, mime:%q}",
		r.BlobId.Prefix(), redacted, redacted, r.SizeCT, r.Mime)
}

// Format ensures every fmt verb (%v, %+v, %#v, %x, ...) goes through the
// redacted String rendering rather than exposing the struct's raw fields.
func (r ContentRef) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, r.String())
}
