package content

import (
	"bytes"
	"encoding/gob"

	"github.com/0k-sync/relay-core/gcrypto"
	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/wire"
)

// manifestWireTag prefixes an encoded Manifest so IsManifest and
// DecodeManifest can tell a
// manifest envelope apart from an ordinary chat-sized message sharing
// the same push/pull stream (spec.md §4.7: manifests and small messages
// are indistinguishable to the relay but a receiving client must be able
// to tell them apart after decryption).
var manifestWireTag = [4]byte{'C', 'M', 'F', '1'}

// Manifest is the small pointer record a sender pushes after all of a
// large content's chunks have been pushed. It carries everything a
// receiver needs to fetch the chunks in order and verify + decrypt the
// reassembled ciphertext.
type Manifest struct {
	Ref          gcrypto.ContentRef
	ChunkBlobIds []wire.BlobId
}

type gobManifest struct {
	Ref          gcrypto.ContentRef
	ChunkBlobIds []wire.BlobId
}

// Encode serializes a Manifest to the bytes that get pushed as an
// envelope's plaintext (gcrypto/client still wrap it in the usual AEAD
// envelope encryption — this package never handles raw transport bytes).
func (m Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(manifestWireTag[:])
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(gobManifest{Ref: m.Ref, ChunkBlobIds: m.ChunkBlobIds}); err != nil {
		return nil, syncerr.Wrap(syncerr.KindInvalidMessage, "encode content manifest", err)
	}
	return buf.Bytes(), nil
}

// IsManifest reports whether a decrypted envelope plaintext is a content
// manifest rather than an ordinary message.
func IsManifest(plaintext []byte) bool {
	return len(plaintext) >= len(manifestWireTag) && bytes.Equal(plaintext[:len(manifestWireTag)], manifestWireTag[:])
}

// DecodeManifest parses a manifest previously produced by Encode.
func DecodeManifest(plaintext []byte) (Manifest, error) {
	if !IsManifest(plaintext) {
		return Manifest{}, syncerr.New(syncerr.KindInvalidMessage, "not a content manifest")
	}
	dec := gob.NewDecoder(bytes.NewReader(plaintext[len(manifestWireTag):]))
	var gm gobManifest
	if err := dec.Decode(&gm); err != nil {
		return Manifest{}, syncerr.Wrap(syncerr.KindInvalidMessage, "decode content manifest", err)
	}
	return Manifest{Ref: gm.Ref, ChunkBlobIds: gm.ChunkBlobIds}, nil
}
