package content

import (
	"bytes"

	"github.com/0k-sync/relay-core/gcrypto"
	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/wire"
)

// Receiver buffers pulled chunk envelopes by blob id until the manifest
// that references them arrives, then reassembles and verifies the
// original content. A receiver only needs to retain chunks whose content
// it hasn't reassembled yet — Forget lets a caller drop a manifest's
// chunks once reassembly is done or abandoned, bounding memory use.
type Receiver struct {
	chunks map[wire.BlobId][]byte
}

// NewReceiver returns an empty Receiver.
func NewReceiver() *Receiver {
	return &Receiver{chunks: make(map[wire.BlobId][]byte)}
}

// ObserveChunk records a pulled envelope's plaintext as a candidate
// content chunk, keyed by the blob id the relay/client assigned it. Call
// this for every pulled message that IsManifest reports false for.
func (r *Receiver) ObserveChunk(blobID wire.BlobId, plaintext []byte) {
	r.chunks[blobID] = plaintext
}

// Reassemble resolves a Manifest against previously observed chunks,
// verifies the reassembled ciphertext's hash, and decrypts it. It
// returns syncerr.KindNotConnected-free ErrMissingChunks if any
// referenced chunk hasn't been observed yet — the caller should keep
// pulling and retry.
func (r *Receiver) Reassemble(secret *gcrypto.GroupSecret, m Manifest) ([]byte, error) {
	var buf bytes.Buffer
	for _, id := range m.ChunkBlobIds {
		chunk, ok := r.chunks[id]
		if !ok {
			return nil, ErrMissingChunks
		}
		buf.Write(chunk)
	}

	plaintext, err := gcrypto.OpenContent(secret, m.Ref, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Forget drops every chunk a Manifest references, whether or not
// reassembly succeeded.
func (r *Receiver) Forget(m Manifest) {
	for _, id := range m.ChunkBlobIds {
		delete(r.chunks, id)
	}
}

// ErrMissingChunks is returned by Reassemble when one or more of a
// manifest's referenced chunks have not yet been observed.
var ErrMissingChunks = syncerr.New(syncerr.KindInvalidMessage, "content manifest references unobserved chunks")
