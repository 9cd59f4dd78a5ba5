package content

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/0k-sync/relay-core/client"
	"github.com/0k-sync/relay-core/gcrypto"
	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/wire"
)

// MaxContentSize is the hard upper bound on a single large-content
// transfer this package will attempt, independent of any relay's own
// max_blob_size (spec.md §4.7).
const MaxContentSize = 100 * 1024 * 1024

// DefaultChunkSize is used when a caller doesn't know the target relay's
// max_blob_size ahead of time: Send uses it when chunkSize is zero or
// negative, and otherwise uses the caller's chunkSize as given.
const DefaultChunkSize = 192 * 1024

// pusher is the subset of *client.Client that Send needs, letting tests
// exercise the chunking/reassembly logic against a fake.
type pusher interface {
	Push(ctx context.Context, plaintext []byte) (wire.BlobId, wire.Cursor, error)
}

var _ pusher = (*client.Client)(nil)

// Send seals plaintext under a fresh per-blob content key, splits the
// ciphertext into chunkSize pieces, pushes each chunk as its own
// envelope, and finally pushes a Manifest pointing at them in order
// (spec.md §4.7: "content above max_blob_size is chunked and reassembled
// by the receiver; the relay never sees that the chunks are related").
// plaintext at or under chunkSize still goes through this same path for
// a uniform single code path; callers free to skip content entirely for
// small messages by calling client.Push directly instead.
func Send(ctx context.Context, p pusher, secret *gcrypto.GroupSecret, plaintext []byte, mime string, chunkSize int) (Manifest, error) {
	if len(plaintext) > MaxContentSize {
		return Manifest{}, syncerr.New(syncerr.KindBlobTooLarge, "content exceeds MaxContentSize")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	blobID := wire.NewBlobId()
	ref, sealed, err := gcrypto.SealContent(secret, blobID, plaintext, mime)
	if err != nil {
		return Manifest{}, err
	}

	chunks := splitChunks(sealed.Ciphertext, chunkSize)
	chunkBlobIds := make([]wire.BlobId, 0, len(chunks))
	for i, chunk := range chunks {
		chunkBlobID, _, err := p.Push(ctx, chunk)
		if err != nil {
			return Manifest{}, syncerr.Wrap(syncerr.KindInternal, "push content chunk", err)
		}
		chunkBlobIds = append(chunkBlobIds, chunkBlobID)
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"content":  ref.BlobId.Prefix(),
			"chunk":    i,
			"of":       len(chunks),
		}).Debug("pushed content chunk")
	}

	manifest := Manifest{Ref: ref, ChunkBlobIds: chunkBlobIds}
	encoded, err := manifest.Encode()
	if err != nil {
		return Manifest{}, err
	}
	if _, _, err := p.Push(ctx, encoded); err != nil {
		return Manifest{}, syncerr.Wrap(syncerr.KindInternal, "push content manifest", err)
	}

	return manifest, nil
}

func splitChunks(data []byte, chunkSize int) [][]byte {
	if len(data) == 0 {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}
