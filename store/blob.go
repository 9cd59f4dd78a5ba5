package store

import (
	"time"

	"github.com/0k-sync/relay-core/wire"
)

// Blob is a single stored ciphertext record (spec.md §3 "Stored Blob").
// The store never inspects Payload; it is opaque AEAD ciphertext plus tag.
type Blob struct {
	BlobId    wire.BlobId
	GroupId   wire.GroupId
	Cursor    wire.Cursor
	SenderId  wire.DeviceId
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Delivery records that a blob left the relay to a specific device,
// used for best-effort dedup and metrics (spec.md §3).
type Delivery struct {
	BlobId      wire.BlobId
	DeviceId    wire.DeviceId
	DeliveredAt time.Time
}
