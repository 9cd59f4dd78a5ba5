package wire

import (
	"fmt"

	"github.com/0k-sync/relay-core/syncerr"
)

// CurrentVersion is the only Envelope schema version this implementation
// produces or accepts. Receivers MUST fail with UnsupportedVersion on any
// mismatch — no silent upgrade or downgrade (spec.md §4.1).
const CurrentVersion uint8 = 1

// Envelope is the outer wire record. Payload is opaque AEAD ciphertext the
// relay never inspects; Timestamp is advisory only and must never be used
// for ordering (spec.md §3, §4.1).
type Envelope struct {
	Version   uint8
	Sender    DeviceId
	Group     GroupId
	Blob      BlobId
	Timestamp int64
	Payload   []byte
}

// NewEnvelope builds an Envelope at CurrentVersion.
func NewEnvelope(sender DeviceId, group GroupId, blob BlobId, timestampMillis int64, payload []byte) Envelope {
	return Envelope{
		Version:   CurrentVersion,
		Sender:    sender,
		Group:     group,
		Blob:      blob,
		Timestamp: timestampMillis,
		Payload:   payload,
	}
}

// Encode serializes the Envelope into the compact binary wire format.
func (e Envelope) Encode() []byte {
	enc := &encoder{}
	enc.u8(e.Version)
	enc.fixed(e.Sender[:])
	enc.fixed(e.Group[:])
	enc.fixed(e.Blob[:])
	enc.i64(e.Timestamp)
	enc.bytes(e.Payload)
	return enc.buf
}

// DecodeEnvelope parses an Envelope from the compact binary wire format,
// rejecting unsupported versions and oversized declared payload lengths
// before allocating for them.
func DecodeEnvelope(b []byte) (Envelope, error) {
	d := newDecoder(b)
	var e Envelope
	var err error

	if e.Version, err = d.u8(); err != nil {
		return Envelope{}, err
	}
	if e.Version != CurrentVersion {
		return Envelope{}, syncerr.New(syncerr.KindUnsupportedVersion,
			fmt.Sprintf("envelope version %d not supported (expected %d)", e.Version, CurrentVersion))
	}

	senderBytes, err := d.fixed(len(e.Sender))
	if err != nil {
		return Envelope{}, err
	}
	copy(e.Sender[:], senderBytes)

	groupBytes, err := d.fixed(len(e.Group))
	if err != nil {
		return Envelope{}, err
	}
	copy(e.Group[:], groupBytes)

	blobBytes, err := d.fixed(len(e.Blob))
	if err != nil {
		return Envelope{}, err
	}
	copy(e.Blob[:], blobBytes)

	if e.Timestamp, err = d.i64(); err != nil {
		return Envelope{}, err
	}
	if e.Payload, err = d.bytes(); err != nil {
		return Envelope{}, err
	}
	if !d.atEnd() {
		return Envelope{}, syncerr.New(syncerr.KindInvalidMessage, "trailing bytes after envelope")
	}
	return e, nil
}
