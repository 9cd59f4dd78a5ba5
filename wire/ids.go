package wire

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DeviceId is a 32-byte identifier randomly generated per device install.
type DeviceId [32]byte

// GroupId is a 32-byte identifier deterministically derived from the
// group secret; devices in the same group compute identical values.
type GroupId [32]byte

// BlobId is a 16-byte UUID generated by the pushing client.
type BlobId [16]byte

// Cursor is a monotonic, per-group sequence number assigned by the relay.
// Cursor 0 is a sentinel meaning "before any blob".
type Cursor uint64

// NoCursor is the sentinel value meaning "before any blob has been assigned".
const NoCursor Cursor = 0

// NewDeviceId generates a fresh, random device identifier.
func NewDeviceId() (DeviceId, error) {
	var id DeviceId
	if _, err := rand.Read(id[:]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewDeviceId",
			"package":  "wire",
			"error":    err.Error(),
		}).Error("failed to generate device id")
		return DeviceId{}, err
	}
	return id, nil
}

// NewBlobId generates a fresh, random blob identifier (UUID v4 layout).
func NewBlobId() BlobId {
	var id BlobId
	copy(id[:], uuid.New()[:])
	return id
}

func (d DeviceId) String() string { return hex.EncodeToString(d[:]) }
func (g GroupId) String() string  { return hex.EncodeToString(g[:]) }
func (b BlobId) String() string   { return hex.EncodeToString(b[:]) }

// Prefix returns a short hex preview suitable for logging, never the full
// identifier, matching the relay's log redaction rule (spec.md §4.5).
func (d DeviceId) Prefix() string { return hex.EncodeToString(d[:4]) }
func (g GroupId) Prefix() string  { return hex.EncodeToString(g[:4]) }
func (b BlobId) Prefix() string   { return hex.EncodeToString(b[:4]) }

// DeviceIdFromBytes validates and wraps a 32-byte device identifier.
func DeviceIdFromBytes(b []byte) (DeviceId, error) {
	var id DeviceId
	if len(b) != len(id) {
		return DeviceId{}, errors.New("device id must be 32 bytes")
	}
	copy(id[:], b)
	return id, nil
}

// GroupIdFromBytes validates and wraps a 32-byte group identifier.
func GroupIdFromBytes(b []byte) (GroupId, error) {
	var id GroupId
	if len(b) != len(id) {
		return GroupId{}, errors.New("group id must be 32 bytes")
	}
	copy(id[:], b)
	return id, nil
}

// BlobIdFromBytes validates and wraps a 16-byte blob identifier.
func BlobIdFromBytes(b []byte) (BlobId, error) {
	var id BlobId
	if len(b) != len(id) {
		return BlobId{}, errors.New("blob id must be 16 bytes")
	}
	copy(id[:], b)
	return id, nil
}
