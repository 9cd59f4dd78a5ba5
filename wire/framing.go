package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/0k-sync/relay-core/syncerr"
)

// MaxMessageSize is the default hard upper bound on a single framed
// message, enforced before any allocation (spec.md §4.1, §6).
const MaxMessageSize = 1024 * 1024

// lengthPrefixSize is the width of the framing length header.
const lengthPrefixSize = 4

// WriteFramed writes a 4-byte big-endian length prefix followed by
// payload to w. It refuses to write frames exceeding maxSize.
func WriteFramed(w io.Writer, payload []byte, maxSize uint32) error {
	if uint32(len(payload)) > maxSize {
		return syncerr.New(syncerr.KindInvalidMessage, fmt.Sprintf("frame of %d bytes exceeds max_message_size %d", len(payload), maxSize))
	}
	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFramed reads one length-prefixed message from r, rejecting declared
// lengths above maxSize before allocating a receive buffer — the read is
// the suspension point named in spec.md §5 (relay: "Framed read_message /
// write_message on streams").
func ReadFramed(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxSize {
		return nil, syncerr.New(syncerr.KindInvalidMessage, fmt.Sprintf("framed length %d exceeds max_message_size %d", n, maxSize))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
