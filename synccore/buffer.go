package synccore

import (
	"github.com/sirupsen/logrus"
)

// DefaultMaxBufferedMessages and DefaultMaxBufferedBytes are conservative
// ceilings for a client with no reachable relay; they bound memory growth
// during an extended outage rather than modeling any protocol limit.
const (
	DefaultMaxBufferedMessages = 4096
	DefaultMaxBufferedBytes    = 16 * 1024 * 1024
)

// MessageBuffer is a bounded FIFO of pending outbound wire frames. It
// enforces both a count ceiling and a byte-size ceiling; pushing past
// either ceiling drops the newest message rather than evicting older,
// already-ordered ones (spec.md §4.3). It performs no I/O of its own —
// the client engine drains it against a live connection.
type MessageBuffer struct {
	maxCount int
	maxBytes int
	queue    [][]byte
	bytes    int
}

// NewMessageBuffer constructs a MessageBuffer with the given ceilings. A
// non-positive value selects the package default for that ceiling.
func NewMessageBuffer(maxCount, maxBytes int) *MessageBuffer {
	if maxCount <= 0 {
		maxCount = DefaultMaxBufferedMessages
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferedBytes
	}
	return &MessageBuffer{maxCount: maxCount, maxBytes: maxBytes}
}

// Push enqueues a framed message. It reports false and drops the message
// if enqueuing it would exceed either ceiling, logging a diagnostic event
// rather than failing silently.
func (b *MessageBuffer) Push(frame []byte) bool {
	if len(b.queue)+1 > b.maxCount || b.bytes+len(frame) > b.maxBytes {
		logrus.WithFields(logrus.Fields{
			"package":     "synccore",
			"queue_len":   len(b.queue),
			"queue_bytes": b.bytes,
			"frame_bytes": len(frame),
		}).Warn("dropping outbound message: buffer at capacity")
		return false
	}
	b.queue = append(b.queue, frame)
	b.bytes += len(frame)
	return true
}

// Pop removes and returns the oldest buffered frame, or false if empty.
func (b *MessageBuffer) Pop() ([]byte, bool) {
	if len(b.queue) == 0 {
		return nil, false
	}
	frame := b.queue[0]
	b.queue = b.queue[1:]
	b.bytes -= len(frame)
	return frame, true
}

// Len reports the number of buffered messages.
func (b *MessageBuffer) Len() int { return len(b.queue) }

// Bytes reports the total buffered byte size.
func (b *MessageBuffer) Bytes() int { return b.bytes }
