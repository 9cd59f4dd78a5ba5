package wire

import (
	"fmt"
	"unicode/utf8"

	"github.com/0k-sync/relay-core/syncerr"
)

// MaxDeviceNameBytes bounds Hello.DeviceName; longer names are truncated
// at a UTF-8-safe boundary rather than rejected (spec.md §3, §4.5).
const MaxDeviceNameBytes = 256

// MessageType tags the inner logical record carried in a Push envelope's
// payload, or exchanged unencrypted for handshake/control traffic.
type MessageType uint8

const (
	MessageHello MessageType = iota + 1
	MessageWelcome
	MessagePush
	MessagePushAck
	MessagePull
	MessagePullResponse
	MessageNotify
	MessageBye
	MessageProtocolError
)

func (t MessageType) String() string {
	switch t {
	case MessageHello:
		return "Hello"
	case MessageWelcome:
		return "Welcome"
	case MessagePush:
		return "Push"
	case MessagePushAck:
		return "PushAck"
	case MessagePull:
		return "Pull"
	case MessagePullResponse:
		return "PullResponse"
	case MessageNotify:
		return "Notify"
	case MessageBye:
		return "Bye"
	case MessageProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// ErrorKind classifies a ProtocolError for programmatic handling, distinct
// from syncerr.Kind: only the subset of client-caused faults the relay
// reports back over the wire gets a tag here (spec.md §4.5, §7:
// "client-caused errors ... return ProtocolError variants to client;
// session continues unless structurally broken").
type ErrorKind uint8

const (
	ErrorKindUnspecified ErrorKind = iota
	ErrorKindBlobTooLarge
	ErrorKindQuotaExceeded
	ErrorKindRateLimited
	ErrorKindUnsupportedVersion
	ErrorKindInvalidMessage
)

// Message is implemented by every inner protocol record.
type Message interface {
	Type() MessageType
	encodeBody(*encoder)
}

// Hello is sent once by a newly accepted connection to begin the handshake.
type Hello struct {
	DeviceId   DeviceId
	DeviceName string
	GroupId    GroupId
}

// Welcome is the relay's handshake reply.
type Welcome struct {
	AssignedCursor Cursor
	ServerTime     int64
	MaxBlobSize    uint32
}

// Push carries an encrypted user payload from client to relay.
type Push struct {
	Envelope Envelope
}

// PushAck confirms a push and reports the cursor the relay assigned it.
type PushAck struct {
	BlobId         BlobId
	AssignedCursor Cursor
}

// Pull requests envelopes after a cursor, up to limit.
type Pull struct {
	AfterCursor Cursor
	Limit       uint32
}

// PullResponse returns a batch of envelopes plus continuation state.
type PullResponse struct {
	Envelopes  []Envelope
	NextCursor Cursor
	More       bool
}

// Notify is a server-initiated push-side-effect telling other active
// sessions in a group that a new cursor was assigned. Notify arrival order
// is not authoritative; see spec.md §5.
type Notify struct {
	GroupId   GroupId
	NewCursor Cursor
}

// Bye signals a graceful close from either side.
type Bye struct{}

// ProtocolError reports a client-caused fault back to the sender. The
// session continues after sending one unless the connection is
// structurally broken (malformed frame, handshake failure); an
// UnsupportedVersion error is also followed by the relay closing the
// session.
type ProtocolError struct {
	Kind   ErrorKind
	Reason string
}

func (Hello) Type() MessageType         { return MessageHello }
func (Welcome) Type() MessageType       { return MessageWelcome }
func (Push) Type() MessageType          { return MessagePush }
func (PushAck) Type() MessageType       { return MessagePushAck }
func (Pull) Type() MessageType          { return MessagePull }
func (PullResponse) Type() MessageType  { return MessagePullResponse }
func (Notify) Type() MessageType        { return MessageNotify }
func (Bye) Type() MessageType           { return MessageBye }
func (ProtocolError) Type() MessageType { return MessageProtocolError }

// TruncateDeviceName truncates a device name to MaxDeviceNameBytes at a
// UTF-8 rune boundary, matching the relay's handshake validation
// (spec.md §4.5: "truncates to 256 bytes at the relay, preserving UTF-8
// boundaries").
func TruncateDeviceName(name string) string {
	if len(name) <= MaxDeviceNameBytes {
		return name
	}
	b := []byte(name)[:MaxDeviceNameBytes]
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func (h Hello) encodeBody(e *encoder) {
	e.fixed(h.DeviceId[:])
	e.bytes([]byte(TruncateDeviceName(h.DeviceName)))
	e.fixed(h.GroupId[:])
}

func (w Welcome) encodeBody(e *encoder) {
	e.u64(uint64(w.AssignedCursor))
	e.i64(w.ServerTime)
	e.u32(w.MaxBlobSize)
}

func (p Push) encodeBody(e *encoder) {
	e.bytes(p.Envelope.Encode())
}

func (p PushAck) encodeBody(e *encoder) {
	e.fixed(p.BlobId[:])
	e.u64(uint64(p.AssignedCursor))
}

func (p Pull) encodeBody(e *encoder) {
	e.u64(uint64(p.AfterCursor))
	e.u32(p.Limit)
}

func (p PullResponse) encodeBody(e *encoder) {
	e.u32(uint32(len(p.Envelopes)))
	for _, env := range p.Envelopes {
		e.bytes(env.Encode())
	}
	e.u64(uint64(p.NextCursor))
	e.bool(p.More)
}

func (n Notify) encodeBody(e *encoder) {
	e.fixed(n.GroupId[:])
	e.u64(uint64(n.NewCursor))
}

func (Bye) encodeBody(e *encoder) {}

func (p ProtocolError) encodeBody(e *encoder) {
	e.u8(uint8(p.Kind))
	e.bytes([]byte(p.Reason))
}

// EncodeMessage serializes any Message variant to its tagged binary form:
// [type(1)][body].
func EncodeMessage(m Message) []byte {
	enc := &encoder{}
	enc.u8(uint8(m.Type()))
	m.encodeBody(enc)
	return enc.buf
}

// maxPullResponseEnvelopes bounds how many envelopes DecodeMessage will
// pre-read for a single PullResponse, so a corrupt or adversarial count
// prefix cannot trigger an unbounded loop before the surrounding frame
// size check would have rejected the message (spec.md §8 property 5).
const maxPullResponseEnvelopes = 1 << 16

// DecodeMessage parses the tagged binary form back into a concrete
// Message value.
func DecodeMessage(b []byte) (Message, error) {
	d := newDecoder(b)
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}

	var msg Message
	switch MessageType(tag) {
	case MessageHello:
		msg, err = decodeHello(d)
	case MessageWelcome:
		msg, err = decodeWelcome(d)
	case MessagePush:
		msg, err = decodePush(d)
	case MessagePushAck:
		msg, err = decodePushAck(d)
	case MessagePull:
		msg, err = decodePull(d)
	case MessagePullResponse:
		msg, err = decodePullResponse(d)
	case MessageNotify:
		msg, err = decodeNotify(d)
	case MessageBye:
		msg = Bye{}
	case MessageProtocolError:
		msg, err = decodeProtocolError(d)
	default:
		return nil, syncerr.New(syncerr.KindInvalidMessage, fmt.Sprintf("unknown message type tag %d", tag))
	}
	if err != nil {
		return nil, err
	}
	if !d.atEnd() {
		return nil, syncerr.New(syncerr.KindInvalidMessage, "trailing bytes after message body")
	}
	return msg, nil
}

func decodeHello(d *decoder) (Message, error) {
	var h Hello
	idBytes, err := d.fixed(len(h.DeviceId))
	if err != nil {
		return nil, err
	}
	copy(h.DeviceId[:], idBytes)

	nameBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	h.DeviceName = TruncateDeviceName(string(nameBytes))

	groupBytes, err := d.fixed(len(h.GroupId))
	if err != nil {
		return nil, err
	}
	copy(h.GroupId[:], groupBytes)
	return h, nil
}

func decodeWelcome(d *decoder) (Message, error) {
	var w Welcome
	cursor, err := d.u64()
	if err != nil {
		return nil, err
	}
	w.AssignedCursor = Cursor(cursor)
	if w.ServerTime, err = d.i64(); err != nil {
		return nil, err
	}
	if w.MaxBlobSize, err = d.u32(); err != nil {
		return nil, err
	}
	return w, nil
}

func decodePush(d *decoder) (Message, error) {
	envBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(envBytes)
	if err != nil {
		return nil, err
	}
	return Push{Envelope: env}, nil
}

func decodePushAck(d *decoder) (Message, error) {
	var p PushAck
	idBytes, err := d.fixed(len(p.BlobId))
	if err != nil {
		return nil, err
	}
	copy(p.BlobId[:], idBytes)
	cursor, err := d.u64()
	if err != nil {
		return nil, err
	}
	p.AssignedCursor = Cursor(cursor)
	return p, nil
}

func decodePull(d *decoder) (Message, error) {
	var p Pull
	cursor, err := d.u64()
	if err != nil {
		return nil, err
	}
	p.AfterCursor = Cursor(cursor)
	if p.Limit, err = d.u32(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodePullResponse(d *decoder) (Message, error) {
	var p PullResponse
	count, err := d.u32()
	if err != nil {
		return nil, err
	}
	if count > maxPullResponseEnvelopes {
		return nil, syncerr.New(syncerr.KindInvalidMessage, "pull response envelope count exceeds bound")
	}
	// Every envelope carries at least its 4-byte length prefix.
	if int(count) > d.remaining()/4 {
		return nil, ErrFieldTooLarge
	}
	p.Envelopes = make([]Envelope, 0, count)
	for i := uint32(0); i < count; i++ {
		envBytes, err := d.bytes()
		if err != nil {
			return nil, err
		}
		env, err := DecodeEnvelope(envBytes)
		if err != nil {
			return nil, err
		}
		p.Envelopes = append(p.Envelopes, env)
	}
	cursor, err := d.u64()
	if err != nil {
		return nil, err
	}
	p.NextCursor = Cursor(cursor)
	if p.More, err = d.bool(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeProtocolError(d *decoder) (Message, error) {
	var p ProtocolError
	kind, err := d.u8()
	if err != nil {
		return nil, err
	}
	p.Kind = ErrorKind(kind)
	reasonBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	p.Reason = string(reasonBytes)
	return p, nil
}

func decodeNotify(d *decoder) (Message, error) {
	var n Notify
	groupBytes, err := d.fixed(len(n.GroupId))
	if err != nil {
		return nil, err
	}
	copy(n.GroupId[:], groupBytes)
	cursor, err := d.u64()
	if err != nil {
		return nil, err
	}
	n.NewCursor = Cursor(cursor)
	return n, nil
}
