package wire

import (
	"bytes"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	sender, _ := NewDeviceId()
	var group GroupId
	copy(group[:], bytes.Repeat([]byte{0x42}, 32))
	blob := NewBlobId()

	env := NewEnvelope(sender, group, blob, 1700000000000, []byte("ciphertext-and-tag"))
	encoded := env.Encode()

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestEnvelopeUnsupportedVersion(t *testing.T) {
	sender, _ := NewDeviceId()
	var group GroupId
	env := NewEnvelope(sender, group, NewBlobId(), 0, []byte("x"))
	env.Version = 99
	encoded := env.Encode()

	_, err := DecodeEnvelope(encoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported_version")
}

func TestMessageRoundTripAllVariants(t *testing.T) {
	sender, _ := NewDeviceId()
	var group GroupId
	blob := NewBlobId()
	env := NewEnvelope(sender, group, blob, 1, []byte("payload"))

	cases := []Message{
		Hello{DeviceId: sender, DeviceName: "phone", GroupId: group},
		Welcome{AssignedCursor: 7, ServerTime: 123, MaxBlobSize: 4096},
		Push{Envelope: env},
		PushAck{BlobId: blob, AssignedCursor: 9},
		Pull{AfterCursor: 3, Limit: 100},
		PullResponse{Envelopes: []Envelope{env}, NextCursor: 10, More: true},
		Notify{GroupId: group, NewCursor: 11},
		Bye{},
	}

	for _, original := range cases {
		encoded := EncodeMessage(original)
		decoded, err := DecodeMessage(encoded)
		require.NoError(t, err, "type %s", original.Type())
		assert.Equal(t, original, decoded, "type %s", original.Type())
	}
}

func TestDeviceNameTruncationIsUTF8Safe(t *testing.T) {
	// A multi-byte rune placed right at the 256-byte boundary must not be
	// split; truncation must back off to the previous rune boundary.
	rune3 := "中" // 3-byte UTF-8 character
	name := ""
	for len(name) < MaxDeviceNameBytes-1 {
		name += "a"
	}
	name += rune3 // pushes just past the boundary, mid-rune

	truncated := TruncateDeviceName(name)
	assert.LessOrEqual(t, len(truncated), MaxDeviceNameBytes)
	assert.True(t, utf8Valid(truncated))
}

func utf8Valid(s string) bool {
	return utf8.ValidString(s)
}

func TestHelloTruncatesOversizedDeviceName(t *testing.T) {
	long := bytes.Repeat([]byte("x"), MaxDeviceNameBytes+50)
	h := Hello{DeviceId: DeviceId{}, DeviceName: string(long), GroupId: GroupId{}}
	encoded := EncodeMessage(h)
	decoded, err := DecodeMessage(encoded)
	require.NoError(t, err)
	got := decoded.(Hello)
	assert.LessOrEqual(t, len(got.DeviceName), MaxDeviceNameBytes)
}

func TestDecodeMessageUnknownTag(t *testing.T) {
	_, err := DecodeMessage([]byte{0xFF})
	require.Error(t, err)
}

func TestDecodeMessageTrailingBytesRejected(t *testing.T) {
	encoded := EncodeMessage(Bye{})
	encoded = append(encoded, 0x00)
	_, err := DecodeMessage(encoded)
	require.Error(t, err)
}

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a framed message body")
	require.NoError(t, WriteFramed(&buf, payload, MaxMessageSize))

	got, err := ReadFramed(&buf, MaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFramingRejectsOversizedWrite(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0}, 100)
	err := WriteFramed(&buf, payload, 10)
	require.Error(t, err)
}

func TestFramingRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	// Hand-craft a frame whose length prefix lies about a huge payload
	// without actually sending that many bytes, proving the reader
	// rejects before attempting to allocate or block on io.ReadFull.
	require.NoError(t, WriteFramed(&buf, []byte{1, 2, 3}, MaxMessageSize))
	raw := buf.Bytes()
	raw[0], raw[1], raw[2], raw[3] = 0xFF, 0xFF, 0xFF, 0xFF
	_, err := ReadFramed(bytes.NewReader(raw), MaxMessageSize)
	require.Error(t, err)
}

func TestPullResponseEnvelopeCountBounded(t *testing.T) {
	enc := &encoder{}
	enc.u8(uint8(MessagePullResponse))
	enc.u32(maxPullResponseEnvelopes + 1)
	_, err := DecodeMessage(enc.buf)
	require.Error(t, err)
}
