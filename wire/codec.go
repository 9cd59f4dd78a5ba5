package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated indicates the decoder ran out of input before a field
// could be fully read.
var ErrTruncated = errors.New("wire: truncated input")

// ErrFieldTooLarge indicates a declared variable-length field's length
// prefix exceeds what the surrounding framed message could possibly
// contain, so the decoder refuses to pre-allocate for it (spec.md §4.1).
var ErrFieldTooLarge = errors.New("wire: declared field length exceeds remaining input")

// encoder builds the compact, self-describing binary encoding used for
// every Envelope and Message variant on the wire.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }
func (e *encoder) fixed(b []byte) {
	e.buf = append(e.buf, b...)
}

// bytes writes a uint32 length prefix followed by the data. Callers are
// responsible for keeping the field within MaxMessageSize overall; the
// decoder enforces the bound on the way back in.
func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

// decoder reads the compact binary encoding back out, refusing to
// pre-allocate collections whose declared length exceeds the remaining
// framed input (spec.md §4.1 invariant 5 / §8 property 5).
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder { return &decoder{buf: buf} }

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) need(n int) error {
	if n < 0 || d.remaining() < n {
		return ErrTruncated
	}
	return nil
}

func (d *decoder) u8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) fixed(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+n])
	d.pos += n
	return out, nil
}

func (d *decoder) bool() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

// bytes reads a uint32-length-prefixed field. It validates the declared
// length against the remaining input before allocating, so a corrupt or
// adversarial length prefix cannot trigger an oversized allocation.
func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > d.remaining() {
		return nil, ErrFieldTooLarge
	}
	return d.fixed(int(n))
}

// atEnd reports whether every byte of the decoder's input was consumed,
// used to reject messages with trailing garbage.
func (d *decoder) atEnd() bool { return d.pos == len(d.buf) }
