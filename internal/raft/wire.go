package raft

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encoder appends little-endian fields to a buffer. Strings carry a uint16
// length prefix, byte slices a uint32 one.
type encoder struct {
	buf []byte
	err error
}

func newEncoder(size int) *encoder {
	return &encoder{buf: make([]byte, 0, size)}
}

func (e *encoder) putUint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) putUint64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) putBool(v bool) {
	if v {
		e.putUint8(1)
	} else {
		e.putUint8(0)
	}
}

func (e *encoder) putString(s string) {
	if len(s) > math.MaxUint16 {
		if e.err == nil {
			e.err = fmt.Errorf("raft: string of %d bytes exceeds %d", len(s), math.MaxUint16)
		}
		return
	}
	e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) putBytes(b []byte) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// decoder reads fields written by encoder. The first short or oversized
// read sets err; every read after that returns a zero value.
type decoder struct {
	data []byte
	err  error
}

func newDecoder(data []byte) *decoder {
	return &decoder{data: data}
}

func (d *decoder) take(n uint64) []byte {
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.data)) {
		d.err = ErrLogCorrupted
		return nil
	}
	b := d.data[:n:n]
	d.data = d.data[n:]
	return b
}

func (d *decoder) uint8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) uint16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) uint32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) uint64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) bool() bool {
	return d.uint8() == 1
}

func (d *decoder) string() string {
	return string(d.take(uint64(d.uint16())))
}

func (d *decoder) bytes() []byte {
	n := d.uint32()
	if n > maxMessageSize {
		d.err = ErrLogCorrupted
		return nil
	}
	return d.take(uint64(n))
}

// remaining returns the number of unread bytes.
func (d *decoder) remaining() int {
	return len(d.data)
}
