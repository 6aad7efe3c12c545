package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Reader consumes little-endian values from a byte slice.
type Reader struct {
	buf []byte
	off int
}

func NewReader(p []byte) *Reader {
	return &Reader{buf: p}
}

// Reset points the reader at p and rewinds it.
func (r *Reader) Reset(p []byte) {
	r.buf = p
	r.off = 0
}

func (r *Reader) Offset() int { return r.off }

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, errors.Wrapf(ErrBufferUnderflow, "need %d bytes at offset %d of %d", n, r.off, len(r.buf))
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p, nil
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) { return r.take(n) }

func (r *Reader) Int8() (int8, error) {
	v, err := r.Uint8()
	return int8(v), err
}

func (r *Reader) Uint8() (uint8, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Uint16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) Uint32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

func (r *Reader) Uint64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *Reader) Float64() (float64, error) {
	v, err := r.Uint64()
	return math.Float64frombits(v), err
}

func (r *Reader) UTF8() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	p, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (r *Reader) Uint(t Type) (uint32, error) {
	switch t {
	case Uint8:
		v, err := r.Uint8()
		return uint32(v), err
	case Uint16:
		v, err := r.Uint16()
		return uint32(v), err
	case Uint32:
		return r.Uint32()
	default:
		return 0, errors.Wrapf(ErrUnknownType, "%s is not an unsigned id type", t)
	}
}
