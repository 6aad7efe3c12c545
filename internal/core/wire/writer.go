package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Span is a region of a Writer's buffer reserved for a later patch.
type Span struct {
	Off int
	Len int
}

// Writer appends little-endian values into a fixed-capacity buffer.
// It never grows; a write past capacity fails with ErrBufferOverflow
// and leaves the buffer unchanged.
type Writer struct {
	buf []byte
	off int
}

func NewWriter(maxOutputLength int) *Writer {
	return &Writer{buf: make([]byte, maxOutputLength)}
}

func (w *Writer) Reset() { w.off = 0 }

func (w *Writer) Len() int { return w.off }

func (w *Writer) Cap() int { return len(w.buf) }

func (w *Writer) Available() int { return len(w.buf) - w.off }

// Bytes returns the written region. It aliases the buffer and is only
// valid until the next write or Reset.
func (w *Writer) Bytes() []byte { return w.buf[:w.off] }

// Truncate drops everything written after n.
func (w *Writer) Truncate(n int) {
	if n < 0 || n > w.off {
		return
	}
	w.off = n
}

func (w *Writer) grab(n int) ([]byte, error) {
	if w.off+n > len(w.buf) {
		return nil, errors.Wrapf(ErrBufferOverflow, "need %d bytes at offset %d of %d", n, w.off, len(w.buf))
	}
	p := w.buf[w.off : w.off+n]
	w.off += n
	return p, nil
}

// Reserve claims n zeroed bytes to be filled in later via Patch.
func (w *Writer) Reserve(n int) (Span, error) {
	start := w.off
	p, err := w.grab(n)
	if err != nil {
		return Span{}, err
	}
	clear(p)
	return Span{Off: start, Len: n}, nil
}

// Patch returns a Writer bounded to a previously reserved span. Writes through
// it land in the span and cannot spill into the body that follows.
func (w *Writer) Patch(s Span) (Writer, error) {
	if s.Off < 0 || s.Len < 0 || s.Off+s.Len > w.off {
		return Writer{}, ErrInvalidSpan
	}
	return Writer{buf: w.buf[s.Off : s.Off+s.Len : s.Off+s.Len]}, nil
}

func (w *Writer) Write(p []byte) error {
	dst, err := w.grab(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

func (w *Writer) Int8(v int8) error { return w.Uint8(uint8(v)) }

func (w *Writer) Uint8(v uint8) error {
	p, err := w.grab(1)
	if err != nil {
		return err
	}
	p[0] = v
	return nil
}

func (w *Writer) Int16(v int16) error { return w.Uint16(uint16(v)) }

func (w *Writer) Uint16(v uint16) error {
	p, err := w.grab(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(p, v)
	return nil
}

func (w *Writer) Int32(v int32) error { return w.Uint32(uint32(v)) }

func (w *Writer) Uint32(v uint32) error {
	p, err := w.grab(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p, v)
	return nil
}

func (w *Writer) Float32(v float32) error { return w.Uint32(math.Float32bits(v)) }

// Uint64 is not a field type; handshakes use it for schema fingerprints.
func (w *Writer) Uint64(v uint64) error {
	p, err := w.grab(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p, v)
	return nil
}

func (w *Writer) Float64(v float64) error { return w.Uint64(math.Float64bits(v)) }

// UTF8 writes a uint16 byte length followed by the raw bytes of s.
func (w *Writer) UTF8(s string) error {
	if len(s) > math.MaxUint16 {
		return errors.Wrapf(ErrStringTooLong, "%d bytes", len(s))
	}
	if w.off+2+len(s) > len(w.buf) {
		return errors.Wrapf(ErrBufferOverflow, "need %d bytes at offset %d of %d", 2+len(s), w.off, len(w.buf))
	}
	binary.LittleEndian.PutUint16(w.buf[w.off:], uint16(len(s)))
	copy(w.buf[w.off+2:], s)
	w.off += 2 + len(s)
	return nil
}

// Uint writes v using one of the unsigned types Uint8, Uint16 or Uint32.
func (w *Writer) Uint(t Type, v uint32) error {
	switch t {
	case Uint8:
		return w.Uint8(uint8(v))
	case Uint16:
		return w.Uint16(uint16(v))
	case Uint32:
		return w.Uint32(v)
	default:
		return errors.Wrapf(ErrUnknownType, "%s is not an unsigned id type", t)
	}
}
