package wire

import (
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	w := NewWriter(128)
	require.NoError(t, w.Int8(-5))
	require.NoError(t, w.Uint8(250))
	require.NoError(t, w.Int16(-30000))
	require.NoError(t, w.Uint16(65000))
	require.NoError(t, w.Int32(-2_000_000_000))
	require.NoError(t, w.Uint32(4_000_000_000))
	require.NoError(t, w.Float32(1.1))
	require.NoError(t, w.Float64(math.Pi))
	require.NoError(t, w.UTF8("héllo, 世界"))

	r := NewReader(w.Bytes())

	i8, err := r.Int8()
	require.NoError(t, err)
	assert.Equal(t, int8(-5), i8)

	u8, err := r.Uint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(250), u8)

	i16, err := r.Int16()
	require.NoError(t, err)
	assert.Equal(t, int16(-30000), i16)

	u16, err := r.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(65000), u16)

	i32, err := r.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(-2_000_000_000), i32)

	u32, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(4_000_000_000), u32)

	f32, err := r.Float32()
	require.NoError(t, err)
	assert.Equal(t, float32(1.1), f32)
	assert.NotEqual(t, 1.1, float64(f32), "float32 must truncate precision")

	f64, err := r.Float64()
	require.NoError(t, err)
	assert.Equal(t, math.Pi, f64)

	s, err := r.UTF8()
	require.NoError(t, err)
	assert.Equal(t, "héllo, 世界", s)
	assert.Zero(t, r.Remaining())
}

func TestLittleEndianLayout(t *testing.T) {
	w := NewWriter(16)
	require.NoError(t, w.Uint32(0x01020304))
	require.NoError(t, w.UTF8("hé"))
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x03, 0x00, 'h', 0xc3, 0xa9}, w.Bytes())
}

func TestOverflowLeavesBufferIntact(t *testing.T) {
	w := NewWriter(5)
	require.NoError(t, w.Uint32(1))

	err := w.Uint16(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBufferOverflow))
	assert.Equal(t, 4, w.Len())

	err = w.UTF8("ab")
	assert.True(t, errors.Is(err, ErrBufferOverflow))
	assert.Equal(t, 4, w.Len())

	require.NoError(t, w.Uint8(9))
	assert.Zero(t, w.Available())
}

func TestStringTooLong(t *testing.T) {
	w := NewWriter(1 << 17)
	err := w.UTF8(strings.Repeat("x", math.MaxUint16+1))
	assert.True(t, errors.Is(err, ErrStringTooLong))
	assert.Zero(t, w.Len())
}

func TestUnderflow(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		read  func(r *Reader) error
	}{
		{"uint16", []byte{1}, func(r *Reader) error { _, err := r.Uint16(); return err }},
		{"uint32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.Uint32(); return err }},
		{"float64", []byte{1, 2, 3, 4}, func(r *Reader) error { _, err := r.Float64(); return err }},
		{"utf8 body", []byte{5, 0, 'a'}, func(r *Reader) error { _, err := r.UTF8(); return err }},
		{"empty", nil, func(r *Reader) error { _, err := r.Uint8(); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.input))
			assert.True(t, errors.Is(err, ErrBufferUnderflow), "got %v", err)
		})
	}
}

func TestReserveAndPatch(t *testing.T) {
	w := NewWriter(32)
	header, err := w.Reserve(6)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte{0xaa, 0xbb}))

	hw, err := w.Patch(header)
	require.NoError(t, err)
	require.NoError(t, hw.Uint32(1000))
	require.NoError(t, hw.Uint16(1))
	assert.True(t, errors.Is(hw.Uint8(0), ErrBufferOverflow), "patch must stay inside the reserved span")

	assert.Equal(t, []byte{0xe8, 0x03, 0, 0, 1, 0, 0xaa, 0xbb}, w.Bytes())

	_, err = w.Patch(Span{Off: 4, Len: 8})
	assert.True(t, errors.Is(err, ErrInvalidSpan))
}

func TestTruncate(t *testing.T) {
	w := NewWriter(8)
	require.NoError(t, w.Uint16(1))
	mark := w.Len()
	require.NoError(t, w.Uint32(2))
	w.Truncate(mark)
	assert.Equal(t, []byte{1, 0}, w.Bytes())
}

func TestUintFor(t *testing.T) {
	tests := []struct {
		n    uint64
		want Type
		ok   bool
	}{
		{0, Uint8, true},
		{255, Uint8, true},
		{256, Uint16, true},
		{65535, Uint16, true},
		{65536, Uint32, true},
		{1<<32 - 1, Uint32, true},
		{1 << 32, 0, false},
	}
	for _, tt := range tests {
		got, ok := UintFor(tt.n)
		assert.Equal(t, tt.ok, ok, "n=%d", tt.n)
		assert.Equal(t, tt.want, got, "n=%d", tt.n)
	}
}

func TestVariableUint(t *testing.T) {
	for _, typ := range []Type{Uint8, Uint16, Uint32} {
		t.Run(typ.String(), func(t *testing.T) {
			w := NewWriter(4)
			require.NoError(t, w.Uint(typ, 200))
			assert.Equal(t, typ.Size(), w.Len())
			v, err := NewReader(w.Bytes()).Uint(typ)
			require.NoError(t, err)
			assert.Equal(t, uint32(200), v)
		})
	}
	assert.True(t, errors.Is(NewWriter(4).Uint(Float32, 1), ErrUnknownType))
}
