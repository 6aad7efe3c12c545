package quic

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrames(t *testing.T) {
	var buf []byte
	buf = appendFrame(buf, []byte("abc"))
	buf = appendFrame(buf, nil)
	assert.Equal(t, []byte{3, 0, 0, 0, 'a', 'b', 'c', 0, 0, 0, 0}, buf)

	r := bytes.NewReader(buf)
	p, err := readFrame(r, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), p)
	p, err = readFrame(r, 3)
	require.NoError(t, err)
	assert.Empty(t, p)
	_, err = readFrame(r, 3)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameLimit(t *testing.T) {
	_, err := readFrame(bytes.NewReader(appendFrame(nil, make([]byte, 10))), 9)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = readFrame(bytes.NewReader([]byte{5, 0, 0, 0, 1}), 9)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHello(t *testing.T) {
	h := hello{fingerprint: 0x0102030405060708, token: "alice"}
	p := h.marshal()
	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1, 'a', 'l', 'i', 'c', 'e'}, p)

	got, err := parseHello(p)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	got, err = parseHello(hello{fingerprint: 1}.marshal())
	require.NoError(t, err)
	assert.Empty(t, got.token)

	_, err = parseHello([]byte{1, 2, 3})
	assert.Error(t, err)
}
