package quic

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/wire"
)

// frameHeader is the little-endian uint32 payload length.
const frameHeader = 4

var ErrFrameTooLarge = errors.New("quic: frame exceeds max packet size")

// appendFrame appends p with its length prefix to dst.
func appendFrame(dst, p []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(p)))
	return append(dst, p...)
}

// readFrame reads one frame whose payload is at most max bytes.
func readFrame(r io.Reader, max int) ([]byte, error) {
	var hdr [frameHeader]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if int64(n) > int64(max) {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d > %d", n, max)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, err
	}
	return p, nil
}

// hello is the first client frame: schema fingerprint then auth token.
type hello struct {
	fingerprint uint64
	token       string
}

func (h hello) marshal() []byte {
	w := wire.NewWriter(8 + len(h.token))
	_ = w.Uint64(h.fingerprint)
	_ = w.Write([]byte(h.token))
	return w.Bytes()
}

func parseHello(p []byte) (hello, error) {
	r := wire.NewReader(p)
	fp, err := r.Uint64()
	if err != nil {
		return hello{}, errors.Wrap(err, "hello fingerprint")
	}
	token, err := r.Bytes(r.Remaining())
	if err != nil {
		return hello{}, errors.Wrap(err, "hello token")
	}
	return hello{fingerprint: fp, token: string(token)}, nil
}
