package wire

import "github.com/pkg/errors"

var (
	ErrBufferOverflow  = errors.New("wire: buffer overflow")
	ErrBufferUnderflow = errors.New("wire: buffer underflow")
	ErrStringTooLong   = errors.New("wire: string exceeds uint16 length prefix")
	ErrInvalidSpan     = errors.New("wire: span outside written region")
	ErrUnknownType     = errors.New("wire: unknown wire type")
)
