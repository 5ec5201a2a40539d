package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed size of every message header.
	HeaderSize = 8
	// MaxMessageSize bounds one encoded message, header included.
	MaxMessageSize = 4096
)

// Header is the fixed wire header.
type Header struct {
	ObjectID uint32
	Opcode   uint16
	Size     uint16
}

// PutHeader writes h into the first HeaderSize bytes of b.
func PutHeader(b []byte, h Header) {
	binary.NativeEndian.PutUint32(b[0:4], h.ObjectID)
	binary.NativeEndian.PutUint32(b[4:8], uint32(h.Size)<<16|uint32(h.Opcode))
}

// AppendHeader appends the encoding of h to b.
func AppendHeader(b []byte, h Header) []byte {
	var buf [HeaderSize]byte
	PutHeader(buf[:], h)
	return append(b, buf[:]...)
}

// PeekHeader decodes the header at the start of b without consuming it.
//
// It returns ErrMissingData when b holds less than a header and ErrMalformed
// when the declared size cannot frame a message.
func PeekHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrMissingData
	}
	word := binary.NativeEndian.Uint32(b[4:8])
	h := Header{
		ObjectID: binary.NativeEndian.Uint32(b[0:4]),
		Opcode:   uint16(word & 0xffff),
		Size:     uint16(word >> 16),
	}
	if h.Size < HeaderSize || h.Size%4 != 0 || h.Size > MaxMessageSize {
		return h, fmt.Errorf("%w: declared size %d", ErrMalformed, h.Size)
	}
	return h, nil
}
