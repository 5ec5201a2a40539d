package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/danmuck/wlcore/internal/protocol"
)

func padded(n int) int {
	return (n + 3) &^ 3
}

// EncodedSize returns the byte size of msg on the wire.
func EncodedSize(args []protocol.Argument) int {
	size := HeaderSize
	for _, arg := range args {
		switch arg.Type {
		case protocol.ArgStr:
			size += 4
			if arg.Str != nil {
				size += padded(len(arg.Str) + 1)
			}
		case protocol.ArgArray:
			size += 4 + padded(len(arg.Array))
		case protocol.ArgFd:
		default:
			size += 4
		}
	}
	return size
}

// AppendMessage appends the encoding of msg to b and returns the extended
// buffer plus the fds to send alongside it, in argument order.
func AppendMessage(b []byte, msg protocol.Message, signature []protocol.ArgumentSpec) ([]byte, []int, error) {
	if len(msg.Args) != len(signature) {
		return b, nil, fmt.Errorf("%w: got %d args want %d", protocol.ErrArgumentCount, len(msg.Args), len(signature))
	}
	size := EncodedSize(msg.Args)
	if size > MaxMessageSize {
		return b, nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	start := len(b)
	b = AppendHeader(b, Header{ObjectID: msg.SenderID, Opcode: msg.Opcode, Size: uint16(size)})
	var fds []int
	for i, arg := range msg.Args {
		if arg.Type != signature[i].Type {
			return b[:start], nil, fmt.Errorf("%w: arg %d got %s want %s",
				protocol.ErrArgumentType, i, arg.Type, signature[i].Type)
		}
		switch arg.Type {
		case protocol.ArgInt:
			b = binary.NativeEndian.AppendUint32(b, uint32(arg.Int))
		case protocol.ArgUint:
			b = binary.NativeEndian.AppendUint32(b, arg.Uint)
		case protocol.ArgFixed:
			b = binary.NativeEndian.AppendUint32(b, arg.Fixed.Raw())
		case protocol.ArgObject:
			b = binary.NativeEndian.AppendUint32(b, arg.Object)
		case protocol.ArgNewID:
			b = binary.NativeEndian.AppendUint32(b, arg.NewID)
		case protocol.ArgStr:
			if arg.Str == nil {
				b = binary.NativeEndian.AppendUint32(b, 0)
				continue
			}
			if bytes.IndexByte(arg.Str, 0) >= 0 {
				return b[:start], nil, fmt.Errorf("%w: arg %d", ErrInvalidString, i)
			}
			b = binary.NativeEndian.AppendUint32(b, uint32(len(arg.Str)+1))
			b = append(b, arg.Str...)
			b = append(b, 0)
			b = appendPadding(b, len(arg.Str)+1)
		case protocol.ArgArray:
			b = binary.NativeEndian.AppendUint32(b, uint32(len(arg.Array)))
			b = append(b, arg.Array...)
			b = appendPadding(b, len(arg.Array))
		case protocol.ArgFd:
			fds = append(fds, arg.Fd)
		default:
			return b[:start], nil, fmt.Errorf("%w: arg %d has type %s", protocol.ErrArgumentType, i, arg.Type)
		}
	}
	return b, fds, nil
}

func appendPadding(b []byte, n int) []byte {
	for pad := padded(n) - n; pad > 0; pad-- {
		b = append(b, 0)
	}
	return b
}

// ParseMessage decodes one message from the start of data using signature,
// taking file descriptors from fds in argument order.
//
// It returns the message, the number of bytes and fds consumed, or one of
// ErrMissingData, ErrMissingFd, ErrMalformed. Nothing is consumed on error.
func ParseMessage(data []byte, signature []protocol.ArgumentSpec, fds []int) (protocol.Message, int, int, error) {
	h, err := PeekHeader(data)
	if err != nil {
		return protocol.Message{}, 0, 0, err
	}
	if len(data) < int(h.Size) {
		return protocol.Message{}, 0, 0, ErrMissingData
	}
	body := data[HeaderSize:h.Size]
	args := make([]protocol.Argument, 0, len(signature))
	usedFds := 0
	offset := 0

	word := func(what string) (uint32, error) {
		if len(body)-offset < 4 {
			return 0, fmt.Errorf("%w: truncated %s", ErrMalformed, what)
		}
		v := binary.NativeEndian.Uint32(body[offset : offset+4])
		offset += 4
		return v, nil
	}

	for i, spec := range signature {
		switch spec.Type {
		case protocol.ArgInt:
			v, err := word("int")
			if err != nil {
				return protocol.Message{}, 0, 0, err
			}
			args = append(args, protocol.NewInt(int32(v)))
		case protocol.ArgUint:
			v, err := word("uint")
			if err != nil {
				return protocol.Message{}, 0, 0, err
			}
			args = append(args, protocol.NewUint(v))
		case protocol.ArgFixed:
			v, err := word("fixed")
			if err != nil {
				return protocol.Message{}, 0, 0, err
			}
			args = append(args, protocol.NewFixed(protocol.Fixed(int32(v))))
		case protocol.ArgObject:
			v, err := word("object")
			if err != nil {
				return protocol.Message{}, 0, 0, err
			}
			args = append(args, protocol.NewObject(v))
		case protocol.ArgNewID:
			v, err := word("new_id")
			if err != nil {
				return protocol.Message{}, 0, 0, err
			}
			args = append(args, protocol.NewNewID(v))
		case protocol.ArgStr:
			n, err := word("string length")
			if err != nil {
				return protocol.Message{}, 0, 0, err
			}
			if n == 0 {
				args = append(args, protocol.NewNullString())
				continue
			}
			if uint64(padded(int(n))) > uint64(len(body)-offset) {
				return protocol.Message{}, 0, 0, fmt.Errorf("%w: arg %d string overruns message", ErrMalformed, i)
			}
			raw := body[offset : offset+int(n)]
			if raw[n-1] != 0 || bytes.IndexByte(raw[:n-1], 0) >= 0 {
				return protocol.Message{}, 0, 0, fmt.Errorf("%w: arg %d string not NUL terminated", ErrMalformed, i)
			}
			str := make([]byte, n-1)
			copy(str, raw[:n-1])
			args = append(args, protocol.Argument{Type: protocol.ArgStr, Str: str})
			offset += padded(int(n))
		case protocol.ArgArray:
			n, err := word("array length")
			if err != nil {
				return protocol.Message{}, 0, 0, err
			}
			if uint64(padded(int(n))) > uint64(len(body)-offset) {
				return protocol.Message{}, 0, 0, fmt.Errorf("%w: arg %d array overruns message", ErrMalformed, i)
			}
			arr := make([]byte, n)
			copy(arr, body[offset:offset+int(n)])
			args = append(args, protocol.Argument{Type: protocol.ArgArray, Array: arr})
			offset += padded(int(n))
		case protocol.ArgFd:
			if usedFds >= len(fds) {
				return protocol.Message{}, 0, 0, ErrMissingFd
			}
			args = append(args, protocol.NewFd(fds[usedFds]))
			usedFds++
		default:
			return protocol.Message{}, 0, 0, fmt.Errorf("%w: arg %d has type %s", ErrMalformed, i, spec.Type)
		}
	}
	if offset != len(body) {
		return protocol.Message{}, 0, 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(body)-offset)
	}
	return protocol.Message{SenderID: h.ObjectID, Opcode: h.Opcode, Args: args}, int(h.Size), usedFds, nil
}

// CloseArgFds closes every fd carried by args. Used when a decoded message is
// dropped instead of handed to an owner.
func CloseArgFds(args []protocol.Argument) {
	for _, arg := range args {
		if arg.Type == protocol.ArgFd {
			closeFds([]int{arg.Fd})
		}
	}
}
