package wire

import (
	"fmt"

	"github.com/danmuck/wlcore/internal/protocol"
	"golang.org/x/sys/unix"
)

const (
	// MaxBytesOut is the outgoing buffer size that triggers an implicit flush.
	MaxBytesOut = 4096
	readChunk   = 2 * MaxBytesOut
)

// SignatureFunc resolves the signature of an incoming message from its
// header. Errors it returns are passed through ReadOneMessage unchanged.
type SignatureFunc func(h Header) ([]protocol.ArgumentSpec, error)

// BufferedSocket queues outgoing messages and accumulates incoming bytes and
// fds until whole messages can be decoded.
//
// The incoming side belongs to the goroutine reading the connection; the
// outgoing side must be serialised by the owner.
type BufferedSocket struct {
	socket *Socket

	inData []byte
	inFds  []int

	outData []byte
	outFds  []int

	readBuf []byte
	oobBuf  []byte
}

// NewBufferedSocket wraps socket with empty buffers.
func NewBufferedSocket(socket *Socket) *BufferedSocket {
	return &BufferedSocket{
		socket:  socket,
		outData: make([]byte, 0, MaxBytesOut),
		readBuf: make([]byte, readChunk),
		oobBuf:  make([]byte, unix.CmsgSpace(MaxFdsOut*4)),
	}
}

// Socket returns the underlying socket.
func (b *BufferedSocket) Socket() *Socket {
	return b.socket
}

// WriteMessage encodes msg into the outgoing buffer, flushing first when the
// buffer cannot hold it. Fds are duplicated; the caller keeps its copies.
func (b *BufferedSocket) WriteMessage(msg protocol.Message, signature []protocol.ArgumentSpec) error {
	encoded, fds, err := AppendMessage(nil, msg, signature)
	if err != nil {
		return err
	}
	if len(fds) > MaxFdsOut {
		return fmt.Errorf("%w: %d", ErrTooManyFds, len(fds))
	}
	if len(b.outData)+len(encoded) > MaxBytesOut || len(b.outFds)+len(fds) > MaxFdsOut {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	dups := make([]int, 0, len(fds))
	for _, fd := range fds {
		dup, err := DupFd(fd)
		if err != nil {
			closeFds(dups)
			return fmt.Errorf("wire: dup fd %d: %w", fd, err)
		}
		dups = append(dups, dup)
	}
	b.outData = append(b.outData, encoded...)
	b.outFds = append(b.outFds, dups...)
	return nil
}

// Pending reports whether outgoing bytes are waiting for Flush.
func (b *BufferedSocket) Pending() bool {
	return len(b.outData) > 0
}

// Flush writes the outgoing buffer. Fds travel with the first chunk and are
// closed once sent.
func (b *BufferedSocket) Flush() error {
	for len(b.outData) > 0 {
		n, err := b.socket.SendMsg(b.outData, b.outFds)
		if n > 0 && len(b.outFds) > 0 {
			closeFds(b.outFds)
			b.outFds = b.outFds[:0]
		}
		b.outData = b.outData[:copy(b.outData, b.outData[n:])]
		if err != nil {
			return err
		}
	}
	return nil
}

// FillIncoming performs one read from the socket into the incoming buffers.
func (b *BufferedSocket) FillIncoming() error {
	n, fds, err := b.socket.RecvMsg(b.readBuf, b.oobBuf)
	if err != nil {
		return err
	}
	b.inData = append(b.inData, b.readBuf[:n]...)
	b.inFds = append(b.inFds, fds...)
	return nil
}

// Buffered returns the number of unconsumed incoming bytes.
func (b *BufferedSocket) Buffered() int {
	return len(b.inData)
}

// PeekHeader decodes the next incoming header without consuming it.
func (b *BufferedSocket) PeekHeader() (Header, error) {
	return PeekHeader(b.inData)
}

// ReadOneMessage decodes the next complete incoming message.
//
// It returns ErrMissingData when more bytes must be read first. On any error
// nothing is consumed.
func (b *BufferedSocket) ReadOneMessage(lookup SignatureFunc) (protocol.Message, error) {
	h, err := PeekHeader(b.inData)
	if err != nil {
		return protocol.Message{}, err
	}
	if len(b.inData) < int(h.Size) {
		return protocol.Message{}, ErrMissingData
	}
	signature, err := lookup(h)
	if err != nil {
		return protocol.Message{}, err
	}
	msg, n, usedFds, err := ParseMessage(b.inData, signature, b.inFds)
	if err != nil {
		return protocol.Message{}, err
	}
	b.inData = b.inData[:copy(b.inData, b.inData[n:])]
	b.inFds = b.inFds[:copy(b.inFds, b.inFds[usedFds:])]
	return msg, nil
}

// DiscardIncoming drops unconsumed incoming bytes and closes queued fds.
func (b *BufferedSocket) DiscardIncoming() {
	closeFds(b.inFds)
	b.inFds = nil
	b.inData = nil
}

// Close closes the socket and drops the outgoing queue. The incoming side is
// left to its reader, which releases it with DiscardIncoming.
func (b *BufferedSocket) Close() error {
	closeFds(b.outFds)
	b.outFds = nil
	b.outData = b.outData[:0]
	return b.socket.Close()
}
