package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/testutil/socktest"
	"github.com/danmuck/wlcore/internal/testutil/testlog"
)

var allKinds = []protocol.ArgumentSpec{
	{Type: protocol.ArgInt},
	{Type: protocol.ArgUint},
	{Type: protocol.ArgFixed},
	{Type: protocol.ArgStr, AllowNull: true},
	{Type: protocol.ArgStr},
	{Type: protocol.ArgArray},
	{Type: protocol.ArgObject, AllowNull: true},
	{Type: protocol.ArgNewID},
}

func allKindsMessage() protocol.Message {
	return protocol.Message{
		SenderID: 3,
		Opcode:   7,
		Args: []protocol.Argument{
			protocol.NewInt(-42),
			protocol.NewUint(42),
			protocol.NewFixedFloat(2.25),
			protocol.NewNullString(),
			protocol.NewString("hello"),
			protocol.NewArray([]byte{1, 2, 3, 4, 5}),
			protocol.NewObject(0),
			protocol.NewNewID(9),
		},
	}
}

func TestHeaderPacksSizeAndOpcode(t *testing.T) {
	testlog.Start(t)
	b := AppendHeader(nil, Header{ObjectID: 1, Opcode: 2, Size: 12})
	if len(b) != HeaderSize {
		t.Fatalf("header len=%d", len(b))
	}
	if word := binary.NativeEndian.Uint32(b[4:8]); word != 12<<16|2 {
		t.Fatalf("packed word got=%#x", word)
	}
	h, err := PeekHeader(append(b, 0, 0, 0, 0))
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if h != (Header{ObjectID: 1, Opcode: 2, Size: 12}) {
		t.Fatalf("header got=%+v", h)
	}
}

func TestPeekHeaderRejectsBadSize(t *testing.T) {
	testlog.Start(t)
	for _, size := range []uint16{0, 4, 10, MaxMessageSize + 4} {
		b := AppendHeader(nil, Header{ObjectID: 1, Size: size})
		if _, err := PeekHeader(b); !errors.Is(err, ErrMalformed) {
			t.Fatalf("size %d: expected ErrMalformed, got %v", size, err)
		}
	}
	if _, err := PeekHeader([]byte{1, 2, 3}); !errors.Is(err, ErrMissingData) {
		t.Fatalf("short header: expected ErrMissingData, got %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	testlog.Start(t)
	msg := allKindsMessage()
	encoded, fds, err := AppendMessage(nil, msg, allKinds)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(fds) != 0 {
		t.Fatalf("unexpected fds %v", fds)
	}
	if len(encoded) != EncodedSize(msg.Args) || len(encoded)%4 != 0 {
		t.Fatalf("encoded size %d, computed %d", len(encoded), EncodedSize(msg.Args))
	}

	decoded, n, usedFds, err := ParseMessage(encoded, allKinds, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) || usedFds != 0 {
		t.Fatalf("consumed n=%d fds=%d", n, usedFds)
	}
	again, _, err := AppendMessage(nil, decoded, allKinds)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(encoded, again) {
		t.Fatalf("round-trip mismatch")
	}
	if _, ok := decoded.Args[3].Text(); ok {
		t.Fatalf("null string decoded as non-null")
	}
	if s, _ := decoded.Args[4].Text(); s != "hello" {
		t.Fatalf("string got=%q", s)
	}
}

func TestStringCarriesTerminatorAndPadding(t *testing.T) {
	testlog.Start(t)
	spec := []protocol.ArgumentSpec{{Type: protocol.ArgStr}}
	for _, text := range []string{"", "a", "abc", "abcd", "wl_seat", "test_global"} {
		msg := protocol.Message{SenderID: 2, Args: []protocol.Argument{protocol.NewString(text)}}
		encoded, _, err := AppendMessage(nil, msg, spec)
		if err != nil {
			t.Fatalf("encode %q: %v", text, err)
		}
		h, err := PeekHeader(encoded)
		if err != nil {
			t.Fatalf("header %q: %v", text, err)
		}
		if int(h.Size) != len(encoded) || len(encoded) != EncodedSize(msg.Args) {
			t.Fatalf("%q header size=%d encoded=%d computed=%d", text, h.Size, len(encoded), EncodedSize(msg.Args))
		}
		if got := binary.NativeEndian.Uint32(encoded[HeaderSize:]); got != uint32(len(text)+1) {
			t.Fatalf("%q length prefix=%d", text, got)
		}
		if encoded[HeaderSize+4+len(text)] != 0 {
			t.Fatalf("%q missing terminator: % x", text, encoded)
		}
		decoded, n, _, err := ParseMessage(encoded, spec, nil)
		if err != nil || n != len(encoded) {
			t.Fatalf("decode %q: n=%d err=%v", text, n, err)
		}
		if got, ok := decoded.Args[0].Text(); !ok || got != text {
			t.Fatalf("decoded=%q ok=%v want %q", got, ok, text)
		}
	}
}

func TestParseMissingData(t *testing.T) {
	testlog.Start(t)
	encoded, _, err := AppendMessage(nil, allKindsMessage(), allKinds)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, _, _, err = ParseMessage(encoded[:len(encoded)-4], allKinds, nil)
	if !errors.Is(err, ErrMissingData) {
		t.Fatalf("expected ErrMissingData, got %v", err)
	}
}

func TestParseStringWithoutTerminator(t *testing.T) {
	testlog.Start(t)
	spec := []protocol.ArgumentSpec{{Type: protocol.ArgStr}}
	b := AppendHeader(nil, Header{ObjectID: 1, Size: HeaderSize + 8})
	b = binary.NativeEndian.AppendUint32(b, 4)
	b = append(b, 'a', 'b', 'c', 'd')
	_, _, _, err := ParseMessage(b, spec, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseStringOverrun(t *testing.T) {
	testlog.Start(t)
	spec := []protocol.ArgumentSpec{{Type: protocol.ArgStr}}
	b := AppendHeader(nil, Header{ObjectID: 1, Size: HeaderSize + 8})
	b = binary.NativeEndian.AppendUint32(b, 100)
	b = append(b, 'a', 'b', 'c', 0)
	_, _, _, err := ParseMessage(b, spec, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseTrailingBytes(t *testing.T) {
	testlog.Start(t)
	b := AppendHeader(nil, Header{ObjectID: 1, Size: HeaderSize + 4})
	b = binary.NativeEndian.AppendUint32(b, 1)
	_, _, _, err := ParseMessage(b, nil, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseMissingFd(t *testing.T) {
	testlog.Start(t)
	spec := []protocol.ArgumentSpec{{Type: protocol.ArgFd}}
	b := AppendHeader(nil, Header{ObjectID: 1, Size: HeaderSize})
	_, _, _, err := ParseMessage(b, spec, nil)
	if !errors.Is(err, ErrMissingFd) {
		t.Fatalf("expected ErrMissingFd, got %v", err)
	}
}

func TestEncodeRejectsInteriorNUL(t *testing.T) {
	testlog.Start(t)
	spec := []protocol.ArgumentSpec{{Type: protocol.ArgStr}}
	msg := protocol.Message{SenderID: 1, Args: []protocol.Argument{protocol.NewString("a\x00b")}}
	if _, _, err := AppendMessage(nil, msg, spec); !errors.Is(err, ErrInvalidString) {
		t.Fatalf("expected ErrInvalidString, got %v", err)
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	testlog.Start(t)
	spec := []protocol.ArgumentSpec{{Type: protocol.ArgArray}}
	msg := protocol.Message{SenderID: 1, Args: []protocol.Argument{protocol.NewArray(make([]byte, MaxMessageSize))}}
	if _, _, err := AppendMessage(nil, msg, spec); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestBufferedSocketPassesFds(t *testing.T) {
	testlog.Start(t)
	left, right := socktest.Pair(t)
	tx := NewBufferedSocket(NewSocket(left))
	rx := NewBufferedSocket(NewSocket(right))

	r, w := socktest.Pipe(t)
	spec := []protocol.ArgumentSpec{{Type: protocol.ArgUint}, {Type: protocol.ArgFd}}
	msg := protocol.Message{
		SenderID: 5,
		Opcode:   1,
		Args:     []protocol.Argument{protocol.NewUint(77), protocol.NewFd(int(w.Fd()))},
	}
	if err := tx.WriteMessage(msg, spec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !tx.Pending() {
		t.Fatalf("message should be buffered until flush")
	}
	if err := tx.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var got protocol.Message
	for {
		var err error
		got, err = rx.ReadOneMessage(func(h Header) ([]protocol.ArgumentSpec, error) {
			if h.ObjectID != 5 || h.Opcode != 1 {
				t.Fatalf("header got=%+v", h)
			}
			return spec, nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrMissingData) {
			t.Fatalf("read: %v", err)
		}
		if err := rx.FillIncoming(); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	if got.Args[0].Uint != 77 {
		t.Fatalf("uint got=%d", got.Args[0].Uint)
	}

	received := os.NewFile(uintptr(got.Args[1].Fd), "received")
	defer received.Close()
	if _, err := received.Write([]byte("ping")); err != nil {
		t.Fatalf("write through received fd: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("pipe got=%q", buf)
	}
}

func TestBufferedSocketEOF(t *testing.T) {
	testlog.Start(t)
	left, right := socktest.Pair(t)
	rx := NewBufferedSocket(NewSocket(right))
	_ = left.Close()
	if err := rx.FillIncoming(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestLookupErrorPassesThrough(t *testing.T) {
	testlog.Start(t)
	left, right := socktest.Pair(t)
	tx := NewBufferedSocket(NewSocket(left))
	rx := NewBufferedSocket(NewSocket(right))
	if err := tx.WriteMessage(protocol.Message{SenderID: 2}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tx.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := rx.FillIncoming(); err != nil {
		t.Fatalf("fill: %v", err)
	}
	sentinel := errors.New("unknown object")
	_, err := rx.ReadOneMessage(func(Header) ([]protocol.ArgumentSpec, error) { return nil, sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if rx.Buffered() != HeaderSize {
		t.Fatalf("nothing should be consumed on error, buffered=%d", rx.Buffered())
	}
}

func TestBufferedSocketPeerReset(t *testing.T) {
	testlog.Start(t)
	left, right := socktest.Pair(t)
	tx := NewBufferedSocket(NewSocket(left))
	rx := NewBufferedSocket(NewSocket(right))
	msg := protocol.Message{SenderID: 1, Args: []protocol.Argument{protocol.NewUint(7)}}
	if err := rx.WriteMessage(msg, []protocol.ArgumentSpec{{Type: protocol.ArgUint}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rx.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	// Closing with unread data resets the connection.
	if err := tx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rx.FillIncoming(); err == nil {
		t.Fatalf("expected an error after peer reset")
	}
	if rx.Buffered() != 0 {
		t.Fatalf("buffered=%d after failed read", rx.Buffered())
	}
}
