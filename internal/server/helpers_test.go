package server

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/protocol/wire"
	"github.com/danmuck/wlcore/internal/testutil/socktest"
)

// rawClient speaks the wire protocol directly, without any client-side
// object bookkeeping beyond interface lookup.
type rawClient struct {
	t      *testing.T
	sock   *wire.BufferedSocket
	ifaces map[uint32]*protocol.Interface
}

func connect(t *testing.T, b *Backend, data ClientData) (ClientID, *rawClient) {
	t.Helper()
	left, right := socktest.Pair(t)
	id, err := b.InsertClient(right, data)
	if err != nil {
		t.Fatalf("insert client: %v", err)
	}
	return id, &rawClient{
		t:      t,
		sock:   wire.NewBufferedSocket(wire.NewSocket(left)),
		ifaces: map[uint32]*protocol.Interface{schema.DisplayID: schema.Display},
	}
}

func (r *rawClient) sendRaw(sender uint32, opcode uint16, signature []protocol.ArgumentSpec, args ...protocol.Argument) {
	r.t.Helper()
	msg := protocol.Message{SenderID: sender, Opcode: opcode, Args: args}
	if err := r.sock.WriteMessage(msg, signature); err != nil {
		r.t.Fatalf("write %d/%d: %v", sender, opcode, err)
	}
	if err := r.sock.Flush(); err != nil {
		r.t.Fatalf("flush: %v", err)
	}
}

// send writes a request using the signature of the sender's interface and
// records the interface of any created object.
func (r *rawClient) send(sender uint32, opcode uint16, args ...protocol.Argument) {
	r.t.Helper()
	iface := r.ifaces[sender]
	desc, ok := iface.Request(opcode)
	if !ok {
		r.t.Fatalf("no request %d on %s", opcode, iface)
	}
	for i, spec := range desc.Signature {
		if spec.Type == protocol.ArgNewID && spec.Interface != nil {
			r.ifaces[args[i].NewID] = spec.Interface
		}
	}
	r.sendRaw(sender, opcode, desc.Signature, args...)
}

func (r *rawClient) getRegistry(id uint32) {
	r.t.Helper()
	r.send(schema.DisplayID, schema.DisplayGetRegistry, protocol.NewNewID(id))
}

func (r *rawClient) bind(registry, name uint32, iface *protocol.Interface, version, id uint32) {
	r.t.Helper()
	r.ifaces[id] = iface
	r.send(registry, schema.RegistryBind,
		protocol.NewUint(name), protocol.NewString(iface.Name), protocol.NewUint(version), protocol.NewNewID(id))
}

func (r *rawClient) lookup(h wire.Header) ([]protocol.ArgumentSpec, error) {
	iface, ok := r.ifaces[h.ObjectID]
	if !ok {
		return nil, fmt.Errorf("event for unknown object %d", h.ObjectID)
	}
	desc, ok := iface.Event(h.Opcode)
	if !ok {
		return nil, fmt.Errorf("unknown event %d on %s", h.Opcode, iface)
	}
	return desc.Signature, nil
}

func (r *rawClient) next() protocol.Message {
	r.t.Helper()
	for {
		msg, err := r.sock.ReadOneMessage(r.lookup)
		if err == nil {
			desc, _ := r.ifaces[msg.SenderID].Event(msg.Opcode)
			for i, spec := range desc.Signature {
				if spec.Type == protocol.ArgNewID && spec.Interface != nil {
					r.ifaces[msg.Args[i].NewID] = spec.Interface
				}
			}
			return msg
		}
		if !errors.Is(err, wire.ErrMissingData) {
			r.t.Fatalf("read message: %v", err)
		}
		_ = r.sock.Socket().SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := r.sock.FillIncoming(); err != nil {
			r.t.Fatalf("fill: %v", err)
		}
	}
}

func (r *rawClient) expectEvent(sender uint32, opcode uint16) protocol.Message {
	r.t.Helper()
	msg := r.next()
	if msg.SenderID != sender || msg.Opcode != opcode {
		r.t.Fatalf("event got=%d/%d want=%d/%d args=%+v", msg.SenderID, msg.Opcode, sender, opcode, msg.Args)
	}
	return msg
}

// expectError reads the display error event and then the end of stream.
func (r *rawClient) expectError(object, code uint32) string {
	r.t.Helper()
	msg := r.expectEvent(schema.DisplayID, schema.DisplayEventError)
	if msg.Args[0].Object != object || msg.Args[1].Uint != code {
		r.t.Fatalf("error got object=%d code=%d want object=%d code=%d",
			msg.Args[0].Object, msg.Args[1].Uint, object, code)
	}
	text, _ := msg.Args[2].Text()
	r.expectClosed()
	return text
}

func (r *rawClient) expectClosed() {
	r.t.Helper()
	for i := 0; i < 8; i++ {
		_ = r.sock.Socket().SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := r.sock.FillIncoming(); err != nil {
			return
		}
	}
	r.t.Fatalf("connection still open")
}

// roundtrip sends wl_display.sync and reads events until its done, returning
// what arrived before it.
func (r *rawClient) roundtrip(b *Backend, id ClientID, callback uint32) []protocol.Message {
	r.t.Helper()
	r.send(schema.DisplayID, schema.DisplaySync, protocol.NewNewID(callback))
	dispatch(r.t, b, id, 1)
	var before []protocol.Message
	for {
		msg := r.next()
		if msg.SenderID == callback && msg.Opcode == schema.CallbackEventDone {
			r.expectEvent(schema.DisplayID, schema.DisplayEventDeleteID)
			return before
		}
		before = append(before, msg)
	}
}

// dispatch reads from the client until at least want requests have been
// dispatched.
func dispatch(t *testing.T, b *Backend, id ClientID, want int) {
	t.Helper()
	total := 0
	for total < want {
		n, err := b.DispatchClient(id)
		if err != nil {
			t.Fatalf("dispatch after %d messages: %v", total, err)
		}
		total += n
	}
}

// dispatchFatal dispatches until the backend tears the client down.
func dispatchFatal(t *testing.T, b *Backend, id ClientID) {
	t.Helper()
	for i := 0; i < 8; i++ {
		if _, err := b.DispatchClient(id); err != nil {
			if !errors.Is(err, ErrClientGone) {
				t.Fatalf("expected ErrClientGone, got %v", err)
			}
			return
		}
	}
	t.Fatalf("client was not disconnected")
}

type recordingClient struct {
	initialized []ClientID
	reasons     []DisconnectReason
}

func (c *recordingClient) Initialized(id ClientID) {
	c.initialized = append(c.initialized, id)
}

func (c *recordingClient) Disconnected(_ ClientID, reason DisconnectReason) {
	c.reasons = append(c.reasons, reason)
}

type testGlobal struct {
	deny  map[ClientID]bool
	bound []ObjectID
	objs  []*testGlobalObject
}

func newTestGlobal() *testGlobal {
	return &testGlobal{deny: make(map[ClientID]bool)}
}

func (g *testGlobal) CanView(client ClientID, _ ClientData, _ GlobalID) bool {
	return !g.deny[client]
}

func (g *testGlobal) Bind(_ *Handle, _ ClientID, _ GlobalID, object ObjectID) ObjectData {
	g.bound = append(g.bound, object)
	obj := &testGlobalObject{}
	g.objs = append(g.objs, obj)
	return obj
}

type testGlobalObject struct {
	requests  []Request
	children  []*testChild
	destroyed int
}

func (o *testGlobalObject) Request(h *Handle, _ ClientID, req Request) ObjectData {
	o.requests = append(o.requests, req)
	switch req.Opcode {
	case schema.TestGlobalCreateChild:
		child := &testChild{id: req.NewObject}
		o.children = append(o.children, child)
		return child
	case schema.TestGlobalEcho:
		fd := req.Args[5].Fd
		_, _ = writeFd(fd, []byte("pong"))
		closeFd(fd)
		_ = h.SendEvent(req.Sender, schema.TestGlobalEventEchoed, req.Args[:5]...)
	}
	return nil
}

func (o *testGlobalObject) Destroyed(*Handle, ClientID, ObjectID) {
	o.destroyed++
}

type testChild struct {
	id        ObjectID
	destroyed int
}

func (c *testChild) Request(*Handle, ClientID, Request) ObjectData { return nil }

func (c *testChild) Destroyed(*Handle, ClientID, ObjectID) {
	c.destroyed++
}
