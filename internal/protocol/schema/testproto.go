package schema

import "github.com/danmuck/wlcore/internal/protocol"

// test_global opcodes.
const (
	TestGlobalCreateChild uint16 = 0
	TestGlobalEcho        uint16 = 1
	TestGlobalLink        uint16 = 2
	TestGlobalDestroy     uint16 = 3

	TestGlobalEventChild  uint16 = 0
	TestGlobalEventEchoed uint16 = 1
)

// test_child opcodes.
const (
	TestChildDestroy uint16 = 0
	TestChildSpawn   uint16 = 1

	TestChildEventPing  uint16 = 0
	TestChildEventSpawn uint16 = 1
	TestChildEventGone  uint16 = 2
)

// TestChild is a leaf object created by either peer.
var TestChild = &protocol.Interface{
	Name:    "test_child",
	Version: 5,
	Requests: []protocol.MessageDesc{
		{Name: "destroy", Signature: sig(), Since: 1, Destructor: true},
		{Name: "spawn", Signature: nil, Since: 1},
	},
	Events: []protocol.MessageDesc{
		{Name: "ping", Signature: sig(u), Since: 1},
		{Name: "spawn", Signature: nil, Since: 2},
		{Name: "gone", Signature: sig(), Since: 1, Destructor: true},
	},
}

// test_child.spawn creates another test_child, which a composite literal
// cannot reference during its own initialisation.
func init() {
	TestChild.Requests[TestChildSpawn].Signature = sig(newID(TestChild))
	TestChild.Events[TestChildEventSpawn].Signature = sig(newID(TestChild))
}

// TestGlobal is the demo global used by the daemon and the tests.
var TestGlobal = &protocol.Interface{
	Name:    "test_global",
	Version: 5,
	Requests: []protocol.MessageDesc{
		{Name: "create_child", Signature: sig(newID(TestChild)), Since: 1},
		{Name: "echo", Signature: sig(i, u, f, sn, a, h), Since: 1},
		{Name: "link", Signature: sig(object(TestChild, false), object(TestChild, true)), Since: 2},
		{Name: "destroy", Signature: sig(), Since: 1, Destructor: true},
	},
	Events: []protocol.MessageDesc{
		{Name: "child", Signature: sig(newID(TestChild)), Since: 1},
		{Name: "echoed", Signature: sig(i, u, f, sn, a), Since: 1},
	},
}
