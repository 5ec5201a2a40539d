package schema

import "github.com/danmuck/wlcore/internal/protocol"

// DisplayID is the protocol id of the root object on every connection.
const DisplayID uint32 = 1

// wl_display opcodes.
const (
	DisplaySync        uint16 = 0
	DisplayGetRegistry uint16 = 1

	DisplayEventError    uint16 = 0
	DisplayEventDeleteID uint16 = 1
)

// wl_display.error codes.
const (
	ErrorInvalidObject  uint32 = 0
	ErrorInvalidMethod  uint32 = 1
	ErrorNoMemory       uint32 = 2
	ErrorImplementation uint32 = 3
)

// wl_registry opcodes.
const (
	RegistryBind uint16 = 0

	RegistryEventGlobal       uint16 = 0
	RegistryEventGlobalRemove uint16 = 1
)

// wl_callback opcodes.
const (
	CallbackEventDone uint16 = 0
)

var (
	u   = protocol.ArgumentSpec{Type: protocol.ArgUint}
	i   = protocol.ArgumentSpec{Type: protocol.ArgInt}
	f   = protocol.ArgumentSpec{Type: protocol.ArgFixed}
	s   = protocol.ArgumentSpec{Type: protocol.ArgStr}
	sn  = protocol.ArgumentSpec{Type: protocol.ArgStr, AllowNull: true}
	a   = protocol.ArgumentSpec{Type: protocol.ArgArray}
	h   = protocol.ArgumentSpec{Type: protocol.ArgFd}
	obj = protocol.ArgumentSpec{Type: protocol.ArgObject}
	gen = protocol.ArgumentSpec{Type: protocol.ArgNewID}
)

func newID(iface *protocol.Interface) protocol.ArgumentSpec {
	return protocol.ArgumentSpec{Type: protocol.ArgNewID, Interface: iface}
}

func object(iface *protocol.Interface, allowNull bool) protocol.ArgumentSpec {
	return protocol.ArgumentSpec{Type: protocol.ArgObject, Interface: iface, AllowNull: allowNull}
}

func sig(specs ...protocol.ArgumentSpec) []protocol.ArgumentSpec {
	return specs
}

// Callback is wl_callback.
var Callback = &protocol.Interface{
	Name:     "wl_callback",
	Version:  1,
	Requests: []protocol.MessageDesc{},
	Events: []protocol.MessageDesc{
		{Name: "done", Signature: sig(u), Since: 1, Destructor: true},
	},
}

// Registry is wl_registry.
var Registry = &protocol.Interface{
	Name:    "wl_registry",
	Version: 1,
	Requests: []protocol.MessageDesc{
		{Name: "bind", Signature: sig(u, s, u, gen), Since: 1},
	},
	Events: []protocol.MessageDesc{
		{Name: "global", Signature: sig(u, s, u), Since: 1},
		{Name: "global_remove", Signature: sig(u), Since: 1},
	},
}

// Display is wl_display, the root object with protocol id 1.
var Display = &protocol.Interface{
	Name:    "wl_display",
	Version: 1,
	Requests: []protocol.MessageDesc{
		{Name: "sync", Signature: sig(newID(Callback)), Since: 1},
		{Name: "get_registry", Signature: sig(newID(Registry)), Since: 1},
	},
	Events: []protocol.MessageDesc{
		{Name: "error", Signature: sig(obj, u, s), Since: 1},
		{Name: "delete_id", Signature: sig(u), Since: 1},
	},
}
