package server

import (
	"fmt"

	"github.com/danmuck/wlcore/internal/protocol"
)

// ClientID identifies one connection. The serial rejects handles to a slot
// that has since been reused by another client.
type ClientID struct {
	id     uint32
	serial uint32
}

func (c ClientID) String() string {
	return fmt.Sprintf("client#%d.%d", c.id, c.serial)
}

// IsZero reports whether c is the zero handle.
func (c ClientID) IsZero() bool {
	return c.id == 0
}

// ObjectID is a server-side handle to one protocol object.
type ObjectID struct {
	id     uint32
	serial uint32
	client ClientID
	iface  *protocol.Interface
}

// ProtocolID returns the id used on the wire.
func (o ObjectID) ProtocolID() uint32 { return o.id }

// Interface returns the interface of the object.
func (o ObjectID) Interface() *protocol.Interface { return o.iface }

// Client returns the connection owning the object.
func (o ObjectID) Client() ClientID { return o.client }

// IsNull reports whether o refers to no object.
func (o ObjectID) IsNull() bool { return o.id == 0 }

func (o ObjectID) String() string {
	return fmt.Sprintf("%s@%d", o.iface, o.id)
}

// GlobalID identifies one global. Name is the public protocol name.
type GlobalID struct {
	id     uint32
	serial uint32
}

// Name returns the protocol name advertised to clients.
func (g GlobalID) Name() uint32 { return g.id }

func (g GlobalID) String() string {
	return fmt.Sprintf("global#%d.%d", g.id, g.serial)
}
