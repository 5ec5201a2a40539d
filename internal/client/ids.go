package client

import (
	"fmt"

	"github.com/danmuck/wlcore/internal/protocol"
)

// ObjectID is a client-side handle to one protocol object.
type ObjectID struct {
	id     uint32
	serial uint32
	iface  *protocol.Interface
}

// ProtocolID returns the id used on the wire.
func (o ObjectID) ProtocolID() uint32 { return o.id }

// Interface returns the interface of the object.
func (o ObjectID) Interface() *protocol.Interface { return o.iface }

// IsNull reports whether o refers to no object.
func (o ObjectID) IsNull() bool { return o.id == 0 }

func (o ObjectID) String() string {
	return fmt.Sprintf("%s@%d", o.iface, o.id)
}

// ObjectData is the capability behind one client-side object.
type ObjectData interface {
	// Event handles one event addressed to a live object. For events that
	// create an object the returned data is attached to it.
	Event(h *Handle, ev Event) ObjectData
	// Destroyed runs once when the object is destroyed by either side.
	Destroyed(object ObjectID)
}

// Event is one decoded event. Fd arguments are owned by the handler.
type Event struct {
	Sender    ObjectID
	Opcode    uint16
	Name      string
	Args      []protocol.Argument
	NewObject ObjectID
}

// NewObject describes the object created by a constructor request. Interface
// and Version default to the message's declared interface and the sender's
// version; generic constructors such as wl_registry.bind must set both.
type NewObject struct {
	Interface *protocol.Interface
	Version   uint32
	Data      ObjectData
}

// NopObjectData ignores every event.
type NopObjectData struct{}

func (NopObjectData) Event(*Handle, Event) ObjectData { return nil }
func (NopObjectData) Destroyed(ObjectID)              {}
