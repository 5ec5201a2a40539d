package server

import "github.com/danmuck/wlcore/internal/protocol"

// ClientData is the per-connection capability supplied at InsertClient.
type ClientData interface {
	Initialized(client ClientID)
	Disconnected(client ClientID, reason DisconnectReason)
}

// GlobalHandler is the capability behind one global.
type GlobalHandler interface {
	// CanView decides whether client may see and bind global.
	CanView(client ClientID, data ClientData, global GlobalID) bool
	// Bind attaches behavior to the object created by a successful bind. It
	// is called exactly once per bind.
	Bind(h *Handle, client ClientID, global GlobalID, object ObjectID) ObjectData
}

// ObjectData is the capability behind one protocol object.
type ObjectData interface {
	// Request handles one validated request. For constructor requests the
	// returned data is attached to msg.NewObject.
	Request(h *Handle, client ClientID, msg Request) ObjectData
	// Destroyed runs once when the object leaves the table.
	Destroyed(h *Handle, client ClientID, object ObjectID)
}

// Request is one decoded request addressed to a live object.
//
// Object arguments stay raw protocol ids; resolve them with Handle.Lookup.
// Fd arguments are owned by the handler.
type Request struct {
	Sender    ObjectID
	Opcode    uint16
	Name      string
	Args      []protocol.Argument
	NewObject ObjectID
}

// NopObjectData ignores every request.
type NopObjectData struct{}

func (NopObjectData) Request(*Handle, ClientID, Request) ObjectData { return NopObjectData{} }
func (NopObjectData) Destroyed(*Handle, ClientID, ObjectID)          {}

// NopClientData ignores connection lifecycle notifications.
type NopClientData struct{}

func (NopClientData) Initialized(ClientID)                    {}
func (NopClientData) Disconnected(ClientID, DisconnectReason) {}

// VisibleToAll is embeddable by global handlers without visibility rules.
type VisibleToAll struct{}

func (VisibleToAll) CanView(ClientID, ClientData, GlobalID) bool { return true }
