package server

import (
	"fmt"

	"github.com/danmuck/wlcore/internal/objmap"
	"github.com/danmuck/wlcore/internal/protocol"
	"golang.org/x/sys/unix"
)

// Handle is the view of the backend given to handlers and to Backend.Do.
// It is only valid while the backend lock is held.
type Handle struct {
	b *Backend
}

// ObjectInfo describes a live object.
type ObjectInfo struct {
	ID        uint32
	Interface *protocol.Interface
	Version   uint32
}

// CreateGlobal registers a global and advertises it to every registry whose
// client may see it.
func (h *Handle) CreateGlobal(iface *protocol.Interface, version uint32, handler GlobalHandler) (GlobalID, error) {
	return h.b.registry.create(h.b, iface, version, handler)
}

// DisableGlobal stops advertising a global. Calling it twice is a no-op.
func (h *Handle) DisableGlobal(id GlobalID) {
	h.b.registry.disable(h.b, id)
}

// RemoveGlobal disables a global and frees its name for reuse.
func (h *Handle) RemoveGlobal(id GlobalID) {
	h.b.registry.remove(h.b, id)
}

// GlobalInfo returns the description of a global.
func (h *Handle) GlobalInfo(id GlobalID) (GlobalInfo, error) {
	return h.b.registry.info(id)
}

// CheckBind reports whether client may bind name at version.
func (h *Handle) CheckBind(client ClientID, name uint32, ifaceName string, version uint32) (GlobalID, bool) {
	c, err := h.b.clients.get(client)
	if err != nil {
		return GlobalID{}, false
	}
	g, ok := h.b.registry.checkBind(c, name, ifaceName, version)
	if !ok {
		return GlobalID{}, false
	}
	return g.id, true
}

// CreateObject allocates a server-range object on client. The client learns
// about it through a new_id argument of a later event.
func (h *Handle) CreateObject(client ClientID, iface *protocol.Interface, version uint32, data ObjectData) (ObjectID, error) {
	c, err := h.b.clients.get(client)
	if err != nil {
		return ObjectID{}, err
	}
	if c.state != clientOpen {
		return ObjectID{}, ErrClientGone
	}
	if iface == nil || version == 0 || version > iface.Version {
		return ObjectID{}, fmt.Errorf("%w: %s version %d", ErrInvalidArgument, iface, version)
	}
	if data == nil {
		data = NopObjectData{}
	}
	obj := objmap.Object[ObjectData]{Interface: iface, Version: version, Serial: c.nextSerial(), Data: data}
	id, err := c.objects.ServerInsertNew(obj)
	if err != nil {
		return ObjectID{}, err
	}
	return c.objectID(id, obj), nil
}

// ObjectInfo returns the description of a live object.
func (h *Handle) ObjectInfo(id ObjectID) (ObjectInfo, error) {
	c, err := h.b.clients.get(id.client)
	if err != nil {
		return ObjectInfo{}, err
	}
	obj, state, err := c.resolve(id)
	if err != nil {
		return ObjectInfo{}, err
	}
	if state != objmap.Live {
		return ObjectInfo{}, InvalidIDError{What: "object", ID: id.id}
	}
	return ObjectInfo{ID: id.id, Interface: obj.Interface, Version: obj.Version}, nil
}

// Lookup resolves a protocol id received in a request to a live object.
func (h *Handle) Lookup(client ClientID, protocolID uint32) (ObjectID, error) {
	c, err := h.b.clients.get(client)
	if err != nil {
		return ObjectID{}, err
	}
	obj, ok := c.objects.Get(protocolID)
	if !ok {
		return ObjectID{}, InvalidIDError{What: "object", ID: protocolID}
	}
	return c.objectID(protocolID, obj), nil
}

// SendEvent queues an event from object. Events to objects the client has
// already destroyed are silently dropped.
func (h *Handle) SendEvent(object ObjectID, opcode uint16, args ...protocol.Argument) error {
	c, err := h.b.clients.get(object.client)
	if err != nil {
		return err
	}
	return c.sendEvent(h, object, opcode, args)
}

// PostError sends a fatal protocol error naming object and disconnects its
// client.
func (h *Handle) PostError(object ObjectID, code uint32, message string) error {
	c, err := h.b.clients.get(object.client)
	if err != nil {
		return err
	}
	if _, _, err := c.resolve(object); err != nil {
		return err
	}
	h.b.postError(c, &ProtocolError{
		Code:            code,
		ObjectID:        object.id,
		ObjectInterface: object.iface.String(),
		Message:         message,
	})
	return nil
}

// KillClient disconnects client without sending anything.
func (h *Handle) KillClient(client ClientID, reason DisconnectReason) {
	c, err := h.b.clients.get(client)
	if err != nil {
		return
	}
	h.b.kill(c, reason)
}

// ClientCredentials returns the peer credentials captured at connect time.
func (h *Handle) ClientCredentials(client ClientID) (*unix.Ucred, error) {
	c, err := h.b.clients.get(client)
	if err != nil {
		return nil, err
	}
	if c.cred == nil {
		return nil, fmt.Errorf("server: no credentials for %s", client)
	}
	return c.cred, nil
}

// ClientData returns the data passed to InsertClient.
func (h *Handle) ClientData(client ClientID) (ClientData, error) {
	c, err := h.b.clients.get(client)
	if err != nil {
		return nil, err
	}
	return c.data, nil
}

// Clients lists open clients in slot order.
func (h *Handle) Clients() []ClientID {
	var out []ClientID
	h.b.clients.each(func(c *Client) bool {
		if c.state == clientOpen {
			out = append(out, c.id)
		}
		return true
	})
	return out
}

// ClientObjects lists the live objects of client in id order.
func (h *Handle) ClientObjects(client ClientID) ([]ObjectID, error) {
	c, err := h.b.clients.get(client)
	if err != nil {
		return nil, err
	}
	var out []ObjectID
	c.objects.Each(func(id uint32, obj objmap.Object[ObjectData], state objmap.State) bool {
		if state == objmap.Live {
			out = append(out, c.objectID(id, obj))
		}
		return true
	})
	return out, nil
}
