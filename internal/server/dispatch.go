package server

import (
	"errors"
	"fmt"

	"github.com/danmuck/wlcore/internal/objmap"
	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/protocol/wire"
)

func errorKind(code uint32) string {
	switch code {
	case schema.ErrorInvalidObject:
		return "invalid_object"
	case schema.ErrorInvalidMethod:
		return "invalid_method"
	case schema.ErrorNoMemory:
		return "no_memory"
	case schema.ErrorImplementation:
		return "implementation"
	default:
		return "handler"
	}
}

func displayError(code uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Code:            code,
		ObjectID:        schema.DisplayID,
		ObjectInterface: schema.Display.Name,
		Message:         fmt.Sprintf(format, args...),
	}
}

func objectError(code uint32, id uint32, iface *protocol.Interface, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Code:            code,
		ObjectID:        id,
		ObjectInterface: iface.String(),
		Message:         fmt.Sprintf(format, args...),
	}
}

// signatureFor resolves the request signature for an incoming header. Ids
// that are free or were never allocated are fatal; zombies still decode.
func (c *Client) signatureFor(h wire.Header) ([]protocol.ArgumentSpec, error) {
	obj, state := c.objects.Find(h.ObjectID)
	if state == objmap.Free {
		return nil, displayError(schema.ErrorInvalidObject, "invalid object %d", h.ObjectID)
	}
	desc, ok := obj.Interface.Request(h.Opcode)
	if !ok {
		return nil, objectError(schema.ErrorInvalidMethod, h.ObjectID, obj.Interface,
			"invalid method %d, object %s@%d", h.Opcode, obj.Interface, h.ObjectID)
	}
	if desc.Since > obj.Version {
		return nil, objectError(schema.ErrorInvalidMethod, h.ObjectID, obj.Interface,
			"%s@%d.%s requires version %d, object has %d", obj.Interface, h.ObjectID, desc.Name, desc.Since, obj.Version)
	}
	return desc.Signature, nil
}

// decodeError maps a ReadOneMessage failure to the error posted to the client.
func (c *Client) decodeError(err error) *ProtocolError {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe
	}
	h, herr := c.socket.PeekHeader()
	if herr != nil {
		return displayError(schema.ErrorInvalidMethod, "malformed message header: %v", err)
	}
	obj, _ := c.objects.Find(h.ObjectID)
	return objectError(schema.ErrorInvalidMethod, h.ObjectID, obj.Interface,
		"malformed arguments for %s@%d opcode %d: %v", obj.Interface, h.ObjectID, h.Opcode, err)
}

// dispatchPending runs every complete message in the incoming buffer until
// the client stops being open. Callers hold both the backend lock and inMu.
func (b *Backend) dispatchPending(c *Client) int {
	n := 0
	for c.state == clientOpen {
		msg, err := c.socket.ReadOneMessage(c.signatureFor)
		if errors.Is(err, wire.ErrMissingData) {
			return n
		}
		if err != nil {
			b.postError(c, c.decodeError(err))
			return n
		}
		n++
		b.dispatchMessage(c, msg)
	}
	return n
}

func (b *Backend) dispatchMessage(c *Client, msg protocol.Message) {
	obj, state := c.objects.Find(msg.SenderID)
	observability.RecordMessage("server", "in", obj.Interface.String())
	desc, _ := obj.Interface.Request(msg.Opcode)
	if state == objmap.Zombie {
		wire.CloseArgFds(msg.Args)
		observability.RecordZombieDrop("server")
		c.log.Debug().Uint32("object", msg.SenderID).Uint16("opcode", msg.Opcode).Msg("request to zombie dropped")
		b.reserveDroppedIDs(c, desc, msg, obj)
		return
	}
	c.log.Trace().
		Uint32("object", msg.SenderID).
		Str("interface", obj.Interface.Name).
		Str("request", desc.Name).
		Msg("request")

	if err := protocol.CheckArgs(desc, msg.Args); err != nil {
		wire.CloseArgFds(msg.Args)
		b.postError(c, objectError(schema.ErrorInvalidMethod, msg.SenderID, obj.Interface, "%v", err))
		return
	}
	drop, perr := c.checkObjectArgs(desc, msg, obj.Interface)
	if perr != nil {
		wire.CloseArgFds(msg.Args)
		b.postError(c, perr)
		return
	}
	if drop {
		wire.CloseArgFds(msg.Args)
		observability.RecordZombieDrop("server")
		c.log.Debug().Uint32("object", msg.SenderID).Str("request", desc.Name).Msg("request naming a zombie dropped")
		b.reserveDroppedIDs(c, desc, msg, obj)
		return
	}

	switch {
	case protocol.SameInterface(obj.Interface, schema.Display):
		b.dispatchDisplay(c, msg)
		return
	case protocol.SameInterface(obj.Interface, schema.Registry):
		b.dispatchBind(c, msg)
		return
	}

	var child ObjectID
	if desc.Constructor() {
		var perr *ProtocolError
		child, perr = c.claimNewID(desc, msg, obj)
		if perr != nil {
			wire.CloseArgFds(msg.Args)
			b.postError(c, perr)
			return
		}
	}

	req := Request{
		Sender:    c.objectID(msg.SenderID, obj),
		Opcode:    msg.Opcode,
		Name:      desc.Name,
		Args:      msg.Args,
		NewObject: child,
	}
	handler := obj.Data
	if handler == nil {
		handler = NopObjectData{}
	}
	data := handler.Request(b.handle, c.id, req)

	if !child.IsNull() {
		if data == nil {
			c.log.Warn().Str("request", desc.Name).Uint32("object", child.id).Msg("constructor handler returned no object data")
			data = NopObjectData{}
		}
		_ = c.objects.With(child.id, func(o *objmap.Object[ObjectData]) {
			if o.Serial == child.serial {
				o.Data = data
			}
		})
	}
	if desc.Destructor && c.state == clientOpen {
		if cur, ok := c.objects.Get(msg.SenderID); ok && cur.Serial == obj.Serial {
			c.destroyByClient(b.handle, msg.SenderID, cur)
		}
	}
}

// checkObjectArgs validates object arguments. Unknown ids are fatal, zombie
// ids make the whole message a no-op.
func (c *Client) checkObjectArgs(desc protocol.MessageDesc, msg protocol.Message, sender *protocol.Interface) (bool, *ProtocolError) {
	drop := false
	for i, spec := range desc.Signature {
		if spec.Type != protocol.ArgObject {
			continue
		}
		id := msg.Args[i].Object
		if id == 0 {
			continue
		}
		target, state := c.objects.Find(id)
		switch state {
		case objmap.Free:
			return false, displayError(schema.ErrorInvalidObject, "invalid object %d in %s argument %d", id, desc.Name, i)
		case objmap.Zombie:
			drop = true
			continue
		}
		if spec.Interface != nil && !protocol.SameInterface(spec.Interface, target.Interface) {
			return false, objectError(schema.ErrorInvalidMethod, msg.SenderID, sender,
				"%s argument %d: object %d is %s, want %s", desc.Name, i, id, target.Interface, spec.Interface)
		}
	}
	return drop, nil
}

// reserveDroppedIDs claims the new ids of a dropped request so the client's
// id sequence stays intact. The children are born dead and released with
// delete_id right away.
func (b *Backend) reserveDroppedIDs(c *Client, desc protocol.MessageDesc, msg protocol.Message, parent objmap.Object[ObjectData]) {
	for i, spec := range desc.Signature {
		if spec.Type != protocol.ArgNewID {
			continue
		}
		iface, version := spec.Interface, parent.Version
		if iface == nil && i >= 2 {
			// Generic new_id follows its interface name and version.
			name, _ := msg.Args[i-2].Text()
			iface, version = b.registry.interfaceNamed(name), msg.Args[i-1].Uint
		}
		if iface == nil {
			b.postError(c, objectError(schema.ErrorImplementation, msg.SenderID, parent.Interface,
				"%s: no interface for dropped new id %d", desc.Name, msg.Args[i].NewID))
			return
		}
		version = min(version, iface.Version)
		child, perr := c.insertClientObject(msg.Args[i].NewID, iface, version, nil)
		if perr != nil {
			b.postError(c, perr)
			return
		}
		_ = c.objects.Zombify(child.id)
		c.log.Debug().Uint32("object", child.id).Str("interface", iface.Name).Msg("new id of dropped request released")
		c.sendDeleteID(b.handle, child.id)
	}
}

// claimNewID inserts the object named by a constructor request. Children
// inherit the version of their parent.
func (c *Client) claimNewID(desc protocol.MessageDesc, msg protocol.Message, parent objmap.Object[ObjectData]) (ObjectID, *ProtocolError) {
	iface := desc.ChildInterface()
	if iface == nil {
		return ObjectID{}, objectError(schema.ErrorImplementation, msg.SenderID, parent.Interface,
			"%s: generic constructors are only supported on %s", desc.Name, schema.Registry.Name)
	}
	var newID uint32
	for i, spec := range desc.Signature {
		if spec.Type == protocol.ArgNewID {
			newID = msg.Args[i].NewID
			break
		}
	}
	version := parent.Version
	if version > iface.Version {
		version = iface.Version
	}
	return c.insertClientObject(newID, iface, version, nil)
}

func (c *Client) insertClientObject(id uint32, iface *protocol.Interface, version uint32, data ObjectData) (ObjectID, *ProtocolError) {
	if objmap.IsServerID(id) {
		return ObjectID{}, displayError(schema.ErrorInvalidObject, "invalid new id %d: server range", id)
	}
	obj := objmap.Object[ObjectData]{Interface: iface, Version: version, Serial: c.nextSerial(), Data: data}
	if err := c.objects.InsertAt(id, obj); err != nil {
		return ObjectID{}, displayError(schema.ErrorInvalidObject, "invalid new id %d: %v", id, err)
	}
	return c.objectID(id, obj), nil
}

func (b *Backend) dispatchDisplay(c *Client, msg protocol.Message) {
	switch msg.Opcode {
	case schema.DisplaySync:
		cb, perr := c.insertClientObject(msg.Args[0].NewID, schema.Callback, 1, NopObjectData{})
		if perr != nil {
			b.postError(c, perr)
			return
		}
		_ = c.sendEvent(b.handle, cb, schema.CallbackEventDone, []protocol.Argument{protocol.NewUint(0)})
	case schema.DisplayGetRegistry:
		reg, perr := c.insertClientObject(msg.Args[0].NewID, schema.Registry, 1, NopObjectData{})
		if perr != nil {
			b.postError(c, perr)
			return
		}
		if err := b.registry.newRegistry(b, reg, c); err != nil {
			c.log.Debug().Err(err).Msg("global enumeration aborted")
		}
	}
}

func (b *Backend) dispatchBind(c *Client, msg protocol.Message) {
	name := msg.Args[0].Uint
	ifaceName, _ := msg.Args[1].Text()
	version := msg.Args[2].Uint
	newID := msg.Args[3].NewID

	g, ok := b.registry.checkBind(c, name, ifaceName, version)
	if !ok {
		b.postError(c, objectError(schema.ErrorInvalidObject, msg.SenderID, schema.Registry,
			"invalid binding of %s version %d for global %d", ifaceName, version, name))
		return
	}
	object, perr := c.insertClientObject(newID, g.iface, version, nil)
	if perr != nil {
		b.postError(c, perr)
		return
	}
	c.log.Debug().Uint32("global", name).Str("interface", ifaceName).Uint32("version", version).Uint32("object", newID).Msg("bind")
	data := g.handler.Bind(b.handle, c.id, g.id, object)
	if data == nil {
		c.log.Warn().Str("interface", ifaceName).Msg("bind handler returned no object data")
		data = NopObjectData{}
	}
	_ = c.objects.With(newID, func(o *objmap.Object[ObjectData]) {
		if o.Serial == object.serial {
			o.Data = data
		}
	})
}

// postError delivers a fatal error best effort and closes the connection.
func (b *Backend) postError(c *Client, pe *ProtocolError) {
	if c.state != clientOpen {
		return
	}
	observability.RecordProtocolError("server", errorKind(pe.Code))
	c.log.Warn().
		Uint32("code", pe.Code).
		Uint32("object", pe.ObjectID).
		Str("interface", pe.ObjectInterface).
		Str("message", pe.Message).
		Msg("protocol error")
	desc, _ := schema.Display.Event(schema.DisplayEventError)
	msg := protocol.Message{
		SenderID: schema.DisplayID,
		Opcode:   schema.DisplayEventError,
		Args: []protocol.Argument{
			protocol.NewObject(pe.ObjectID),
			protocol.NewUint(pe.Code),
			protocol.NewString(pe.Message),
		},
	}
	if err := c.writeMessage(msg, desc.Signature, b.cfg.WriteTimeout); err == nil {
		_ = c.flush(b.cfg.WriteTimeout)
	}
	b.kill(c, DisconnectReason{Kind: ProtocolViolation, Error: pe})
}
