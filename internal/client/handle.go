package client

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/danmuck/wlcore/internal/objmap"
	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/protocol/wire"
)

// Handle is the view of a client backend given to handlers and to
// Backend.Do. It is only valid while the backend lock is held.
type Handle struct {
	b *Backend
}

// ObjectInfo describes a live object.
type ObjectInfo struct {
	ID        uint32
	Interface *protocol.Interface
	Version   uint32
}

// DisplayID returns the handle of the wl_display object.
func (h *Handle) DisplayID() ObjectID {
	obj, _ := h.b.objects.Find(schema.DisplayID)
	return h.b.objectID(schema.DisplayID, obj)
}

// ObjectInfo returns the description of a live object.
func (h *Handle) ObjectInfo(id ObjectID) (ObjectInfo, error) {
	obj, ok := h.b.objects.Get(id.id)
	if !ok || obj.Serial != id.serial {
		return ObjectInfo{}, InvalidIDError{ID: id.id}
	}
	return ObjectInfo{ID: id.id, Interface: obj.Interface, Version: obj.Version}, nil
}

// SendRequest queues a request from sender.
//
// For constructor requests the new_id argument is a placeholder: the lowest
// free client id is allocated and written in its place, and the new object
// is returned. Destructor requests turn sender into a zombie.
func (h *Handle) SendRequest(sender ObjectID, opcode uint16, args []protocol.Argument, child *NewObject) (ObjectID, error) {
	b := h.b
	if b.err != nil {
		return ObjectID{}, b.err
	}
	obj, ok := b.objects.Get(sender.id)
	if !ok || obj.Serial != sender.serial {
		return ObjectID{}, InvalidIDError{ID: sender.id}
	}
	desc, err := protocol.LookupRequest(obj.Interface, obj.Version, opcode)
	if err != nil {
		return ObjectID{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if len(args) != len(desc.Signature) {
		return ObjectID{}, fmt.Errorf("%w: %s takes %d arguments, got %d",
			ErrInvalidArgument, desc.Name, len(desc.Signature), len(args))
	}
	newIDIndex := -1
	for i, spec := range desc.Signature {
		switch spec.Type {
		case protocol.ArgNewID:
			newIDIndex = i
		case protocol.ArgObject:
			if args[i].Object == 0 {
				continue
			}
			target, ok := b.objects.Get(args[i].Object)
			if !ok {
				return ObjectID{}, InvalidIDError{ID: args[i].Object}
			}
			if spec.Interface != nil && !protocol.SameInterface(spec.Interface, target.Interface) {
				return ObjectID{}, fmt.Errorf("%w: %s argument %d is %s, want %s",
					ErrInvalidArgument, desc.Name, i, target.Interface, spec.Interface)
			}
		}
	}

	var created ObjectID
	out := args
	if newIDIndex >= 0 {
		iface, version := desc.ChildInterface(), obj.Version
		var data ObjectData
		if child != nil {
			if child.Interface != nil {
				iface = child.Interface
			}
			if child.Version != 0 {
				version = child.Version
			}
			data = child.Data
		}
		if iface == nil {
			return ObjectID{}, fmt.Errorf("%w: %s needs an interface for its new object", ErrInvalidArgument, desc.Name)
		}
		if child != nil && child.Version > iface.Version {
			return ObjectID{}, fmt.Errorf("%w: %s version %d above maximum %d",
				ErrInvalidArgument, iface, child.Version, iface.Version)
		}
		if version > iface.Version {
			version = iface.Version
		}
		if data == nil {
			data = NopObjectData{}
		}
		rec := objmap.Object[ObjectData]{Interface: iface, Version: version, Serial: b.nextSerial(), Data: data}
		id, err := b.objects.ClientInsertNew(rec)
		if err != nil {
			return ObjectID{}, err
		}
		created = b.objectID(id, rec)
		out = slices.Clone(args)
		out[newIDIndex] = protocol.NewNewID(id)
	}
	// The new_id placeholder is checked after it has been replaced.
	if err := protocol.CheckArgs(desc, out); err != nil {
		if !created.IsNull() {
			b.objects.Remove(created.id)
		}
		return ObjectID{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if b.cfg.WriteTimeout > 0 {
		_ = b.socket.Socket().SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}
	msg := protocol.Message{SenderID: sender.id, Opcode: opcode, Args: out}
	if err := b.socket.WriteMessage(msg, desc.Signature); err != nil {
		if !created.IsNull() {
			b.objects.Remove(created.id)
		}
		if errors.Is(err, wire.ErrMessageTooLarge) || errors.Is(err, wire.ErrInvalidString) || errors.Is(err, wire.ErrTooManyFds) {
			return ObjectID{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		b.fail(fmt.Errorf("%w: %v", ErrClosed, err))
		return ObjectID{}, b.err
	}
	observability.RecordMessage("client", "out", obj.Interface.Name)
	b.log.Trace().Uint32("object", sender.id).Str("interface", obj.Interface.Name).Str("request", desc.Name).Msg("request queued")

	if desc.Destructor {
		_ = b.objects.Zombify(sender.id)
		if obj.Data != nil {
			obj.Data.Destroyed(sender)
		}
		if serial, ok := b.released[sender.id]; ok && serial == sender.serial {
			delete(b.released, sender.id)
			b.objects.Remove(sender.id)
		}
	}
	return created, nil
}

// GetRegistry creates a registry object.
func (h *Handle) GetRegistry(data ObjectData) (ObjectID, error) {
	return h.SendRequest(h.DisplayID(), schema.DisplayGetRegistry,
		[]protocol.Argument{protocol.NewNewID(0)}, &NewObject{Data: data})
}

// Sync queues wl_display.sync. data receives the callback's done event.
func (h *Handle) Sync(data ObjectData) (ObjectID, error) {
	return h.SendRequest(h.DisplayID(), schema.DisplaySync,
		[]protocol.Argument{protocol.NewNewID(0)}, &NewObject{Data: data})
}

// Bind binds global name at version through registry.
func (h *Handle) Bind(registry ObjectID, name uint32, iface *protocol.Interface, version uint32, data ObjectData) (ObjectID, error) {
	if iface == nil || version == 0 {
		return ObjectID{}, fmt.Errorf("%w: bind needs an interface and a version", ErrInvalidArgument)
	}
	args := []protocol.Argument{
		protocol.NewUint(name),
		protocol.NewString(iface.Name),
		protocol.NewUint(version),
		protocol.NewNewID(0),
	}
	return h.SendRequest(registry, schema.RegistryBind, args, &NewObject{Interface: iface, Version: version, Data: data})
}
