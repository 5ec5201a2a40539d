package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/wlcore/internal/objmap"
	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/protocol/wire"
)

// signatureFor resolves the event signature for an incoming header. Zombies
// keep their interface so racing events still decode.
func (b *Backend) signatureFor(h wire.Header) ([]protocol.ArgumentSpec, error) {
	obj, state := b.objects.Find(h.ObjectID)
	if state == objmap.Free {
		return nil, fmt.Errorf("%w: event for unknown object %d", ErrServerViolation, h.ObjectID)
	}
	desc, ok := obj.Interface.Event(h.Opcode)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event %d on %s@%d", ErrServerViolation, h.Opcode, obj.Interface, h.ObjectID)
	}
	if desc.Since > obj.Version {
		return nil, fmt.Errorf("%w: %s@%d.%s requires version %d, object has %d",
			ErrServerViolation, obj.Interface, h.ObjectID, desc.Name, desc.Since, obj.Version)
	}
	return desc.Signature, nil
}

func (b *Backend) dispatchPending() int {
	n := 0
	for b.err == nil {
		msg, err := b.socket.ReadOneMessage(b.signatureFor)
		if errors.Is(err, wire.ErrMissingData) {
			return n
		}
		if err != nil {
			if !errors.Is(err, ErrServerViolation) {
				err = fmt.Errorf("%w: %v", ErrServerViolation, err)
			}
			b.fail(err)
			return n
		}
		n++
		b.dispatchEvent(msg)
	}
	return n
}

func (b *Backend) dispatchEvent(msg protocol.Message) {
	obj, state := b.objects.Find(msg.SenderID)
	desc, _ := obj.Interface.Event(msg.Opcode)
	observability.RecordMessage("client", "in", obj.Interface.Name)

	if state == objmap.Zombie {
		wire.CloseArgFds(msg.Args)
		observability.RecordZombieDrop("client")
		b.log.Debug().Uint32("object", msg.SenderID).Str("event", desc.Name).Msg("event to zombie dropped")
		// Objects created by a dropped event are born dead so that later
		// events to them are dropped too.
		for i, spec := range desc.Signature {
			if spec.Type != protocol.ArgNewID || spec.Interface == nil {
				continue
			}
			id := msg.Args[i].NewID
			rec := objmap.Object[ObjectData]{Interface: spec.Interface, Version: obj.Version, Serial: b.nextSerial()}
			if err := b.objects.Place(id, rec); err != nil {
				b.fail(fmt.Errorf("%w: new id %d: %v", ErrServerViolation, id, err))
				return
			}
			_ = b.objects.Zombify(id)
		}
		return
	}

	if protocol.SameInterface(obj.Interface, schema.Display) {
		b.dispatchDisplay(msg)
		return
	}

	var child ObjectID
	for i, spec := range desc.Signature {
		switch spec.Type {
		case protocol.ArgObject:
			id := msg.Args[i].Object
			if id == 0 {
				continue
			}
			if _, st := b.objects.Find(id); st == objmap.Free {
				wire.CloseArgFds(msg.Args)
				b.fail(fmt.Errorf("%w: %s references unknown object %d", ErrServerViolation, desc.Name, id))
				return
			}
		case protocol.ArgNewID:
			iface := spec.Interface
			if iface == nil {
				wire.CloseArgFds(msg.Args)
				b.fail(fmt.Errorf("%w: generic new_id in event %s", ErrServerViolation, desc.Name))
				return
			}
			version := obj.Version
			if version > iface.Version {
				version = iface.Version
			}
			id := msg.Args[i].NewID
			if !objmap.IsServerID(id) {
				wire.CloseArgFds(msg.Args)
				b.fail(fmt.Errorf("%w: event new id %d outside server range", ErrServerViolation, id))
				return
			}
			rec := objmap.Object[ObjectData]{Interface: iface, Version: version, Serial: b.nextSerial()}
			if err := b.objects.Place(id, rec); err != nil {
				wire.CloseArgFds(msg.Args)
				b.fail(fmt.Errorf("%w: new id %d: %v", ErrServerViolation, id, err))
				return
			}
			child = b.objectID(id, rec)
		}
	}

	handler := obj.Data
	if handler == nil {
		handler = NopObjectData{}
	}
	sender := b.objectID(msg.SenderID, obj)
	data := handler.Event(b.handle, Event{
		Sender:    sender,
		Opcode:    msg.Opcode,
		Name:      desc.Name,
		Args:      msg.Args,
		NewObject: child,
	})
	if !child.IsNull() {
		if data == nil {
			b.log.Warn().Str("event", desc.Name).Uint32("object", child.id).Msg("event handler returned no data for new object")
			data = NopObjectData{}
		}
		_ = b.objects.With(child.id, func(o *objmap.Object[ObjectData]) {
			if o.Serial == child.serial {
				o.Data = data
			}
		})
	}

	if desc.Destructor {
		cur, ok := b.objects.Get(msg.SenderID)
		if !ok || cur.Serial != obj.Serial {
			return
		}
		_ = b.objects.Zombify(msg.SenderID)
		if cur.Data != nil {
			cur.Data.Destroyed(sender)
		}
		// The server never sends delete_id for its own range.
		if objmap.IsServerID(msg.SenderID) {
			b.objects.Remove(msg.SenderID)
		}
	}
}

func (b *Backend) dispatchDisplay(msg protocol.Message) {
	switch msg.Opcode {
	case schema.DisplayEventError:
		id := msg.Args[0].Object
		ifaceName := "<unknown>"
		if obj, state := b.objects.Find(id); state != objmap.Free {
			ifaceName = obj.Interface.Name
		}
		text, _ := msg.Args[2].Text()
		b.fail(&ProtocolError{
			Code:            msg.Args[1].Uint,
			ObjectID:        id,
			ObjectInterface: ifaceName,
			Message:         text,
		})
	case schema.DisplayEventDeleteID:
		id := msg.Args[0].Uint
		switch obj, state := b.objects.Find(id); state {
		case objmap.Zombie:
			delete(b.released, id)
			b.objects.Remove(id)
		case objmap.Live:
			// The server dropped the request that created this object.
			b.log.Debug().Uint32("object", id).Msg("delete_id for a live object, released on destroy")
			b.released[id] = obj.Serial
		}
	}
}
