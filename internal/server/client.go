package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/wlcore/internal/objmap"
	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/protocol/wire"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

type clientState uint8

const (
	clientOpen clientState = iota
	clientClosing
	clientClosed
)

// Client is the server-side state of one connection.
type Client struct {
	id        ClientID
	session   xid.ID
	socket    *wire.BufferedSocket
	objects   *objmap.Map[ObjectData]
	data      ClientData
	cred      *unix.Ucred
	connected time.Time
	log       zerolog.Logger

	state          clientState
	reason         DisconnectReason
	lastSerial     uint32
	pendingRelease []uint32

	// inMu guards the incoming half of socket. Lock order: Backend.mu, inMu.
	inMu sync.Mutex
}

func (c *Client) nextSerial() uint32 {
	c.lastSerial++
	if c.lastSerial == 0 {
		c.lastSerial = 1
	}
	return c.lastSerial
}

func (c *Client) objectID(id uint32, obj objmap.Object[ObjectData]) ObjectID {
	return ObjectID{id: id, serial: obj.Serial, client: c.id, iface: obj.Interface}
}

// resolve returns the record named by oid, live or zombie.
func (c *Client) resolve(oid ObjectID) (objmap.Object[ObjectData], objmap.State, error) {
	if oid.client != c.id {
		return objmap.Object[ObjectData]{}, objmap.Free, InvalidIDError{What: "object", ID: oid.id}
	}
	obj, state := c.objects.Find(oid.id)
	if state == objmap.Free || obj.Serial != oid.serial {
		return objmap.Object[ObjectData]{}, objmap.Free, InvalidIDError{What: "object", ID: oid.id}
	}
	return obj, state, nil
}

func (c *Client) writeMessage(msg protocol.Message, signature []protocol.ArgumentSpec, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.socket.Socket().SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.socket.WriteMessage(msg, signature)
}

// flush drains the outgoing buffer, then frees server-range ids whose
// destructor events have now reached the socket.
func (c *Client) flush(timeout time.Duration) error {
	if c.socket.Pending() {
		if timeout > 0 {
			_ = c.socket.Socket().SetWriteDeadline(time.Now().Add(timeout))
		}
		if err := c.socket.Flush(); err != nil {
			return err
		}
	}
	for _, id := range c.pendingRelease {
		if _, state := c.objects.Find(id); state == objmap.Zombie {
			c.objects.Remove(id)
		}
	}
	c.pendingRelease = c.pendingRelease[:0]
	return nil
}

// sendEvent encodes an event for a live object. Events to zombies are
// dropped without error.
func (c *Client) sendEvent(h *Handle, target ObjectID, opcode uint16, args []protocol.Argument) error {
	if c.state != clientOpen {
		return ErrClientGone
	}
	obj, state, err := c.resolve(target)
	if err != nil {
		return err
	}
	if state == objmap.Zombie {
		observability.RecordZombieDrop("server")
		c.log.Debug().Uint32("object", target.id).Uint16("opcode", opcode).Msg("event to zombie dropped")
		return nil
	}
	desc, err := protocol.CheckEvent(obj.Interface, obj.Version, opcode, args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	for i, spec := range desc.Signature {
		if spec.Type != protocol.ArgNewID {
			continue
		}
		child, ok := c.objects.Get(args[i].NewID)
		if !ok || !protocol.SameInterface(child.Interface, spec.Interface) {
			return fmt.Errorf("%w: new id %d is not a live %s", ErrInvalidArgument, args[i].NewID, spec.Interface)
		}
	}
	msg := protocol.Message{SenderID: target.id, Opcode: opcode, Args: args}
	if err := c.writeMessage(msg, desc.Signature, h.b.cfg.WriteTimeout); err != nil {
		if errors.Is(err, wire.ErrMessageTooLarge) || errors.Is(err, wire.ErrInvalidString) {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		h.b.kill(c, DisconnectReason{Kind: ConnectionClosed})
		return err
	}
	observability.RecordMessage("server", "out", obj.Interface.Name)
	c.log.Trace().Uint32("object", target.id).Str("interface", obj.Interface.Name).Str("event", desc.Name).Msg("event queued")
	if desc.Destructor {
		c.destroyByServer(h, target.id, obj)
	}
	return nil
}

// destroyByServer retires an object after its destructor event was queued.
// Client-range ids stay zombie until the client reuses them; server-range
// ids are freed once the event has been flushed.
func (c *Client) destroyByServer(h *Handle, id uint32, obj objmap.Object[ObjectData]) {
	_ = c.objects.Zombify(id)
	if obj.Data != nil {
		obj.Data.Destroyed(h, c.id, c.objectID(id, obj))
	}
	if objmap.IsServerID(id) {
		c.pendingRelease = append(c.pendingRelease, id)
		return
	}
	c.sendDeleteID(h, id)
}

// destroyByClient retires an object after its destructor request ran. The
// id is free for reuse immediately.
func (c *Client) destroyByClient(h *Handle, id uint32, obj objmap.Object[ObjectData]) {
	_ = c.objects.Zombify(id)
	if obj.Data != nil {
		obj.Data.Destroyed(h, c.id, c.objectID(id, obj))
	}
	c.objects.Remove(id)
	if !objmap.IsServerID(id) {
		c.sendDeleteID(h, id)
	}
}

func (c *Client) sendDeleteID(h *Handle, id uint32) {
	if c.state != clientOpen {
		return
	}
	desc, _ := schema.Display.Event(schema.DisplayEventDeleteID)
	msg := protocol.Message{
		SenderID: schema.DisplayID,
		Opcode:   schema.DisplayEventDeleteID,
		Args:     []protocol.Argument{protocol.NewUint(id)},
	}
	if err := c.writeMessage(msg, desc.Signature, h.b.cfg.WriteTimeout); err != nil {
		c.log.Debug().Err(err).Uint32("object", id).Msg("delete_id write failed")
		h.b.kill(c, DisconnectReason{Kind: ConnectionClosed})
	}
}
