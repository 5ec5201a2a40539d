package server

import (
	"fmt"

	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
)

// GlobalInfo describes a global.
type GlobalInfo struct {
	Interface *protocol.Interface
	Version   uint32
	Disabled  bool
}

type global struct {
	id       GlobalID
	iface    *protocol.Interface
	version  uint32
	handler  GlobalHandler
	disabled bool
	// advertised holds the registries that were sent the "global" event.
	advertised map[ObjectID]struct{}
}

// registry is the set of globals shared by every client. Global names are
// slot index + 1.
type registry struct {
	globals    []*global
	known      []ObjectID
	lastSerial uint32
}

// nextSerial never returns 0, which marks a null GlobalID.
func (r *registry) nextSerial() uint32 {
	r.lastSerial++
	if r.lastSerial == 0 {
		r.lastSerial = 1
	}
	return r.lastSerial
}

// interfaceNamed finds the interface of a global by wire name.
func (r *registry) interfaceNamed(name string) *protocol.Interface {
	for _, g := range r.globals {
		if g != nil && g.iface.Name == name {
			return g.iface
		}
	}
	return nil
}

func (r *registry) create(b *Backend, iface *protocol.Interface, version uint32, handler GlobalHandler) (GlobalID, error) {
	if iface == nil || handler == nil {
		return GlobalID{}, fmt.Errorf("%w: nil interface or handler", ErrInvalidArgument)
	}
	if version == 0 || version > iface.Version {
		return GlobalID{}, fmt.Errorf("%w: %s version %d, maximum %d", ErrGlobalVersion, iface.Name, version, iface.Version)
	}
	serial := r.nextSerial()
	idx := -1
	for i, g := range r.globals {
		if g == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.globals = append(r.globals, nil)
		idx = len(r.globals) - 1
	}
	g := &global{
		id:         GlobalID{id: uint32(idx) + 1, serial: serial},
		iface:      iface,
		version:    version,
		handler:    handler,
		advertised: make(map[ObjectID]struct{}),
	}
	r.globals[idx] = g
	r.sendGlobalToAll(b, g)
	return g.id, nil
}

func (r *registry) get(id GlobalID) (*global, error) {
	if id.id == 0 || int(id.id) > len(r.globals) {
		return nil, InvalidIDError{What: "global", ID: id.id}
	}
	g := r.globals[id.id-1]
	if g == nil || g.id != id {
		return nil, InvalidIDError{What: "global", ID: id.id}
	}
	return g, nil
}

func (r *registry) info(id GlobalID) (GlobalInfo, error) {
	g, err := r.get(id)
	if err != nil {
		return GlobalInfo{}, err
	}
	return GlobalInfo{Interface: g.iface, Version: g.version, Disabled: g.disabled}, nil
}

// checkBind is the only gate for a bind request.
func (r *registry) checkBind(c *Client, name uint32, ifaceName string, version uint32) (*global, bool) {
	if name == 0 || version == 0 || int(name) > len(r.globals) {
		return nil, false
	}
	g := r.globals[name-1]
	if g == nil || g.disabled {
		return nil, false
	}
	if g.iface.Name != ifaceName {
		return nil, false
	}
	if version > g.version {
		return nil, false
	}
	if !g.handler.CanView(c.id, c.data, g.id) {
		return nil, false
	}
	return g, true
}

// disable is idempotent. Removal goes to the registries that saw the global.
func (r *registry) disable(b *Backend, id GlobalID) {
	g, err := r.get(id)
	if err != nil || g.disabled {
		return
	}
	g.disabled = true
	for _, reg := range r.known {
		if _, ok := g.advertised[reg]; !ok {
			continue
		}
		c, err := b.clients.get(reg.client)
		if err != nil {
			continue
		}
		err = b.sendRegistryEvent(c, reg, schema.RegistryEventGlobalRemove, protocol.NewUint(g.id.id))
		observability.RecordRegistryEvent("global_remove", err == nil)
	}
	clear(g.advertised)
}

func (r *registry) remove(b *Backend, id GlobalID) {
	r.disable(b, id)
	if g, err := r.get(id); err == nil {
		r.globals[g.id.id-1] = nil
	}
}

func (r *registry) newRegistry(b *Backend, reg ObjectID, c *Client) error {
	if err := r.sendAllGlobalsTo(b, reg, c); err != nil {
		return err
	}
	r.known = append(r.known, reg)
	return nil
}

// sendAllGlobalsTo advertises every enabled visible global in slot order and
// stops at the first failed write.
func (r *registry) sendAllGlobalsTo(b *Backend, reg ObjectID, c *Client) error {
	for _, g := range r.globals {
		if g == nil || g.disabled || !g.handler.CanView(c.id, c.data, g.id) {
			continue
		}
		err := b.sendGlobal(c, reg, g)
		observability.RecordRegistryEvent("global", err == nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// sendGlobalToAll is best effort per recipient.
func (r *registry) sendGlobalToAll(b *Backend, g *global) {
	for _, reg := range r.known {
		c, err := b.clients.get(reg.client)
		if err != nil || !g.handler.CanView(c.id, c.data, g.id) {
			continue
		}
		err = b.sendGlobal(c, reg, g)
		observability.RecordRegistryEvent("global", err == nil)
		if err != nil {
			c.log.Debug().Err(err).Uint32("global", g.id.id).Msg("global advertisement failed")
		}
	}
}

// cleanup forgets every registry owned by client.
func (r *registry) cleanup(client ClientID) {
	kept := r.known[:0]
	for _, reg := range r.known {
		if reg.client != client {
			kept = append(kept, reg)
		}
	}
	clear(r.known[len(kept):])
	r.known = kept
	for _, g := range r.globals {
		if g == nil {
			continue
		}
		for reg := range g.advertised {
			if reg.client == client {
				delete(g.advertised, reg)
			}
		}
	}
}

func (b *Backend) sendGlobal(c *Client, reg ObjectID, g *global) error {
	err := b.sendRegistryEvent(c, reg, schema.RegistryEventGlobal,
		protocol.NewUint(g.id.id), protocol.NewString(g.iface.Name), protocol.NewUint(g.version))
	if err == nil {
		g.advertised[reg] = struct{}{}
	}
	return err
}

func (b *Backend) sendRegistryEvent(c *Client, reg ObjectID, opcode uint16, args ...protocol.Argument) error {
	return c.sendEvent(b.handle, reg, opcode, args)
}
