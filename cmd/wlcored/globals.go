package main

import (
	"fmt"

	"github.com/danmuck/wlcore/internal/config"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/server"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// peer is the per-connection data of the daemon.
type peer struct {
	uid     uint32
	hasCred bool
}

func (p *peer) Initialized(id server.ClientID) {
	log.Debug().Str("client", id.String()).Msg("client initialized")
}

func (p *peer) Disconnected(id server.ClientID, reason server.DisconnectReason) {
	ev := log.Info().Str("client", id.String())
	if reason.Error != nil {
		ev = ev.Uint32("code", reason.Error.Code).Str("error", reason.Error.Message)
	}
	ev.Msg("client disconnected")
}

// configuredGlobal applies allow_uids to one global.
type configuredGlobal struct {
	cfg  config.GlobalConfig
	bind func(h *server.Handle, client server.ClientID, object server.ObjectID) server.ObjectData
}

func (g *configuredGlobal) CanView(_ server.ClientID, data server.ClientData, _ server.GlobalID) bool {
	if len(g.cfg.AllowUIDs) == 0 {
		return true
	}
	p, ok := data.(*peer)
	return ok && p.hasCred && g.cfg.Allows(p.uid)
}

func (g *configuredGlobal) Bind(h *server.Handle, client server.ClientID, global server.GlobalID, object server.ObjectID) server.ObjectData {
	log.Debug().Str("client", client.String()).Str("global", global.String()).Str("object", object.String()).Msg("global bound")
	return g.bind(h, client, object)
}

// registerGlobals creates one global per configured entry.
func registerGlobals(b *server.Backend, entries []config.GlobalConfig) error {
	cat := schema.Default()
	for i, entry := range entries {
		iface, err := entry.Resolve(cat)
		if err != nil {
			return fmt.Errorf("global[%d]: %w", i, err)
		}
		g := &configuredGlobal{cfg: entry, bind: bindFor(iface)}
		id, err := b.CreateGlobal(iface, entry.Version, g)
		if err != nil {
			return fmt.Errorf("global[%d]: %w", i, err)
		}
		log.Info().Str("global", id.String()).Str("interface", iface.Name).Uint32("version", entry.Version).Msg("global created")
	}
	return nil
}

func bindFor(iface *protocol.Interface) func(*server.Handle, server.ClientID, server.ObjectID) server.ObjectData {
	switch iface {
	case schema.TestGlobal:
		return func(*server.Handle, server.ClientID, server.ObjectID) server.ObjectData {
			return &demoGlobal{}
		}
	case schema.TestChild:
		return func(h *server.Handle, _ server.ClientID, object server.ObjectID) server.ObjectData {
			_ = h.SendEvent(object, schema.TestChildEventPing, protocol.NewUint(0))
			return &demoChild{}
		}
	default:
		return func(*server.Handle, server.ClientID, server.ObjectID) server.ObjectData {
			return server.NopObjectData{}
		}
	}
}

// demoGlobal implements test_global requests.
type demoGlobal struct {
	children uint32
}

func (g *demoGlobal) Request(h *server.Handle, client server.ClientID, req server.Request) server.ObjectData {
	switch req.Opcode {
	case schema.TestGlobalCreateChild:
		g.children++
		_ = h.SendEvent(req.NewObject, schema.TestChildEventPing, protocol.NewUint(g.children))
		return &demoChild{}
	case schema.TestGlobalEcho:
		fd := req.Args[5].Fd
		if _, err := unix.Write(fd, req.Args[3].Str); err != nil {
			log.Warn().Err(err).Str("client", client.String()).Msg("echo write failed")
		}
		_ = unix.Close(fd)
		if err := h.SendEvent(req.Sender, schema.TestGlobalEventEchoed, req.Args[:5]...); err != nil {
			log.Warn().Err(err).Str("client", client.String()).Msg("echo reply failed")
		}
	case schema.TestGlobalLink:
		if req.Args[1].Object == 0 {
			return nil
		}
		if _, err := h.Lookup(client, req.Args[1].Object); err != nil {
			_ = h.PostError(req.Sender, schema.ErrorImplementation, "link target vanished")
		}
	}
	return nil
}

func (g *demoGlobal) Destroyed(*server.Handle, server.ClientID, server.ObjectID) {}

// demoChild is a test_child with no request handling beyond destroy.
type demoChild struct{}

func (c *demoChild) Request(*server.Handle, server.ClientID, server.Request) server.ObjectData {
	return nil
}

func (c *demoChild) Destroyed(_ *server.Handle, client server.ClientID, object server.ObjectID) {
	log.Trace().Str("client", client.String()).Str("object", object.String()).Msg("child destroyed")
}
