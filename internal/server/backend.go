package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/wlcore/internal/objmap"
	"github.com/danmuck/wlcore/internal/observability"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/protocol/wire"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// Config tunes the server backend.
type Config struct {
	// WriteTimeout bounds every socket write. Zero means no deadline.
	WriteTimeout time.Duration
}

// Backend owns every connected client and the global registry.
type Backend struct {
	mu       sync.Mutex
	cfg      Config
	clients  clientStore
	registry registry
	handle   *Handle
}

// NewBackend returns a backend with no clients and no globals.
func NewBackend(cfg Config) *Backend {
	b := &Backend{cfg: cfg}
	b.handle = &Handle{b: b}
	return b
}

// unlock tears down clients killed during the locked section, then releases
// the lock.
func (b *Backend) unlock() {
	b.reap()
	b.mu.Unlock()
}

// Do runs fn with the backend locked. Events queued by fn are written on the
// next Flush or dispatch.
func (b *Backend) Do(fn func(h *Handle) error) error {
	b.mu.Lock()
	defer b.unlock()
	return fn(b.handle)
}

// InsertClient takes ownership of conn and registers it as a new client.
func (b *Backend) InsertClient(conn *net.UnixConn, data ClientData) (ClientID, error) {
	if conn == nil {
		return ClientID{}, fmt.Errorf("%w: nil connection", ErrInvalidArgument)
	}
	if data == nil {
		data = NopClientData{}
	}
	socket := wire.NewSocket(conn)
	cred, err := socket.PeerCredentials()
	if err != nil {
		log.Debug().Err(err).Msg("peer credentials unavailable")
	}

	b.mu.Lock()
	defer b.unlock()
	c := b.clients.insert(func(id ClientID) *Client {
		session := xid.New()
		return &Client{
			id:        id,
			session:   session,
			socket:    wire.NewBufferedSocket(socket),
			objects:   objmap.New[ObjectData](),
			data:      data,
			cred:      cred,
			connected: time.Now(),
			log:       log.With().Str("client", id.String()).Str("session", session.String()).Logger(),
		}
	})
	display := objmap.Object[ObjectData]{
		Interface: schema.Display,
		Version:   1,
		Serial:    c.nextSerial(),
		Data:      NopObjectData{},
	}
	if err := c.objects.InsertAt(schema.DisplayID, display); err != nil {
		b.clients.remove(c.id)
		_ = socket.Close()
		return ClientID{}, err
	}
	ev := c.log.Info()
	if cred != nil {
		ev = ev.Int32("pid", cred.Pid).Uint32("uid", cred.Uid)
	}
	ev.Msg("client connected")
	observability.SetClients(b.clients.len())
	data.Initialized(c.id)
	return c.id, nil
}

// CreateGlobal registers a global. A version above the interface maximum is
// a configuration fault and returns ErrGlobalVersion.
func (b *Backend) CreateGlobal(iface *protocol.Interface, version uint32, handler GlobalHandler) (GlobalID, error) {
	b.mu.Lock()
	defer b.unlock()
	return b.handle.CreateGlobal(iface, version, handler)
}

// MustCreateGlobal is CreateGlobal for static setup code; it panics on error.
func (b *Backend) MustCreateGlobal(iface *protocol.Interface, version uint32, handler GlobalHandler) GlobalID {
	id, err := b.CreateGlobal(iface, version, handler)
	if err != nil {
		panic(err)
	}
	return id
}

// DisableGlobal stops advertising a global.
func (b *Backend) DisableGlobal(id GlobalID) {
	b.mu.Lock()
	defer b.unlock()
	b.handle.DisableGlobal(id)
}

// RemoveGlobal disables a global and frees its name.
func (b *Backend) RemoveGlobal(id GlobalID) {
	b.mu.Lock()
	defer b.unlock()
	b.handle.RemoveGlobal(id)
}

// KillClient disconnects a client.
func (b *Backend) KillClient(id ClientID, reason DisconnectReason) {
	b.mu.Lock()
	defer b.unlock()
	b.handle.KillClient(id, reason)
}

// DispatchClient performs one read from the client and dispatches every
// complete message it buffered, then flushes pending output of all clients.
// The read blocks until data arrives or the connection closes.
//
// It returns ErrClientGone once the client has been torn down.
func (b *Backend) DispatchClient(id ClientID) (int, error) {
	b.mu.Lock()
	c, err := b.clients.get(id)
	b.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClientGone, err)
	}

	c.inMu.Lock()
	readErr := c.socket.FillIncoming()
	c.inMu.Unlock()

	b.mu.Lock()
	defer b.unlock()
	if c.state != clientOpen {
		return 0, ErrClientGone
	}
	if readErr != nil {
		c.log.Debug().Err(readErr).Msg("read failed")
		b.kill(c, DisconnectReason{Kind: ConnectionClosed})
		return 0, ErrClientGone
	}
	c.inMu.Lock()
	n := b.dispatchPending(c)
	c.inMu.Unlock()
	b.flushAll()
	if c.state != clientOpen {
		return n, ErrClientGone
	}
	return n, nil
}

// Serve dispatches a client until it disconnects or ctx ends. A normal
// disconnection returns nil.
func (b *Backend) Serve(ctx context.Context, id ClientID) error {
	stop := context.AfterFunc(ctx, func() {
		b.KillClient(id, DisconnectReason{Kind: ConnectionClosed})
	})
	defer stop()
	for {
		if _, err := b.DispatchClient(id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrClientGone) {
				return nil
			}
			return err
		}
	}
}

// Flush writes pending output of every client. Clients whose socket cannot
// be written are disconnected.
func (b *Backend) Flush() {
	b.mu.Lock()
	defer b.unlock()
	b.flushAll()
}

// FlushClient writes pending output of one client.
func (b *Backend) FlushClient(id ClientID) error {
	b.mu.Lock()
	defer b.unlock()
	c, err := b.clients.get(id)
	if err != nil {
		return err
	}
	if c.state != clientOpen {
		return ErrClientGone
	}
	if err := c.flush(b.cfg.WriteTimeout); err != nil {
		b.kill(c, DisconnectReason{Kind: ConnectionClosed})
		return err
	}
	return nil
}

func (b *Backend) flushAll() {
	b.clients.each(func(c *Client) bool {
		if c.state != clientOpen {
			return true
		}
		if err := c.flush(b.cfg.WriteTimeout); err != nil {
			c.log.Debug().Err(err).Msg("flush failed")
			b.kill(c, DisconnectReason{Kind: ConnectionClosed})
		}
		return true
	})
}

// kill marks c closing and closes its socket, which wakes its reader.
// Teardown happens in reap before the lock is released.
func (b *Backend) kill(c *Client, reason DisconnectReason) {
	if c.state != clientOpen {
		return
	}
	c.state = clientClosing
	c.reason = reason
	_ = c.socket.Close()
}

func (b *Backend) reap() {
	for {
		var dead []*Client
		b.clients.each(func(c *Client) bool {
			if c.state == clientClosing {
				dead = append(dead, c)
			}
			return true
		})
		if len(dead) == 0 {
			return
		}
		for _, c := range dead {
			b.cleanup(c)
		}
	}
}

func (b *Backend) cleanup(c *Client) {
	c.state = clientClosed
	b.registry.cleanup(c.id)
	c.objects.Each(func(id uint32, obj objmap.Object[ObjectData], state objmap.State) bool {
		if state == objmap.Live && obj.Data != nil {
			obj.Data.Destroyed(b.handle, c.id, c.objectID(id, obj))
		}
		return true
	})
	c.inMu.Lock()
	c.socket.DiscardIncoming()
	c.inMu.Unlock()
	b.clients.remove(c.id)
	observability.SetClients(b.clients.len())
	c.log.Info().Str("reason", c.reason.String()).Msg("client disconnected")
	c.data.Disconnected(c.id, c.reason)
}

// GlobalSnapshot is a read-only view of one global.
type GlobalSnapshot struct {
	Name       uint32 `json:"name"`
	Interface  string `json:"interface"`
	Version    uint32 `json:"version"`
	Disabled   bool   `json:"disabled"`
	Advertised int    `json:"advertised"`
}

// ClientSnapshot is a read-only view of one client.
type ClientSnapshot struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	PID       int32     `json:"pid,omitempty"`
	UID       uint32    `json:"uid"`
	Objects   int       `json:"objects"`
	Connected time.Time `json:"connected"`
}

// Globals returns the current globals in name order.
func (b *Backend) Globals() []GlobalSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]GlobalSnapshot, 0, len(b.registry.globals))
	for _, g := range b.registry.globals {
		if g == nil {
			continue
		}
		out = append(out, GlobalSnapshot{
			Name:       g.id.id,
			Interface:  g.iface.Name,
			Version:    g.version,
			Disabled:   g.disabled,
			Advertised: len(g.advertised),
		})
	}
	return out
}

// Clients returns the open clients in slot order.
func (b *Backend) Clients() []ClientSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ClientSnapshot
	b.clients.each(func(c *Client) bool {
		if c.state != clientOpen {
			return true
		}
		snap := ClientSnapshot{
			ID:        c.id.String(),
			Session:   c.session.String(),
			Objects:   c.objects.Len(),
			Connected: c.connected,
		}
		if c.cred != nil {
			snap.PID = c.cred.Pid
			snap.UID = c.cred.Uid
		}
		out = append(out, snap)
		return true
	})
	return out
}
