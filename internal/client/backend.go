package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/wlcore/internal/objmap"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/protocol/wire"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config tunes a client connection. Zero timeouts mean no deadline.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend is one client connection.
type Backend struct {
	mu         sync.Mutex
	cfg        Config
	socket     *wire.BufferedSocket
	objects    *objmap.Map[ObjectData]
	lastSerial uint32
	err        error
	handle     *Handle
	log        zerolog.Logger
	// released holds live ids the server already deleted, by serial. Their
	// destructor frees the id without waiting for delete_id.
	released map[uint32]uint32

	// inMu serialises readers. Lock order: inMu, mu.
	inMu sync.Mutex
}

// Connect takes ownership of conn and sets up the display object.
func Connect(conn *net.UnixConn, cfg Config) (*Backend, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", ErrInvalidArgument)
	}
	b := &Backend{
		cfg:      cfg,
		socket:   wire.NewBufferedSocket(wire.NewSocket(conn)),
		objects:  objmap.New[ObjectData](),
		log:      log.With().Str("conn", xid.New().String()).Logger(),
		released: make(map[uint32]uint32),
	}
	b.handle = &Handle{b: b}
	display := objmap.Object[ObjectData]{
		Interface: schema.Display,
		Version:   1,
		Serial:    b.nextSerial(),
		Data:      NopObjectData{},
	}
	if err := b.objects.InsertAt(schema.DisplayID, display); err != nil {
		_ = b.socket.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) nextSerial() uint32 {
	b.lastSerial++
	if b.lastSerial == 0 {
		b.lastSerial = 1
	}
	return b.lastSerial
}

func (b *Backend) objectID(id uint32, obj objmap.Object[ObjectData]) ObjectID {
	return ObjectID{id: id, serial: obj.Serial, iface: obj.Interface}
}

// fail records the first fatal error and closes the socket.
func (b *Backend) fail(err error) {
	if b.err != nil {
		return
	}
	b.err = err
	b.log.Warn().Err(err).Msg("connection failed")
	_ = b.socket.Close()
}

// Do runs fn with the backend locked.
func (b *Backend) Do(fn func(h *Handle) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b.handle)
}

// DisplayID returns the handle of the wl_display object.
func (b *Backend) DisplayID() ObjectID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle.DisplayID()
}

// SendRequest queues a request. See Handle.SendRequest.
func (b *Backend) SendRequest(sender ObjectID, opcode uint16, args []protocol.Argument, child *NewObject) (ObjectID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle.SendRequest(sender, opcode, args, child)
}

// GetRegistry creates a registry object.
func (b *Backend) GetRegistry(data ObjectData) (ObjectID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle.GetRegistry(data)
}

// Bind binds a global advertised on registry.
func (b *Backend) Bind(registry ObjectID, name uint32, iface *protocol.Interface, version uint32, data ObjectData) (ObjectID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle.Bind(registry, name, iface, version, data)
}

// Sync queues wl_display.sync. data receives the callback's done event.
func (b *Backend) Sync(data ObjectData) (ObjectID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle.Sync(data)
}

// Flush writes queued requests.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.cfg.WriteTimeout > 0 {
		_ = b.socket.Socket().SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}
	if err := b.socket.Flush(); err != nil {
		b.fail(fmt.Errorf("%w: %v", ErrClosed, err))
		return b.err
	}
	return nil
}

// DispatchEvents performs one read and dispatches every complete event.
// A fatal error reported by the server is returned as *ProtocolError, and
// every later call returns it again.
func (b *Backend) DispatchEvents() (int, error) {
	b.mu.Lock()
	err := b.err
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}

	b.inMu.Lock()
	defer b.inMu.Unlock()
	if b.cfg.ReadTimeout > 0 {
		_ = b.socket.Socket().SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
	}
	readErr := b.socket.FillIncoming()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		b.socket.DiscardIncoming()
		return 0, b.err
	}
	if readErr != nil {
		if errors.Is(readErr, os.ErrDeadlineExceeded) {
			return 0, readErr
		}
		b.fail(fmt.Errorf("%w: %v", ErrClosed, readErr))
		b.socket.DiscardIncoming()
		return 0, b.err
	}
	n := b.dispatchPending()
	if b.err != nil {
		b.socket.DiscardIncoming()
		return n, b.err
	}
	return n, nil
}

type doneFlag struct {
	done *bool
}

func (d doneFlag) Event(*Handle, Event) ObjectData { *d.done = true; return nil }
func (d doneFlag) Destroyed(ObjectID)              {}

// Roundtrip sends wl_display.sync and dispatches until it is answered, so
// every event the server queued before it has been handled.
func (b *Backend) Roundtrip() error {
	done := false
	if _, err := b.Sync(doneFlag{done: &done}); err != nil {
		return err
	}
	if err := b.Flush(); err != nil {
		return err
	}
	for !done {
		if _, err := b.DispatchEvents(); err != nil {
			return err
		}
	}
	return nil
}

// LastError returns the fatal error of the connection, if any.
func (b *Backend) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close closes the connection and destroys every live object.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail(ErrClosed)
	b.objects.Each(func(id uint32, obj objmap.Object[ObjectData], state objmap.State) bool {
		if state == objmap.Live && obj.Data != nil {
			obj.Data.Destroyed(b.objectID(id, obj))
		}
		return true
	})
	b.objects = objmap.New[ObjectData]()
	clear(b.released)
	return nil
}
