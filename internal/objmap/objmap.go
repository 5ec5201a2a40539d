package objmap

import (
	"errors"
	"fmt"

	"github.com/danmuck/wlcore/internal/protocol"
)

const (
	// ServerIDStart is the first id of the server-assigned range.
	ServerIDStart uint32 = 0xFF000000
	// ClientIDMax is the last id of the client-assigned range.
	ClientIDMax uint32 = ServerIDStart - 1
)

var (
	ErrInvalidID = errors.New("objmap: invalid object id")
	ErrIDInUse   = errors.New("objmap: object id in use")
	ErrIDGap     = errors.New("objmap: object id skips the next free id")
	ErrIDRange   = errors.New("objmap: object id range exhausted")
)

// State is the lifecycle state of one id slot.
type State uint8

const (
	Free State = iota
	Live
	Zombie
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Live:
		return "live"
	case Zombie:
		return "zombie"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Object is one record of the table.
type Object[D any] struct {
	Interface *protocol.Interface
	Version   uint32
	Serial    uint32
	Data      D
}

type slot[D any] struct {
	state State
	obj   Object[D]
}

type idRange[D any] struct {
	base  uint32
	max   uint32
	slots []slot[D]
	free  freeList
}

// Map maps protocol ids to object records for one connection.
type Map[D any] struct {
	client idRange[D]
	server idRange[D]
}

// New returns an empty map.
func New[D any]() *Map[D] {
	return &Map[D]{
		client: idRange[D]{base: 1, max: ClientIDMax},
		server: idRange[D]{base: ServerIDStart, max: ^uint32(0)},
	}
}

// IsServerID reports whether id belongs to the server-assigned range.
func IsServerID(id uint32) bool {
	return id >= ServerIDStart
}

func (m *Map[D]) rangeFor(id uint32) (*idRange[D], int, bool) {
	if id == 0 {
		return nil, 0, false
	}
	if IsServerID(id) {
		return &m.server, int(id - ServerIDStart), true
	}
	return &m.client, int(id - 1), true
}

// Find returns the record and state at id. Free slots return the zero record.
func (m *Map[D]) Find(id uint32) (Object[D], State) {
	r, idx, ok := m.rangeFor(id)
	if !ok || idx >= len(r.slots) {
		return Object[D]{}, Free
	}
	s := r.slots[idx]
	if s.state == Free {
		return Object[D]{}, Free
	}
	return s.obj, s.state
}

// Get returns the live record at id.
func (m *Map[D]) Get(id uint32) (Object[D], bool) {
	obj, state := m.Find(id)
	return obj, state == Live
}

// InsertAt stores obj at an id chosen by the peer. The id must name a free or
// zombie slot, or be exactly the next unused id of its range.
func (m *Map[D]) InsertAt(id uint32, obj Object[D]) error {
	r, idx, ok := m.rangeFor(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	switch {
	case idx == len(r.slots):
		r.slots = append(r.slots, slot[D]{state: Live, obj: obj})
		return nil
	case idx > len(r.slots):
		return fmt.Errorf("%w: id %d, next is %d", ErrIDGap, id, r.base+uint32(len(r.slots)))
	case r.slots[idx].state == Live:
		return fmt.Errorf("%w: %d", ErrIDInUse, id)
	default:
		r.slots[idx] = slot[D]{state: Live, obj: obj}
		return nil
	}
}

// Place stores obj at an id chosen by the peer, growing the range as needed.
// Skipped ids become free. The slot must not be live.
func (m *Map[D]) Place(id uint32, obj Object[D]) error {
	r, idx, ok := m.rangeFor(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	for len(r.slots) < idx {
		r.free.push(len(r.slots))
		r.slots = append(r.slots, slot[D]{})
	}
	if idx == len(r.slots) {
		r.slots = append(r.slots, slot[D]{state: Live, obj: obj})
		return nil
	}
	if r.slots[idx].state == Live {
		return fmt.Errorf("%w: %d", ErrIDInUse, id)
	}
	r.slots[idx] = slot[D]{state: Live, obj: obj}
	return nil
}

// ClientInsertNew stores obj at the lowest free client-range id.
func (m *Map[D]) ClientInsertNew(obj Object[D]) (uint32, error) {
	return m.client.insertNew(obj)
}

// ServerInsertNew stores obj at the lowest free server-range id.
func (m *Map[D]) ServerInsertNew(obj Object[D]) (uint32, error) {
	return m.server.insertNew(obj)
}

func (r *idRange[D]) insertNew(obj Object[D]) (uint32, error) {
	idx, ok := r.free.lowest(func(i int) bool {
		return i < len(r.slots) && r.slots[i].state == Free
	})
	if ok {
		r.slots[idx] = slot[D]{state: Live, obj: obj}
		return r.base + uint32(idx), nil
	}
	if uint64(r.base)+uint64(len(r.slots)) > uint64(r.max) {
		return 0, ErrIDRange
	}
	r.slots = append(r.slots, slot[D]{state: Live, obj: obj})
	return r.base + uint32(len(r.slots)-1), nil
}

// Zombify marks a live id as zombie. The slot stays occupied and keeps its
// interface so in-flight messages can still be decoded.
func (m *Map[D]) Zombify(id uint32) error {
	r, idx, ok := m.rangeFor(id)
	if !ok || idx >= len(r.slots) || r.slots[idx].state != Live {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	r.slots[idx].state = Zombie
	var zero D
	r.slots[idx].obj.Data = zero
	return nil
}

// Remove frees id for reuse within its own range.
func (m *Map[D]) Remove(id uint32) {
	r, idx, ok := m.rangeFor(id)
	if !ok || idx >= len(r.slots) || r.slots[idx].state == Free {
		return
	}
	r.slots[idx] = slot[D]{}
	if idx == len(r.slots)-1 {
		for len(r.slots) > 0 && r.slots[len(r.slots)-1].state == Free {
			r.slots = r.slots[:len(r.slots)-1]
		}
		return
	}
	r.free.push(idx)
}

// With applies fn to the live record at id.
func (m *Map[D]) With(id uint32, fn func(*Object[D])) error {
	r, idx, ok := m.rangeFor(id)
	if !ok || idx >= len(r.slots) || r.slots[idx].state != Live {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	fn(&r.slots[idx].obj)
	return nil
}

// Each calls fn for every occupied slot, client range first, in id order.
// Iteration stops when fn returns false.
func (m *Map[D]) Each(fn func(id uint32, obj Object[D], state State) bool) {
	for _, r := range []*idRange[D]{&m.client, &m.server} {
		for idx, s := range r.slots {
			if s.state == Free {
				continue
			}
			if !fn(r.base+uint32(idx), s.obj, s.state) {
				return
			}
		}
	}
}

// Len returns the number of occupied slots.
func (m *Map[D]) Len() int {
	n := 0
	m.Each(func(uint32, Object[D], State) bool {
		n++
		return true
	})
	return n
}
