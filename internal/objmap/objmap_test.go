package objmap

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/testutil/testlog"
)

func obj(data string) Object[string] {
	return Object[string]{Interface: schema.TestChild, Version: 1, Data: data}
}

func TestServerReuseLowestFreeFirst(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	for i := 0; i < 6; i++ {
		id, err := m.ServerInsertNew(obj("x"))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if id != ServerIDStart+uint32(i) {
			t.Fatalf("insert %d got id=%#x", i, id)
		}
	}
	m.Remove(ServerIDStart + 5)
	m.Remove(ServerIDStart + 3)

	first, _ := m.ServerInsertNew(obj("a"))
	second, _ := m.ServerInsertNew(obj("b"))
	if first != ServerIDStart+3 || second != ServerIDStart+5 {
		t.Fatalf("reuse order got=%#x,%#x want=%#x,%#x", first, second, ServerIDStart+3, ServerIDStart+5)
	}
}

func TestRangesNeverCross(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	for i := 0; i < 16; i++ {
		cid, err := m.ClientInsertNew(obj("c"))
		if err != nil {
			t.Fatalf("client insert: %v", err)
		}
		if cid == 0 || IsServerID(cid) {
			t.Fatalf("client id %#x outside client range", cid)
		}
		sid, err := m.ServerInsertNew(obj("s"))
		if err != nil {
			t.Fatalf("server insert: %v", err)
		}
		if !IsServerID(sid) {
			t.Fatalf("server id %#x outside server range", sid)
		}
	}
}

func TestInsertAtSequencePolicy(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	if err := m.InsertAt(1, obj("display")); err != nil {
		t.Fatalf("insert display: %v", err)
	}
	if err := m.InsertAt(3, obj("skip")); !errors.Is(err, ErrIDGap) {
		t.Fatalf("expected ErrIDGap, got %v", err)
	}
	if err := m.InsertAt(2, obj("two")); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := m.InsertAt(2, obj("again")); !errors.Is(err, ErrIDInUse) {
		t.Fatalf("expected ErrIDInUse, got %v", err)
	}
	if err := m.InsertAt(0, obj("null")); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if err := m.InsertAt(ServerIDStart+1, obj("gap")); !errors.Is(err, ErrIDGap) {
		t.Fatalf("expected ErrIDGap in server range, got %v", err)
	}
}

func TestZombieKeepsSlotUntilRemoved(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	id, _ := m.ServerInsertNew(obj("offer"))
	if err := m.Zombify(id); err != nil {
		t.Fatalf("zombify: %v", err)
	}
	got, state := m.Find(id)
	if state != Zombie {
		t.Fatalf("state got=%s", state)
	}
	if got.Interface != schema.TestChild {
		t.Fatalf("zombie must keep its interface for decoding")
	}
	if got.Data != "" {
		t.Fatalf("zombie must drop handler data, got %q", got.Data)
	}
	if _, ok := m.Get(id); ok {
		t.Fatalf("zombie must not be live")
	}
	next, _ := m.ServerInsertNew(obj("other"))
	if next == id {
		t.Fatalf("zombie id reused before removal")
	}
	if err := m.Zombify(id); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("double zombify got %v", err)
	}

	if err := m.InsertAt(id, obj("replacement")); err != nil {
		t.Fatalf("peer may reclaim a zombie slot: %v", err)
	}
	if _, ok := m.Get(id); !ok {
		t.Fatalf("reclaimed slot should be live")
	}
}

func TestRemoveTrimsTail(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	_ = m.InsertAt(1, obj("display"))
	_ = m.InsertAt(2, obj("a"))
	_ = m.InsertAt(3, obj("b"))
	m.Remove(2)
	m.Remove(3)
	if err := m.InsertAt(3, obj("gap")); !errors.Is(err, ErrIDGap) {
		t.Fatalf("after trimming, 2 is the next id: %v", err)
	}
	if err := m.InsertAt(2, obj("ok")); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
}

func TestNoDuplicateLiveIDs(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(7))
	m := New[string]()
	live := map[uint32]struct{}{}
	for step := 0; step < 5000; step++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for id := range live {
				if rng.Intn(2) == 0 {
					_ = m.Zombify(id)
				}
				m.Remove(id)
				delete(live, id)
				break
			}
			continue
		}
		var id uint32
		var err error
		if rng.Intn(2) == 0 {
			id, err = m.ServerInsertNew(obj("s"))
		} else {
			id, err = m.ClientInsertNew(obj("c"))
		}
		if err != nil {
			t.Fatalf("step %d insert: %v", step, err)
		}
		if _, dup := live[id]; dup {
			t.Fatalf("step %d: id %#x handed out twice", step, id)
		}
		live[id] = struct{}{}
	}
	if m.Len() != len(live) {
		t.Fatalf("len got=%d want=%d", m.Len(), len(live))
	}
}

func TestEachOrder(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	sid, _ := m.ServerInsertNew(obj("s"))
	_ = m.InsertAt(1, obj("display"))
	_ = m.InsertAt(2, obj("c"))
	_ = m.Zombify(2)

	var ids []uint32
	var states []State
	m.Each(func(id uint32, _ Object[string], state State) bool {
		ids = append(ids, id)
		states = append(states, state)
		return true
	})
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != sid {
		t.Fatalf("order got=%v", ids)
	}
	if states[1] != Zombie {
		t.Fatalf("state got=%v", states)
	}
}

func TestPlaceFillsGapsWithFreeSlots(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	if err := m.Place(ServerIDStart+2, obj("c")); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, state := m.Find(ServerIDStart); state != Free {
		t.Fatalf("skipped slot state=%s", state)
	}
	if err := m.Place(ServerIDStart+2, obj("again")); !errors.Is(err, ErrIDInUse) {
		t.Fatalf("expected ErrIDInUse, got %v", err)
	}
	if err := m.Zombify(ServerIDStart + 2); err != nil {
		t.Fatalf("zombify: %v", err)
	}
	if err := m.Place(ServerIDStart+2, obj("reused")); err != nil {
		t.Fatalf("place over zombie: %v", err)
	}
	id, err := m.ServerInsertNew(obj("a"))
	if err != nil || id != ServerIDStart {
		t.Fatalf("lowest skipped id should be reused first, got %#x err=%v", id, err)
	}
}

func TestFreeListBoundedUnderPeerChurn(t *testing.T) {
	testlog.Start(t)
	m := New[string]()
	for id := uint32(1); id <= 3; id++ {
		if err := m.InsertAt(id, obj("x")); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}
	for i := 0; i < 100000; i++ {
		m.Remove(2)
		if err := m.InsertAt(2, obj("again")); err != nil {
			t.Fatalf("reinsert %d: %v", i, err)
		}
	}
	if n := m.client.free.Len(); n > len(m.client.slots) {
		t.Fatalf("free list len=%d exceeds slots=%d", n, len(m.client.slots))
	}

	for i := 0; i < 1000; i++ {
		if err := m.Place(ServerIDStart+4, obj("p")); err != nil {
			t.Fatalf("place %d: %v", i, err)
		}
		m.Remove(ServerIDStart + 1)
		m.Remove(ServerIDStart + 4)
		if err := m.Place(ServerIDStart+1, obj("q")); err != nil {
			t.Fatalf("place skipped %d: %v", i, err)
		}
	}
	if n := m.server.free.Len(); n > 5 {
		t.Fatalf("server free list len=%d after churn", n)
	}

	m.Remove(2)
	id, err := m.ClientInsertNew(obj("fresh"))
	if err != nil || id != 2 {
		t.Fatalf("freed id should still be reused, got %d err=%v", id, err)
	}
}
