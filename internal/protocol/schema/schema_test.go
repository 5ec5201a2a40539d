package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/testutil/testlog"
)

func TestDefaultCatalogue(t *testing.T) {
	testlog.Start(t)
	c := Default()
	for _, name := range []string{"wl_display", "wl_registry", "wl_callback", "test_global", "test_child"} {
		if _, ok := c.Lookup(name); !ok {
			t.Fatalf("missing %s", name)
		}
	}
	names := c.Names()
	if len(names) != 5 || names[0] != "test_child" {
		t.Fatalf("names got=%v", names)
	}
}

func TestCoreOpcodes(t *testing.T) {
	testlog.Start(t)
	bind, ok := Registry.Request(RegistryBind)
	if !ok || bind.Name != "bind" {
		t.Fatalf("bind lookup failed")
	}
	if bind.ChildInterface() != nil || !bind.Constructor() {
		t.Fatalf("bind must be a generic constructor")
	}
	getRegistry, _ := Display.Request(DisplayGetRegistry)
	if getRegistry.ChildInterface() != Registry {
		t.Fatalf("get_registry must create wl_registry")
	}
	done, _ := Callback.Event(CallbackEventDone)
	if !done.Destructor {
		t.Fatalf("wl_callback.done is a destructor event")
	}
	spawn, _ := TestChild.Event(TestChildEventSpawn)
	if spawn.ChildInterface() != TestChild {
		t.Fatalf("spawn must create test_child, got %v", spawn.ChildInterface())
	}
	if req, ok := TestChild.Request(TestChildSpawn); !ok || !req.Constructor() || req.ChildInterface() != TestChild {
		t.Fatalf("test_child.spawn request=%+v", req)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	c := NewCatalogue()
	cases := []*protocol.Interface{
		nil,
		{Name: "Bad-Name", Version: 1},
		{Name: "zero_version", Version: 0},
		{Name: "_leading", Version: 1},
		{Name: "future", Version: 1, Requests: []protocol.MessageDesc{{Name: "x", Since: 2}}},
		{Name: "two_ids", Version: 1, Requests: []protocol.MessageDesc{{
			Name: "x",
			Signature: []protocol.ArgumentSpec{
				{Type: protocol.ArgNewID}, {Type: protocol.ArgNewID},
			},
		}}},
	}
	for i, iface := range cases {
		err := c.Register(iface)
		if !errors.Is(err, ErrInvalidInterface) && !errors.Is(err, ErrInterfaceNil) {
			t.Fatalf("case %d: expected rejection, got %v", i, err)
		}
	}
	if err := c.Register(TestGlobal); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Register(TestGlobal); !errors.Is(err, ErrInterfaceExists) {
		t.Fatalf("expected ErrInterfaceExists, got %v", err)
	}
}
