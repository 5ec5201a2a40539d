package client

import "github.com/danmuck/wlcore/internal/protocol/schema"

// Global is one advertisement received on a registry.
type Global struct {
	Name      uint32 `json:"name"`
	Interface string `json:"interface"`
	Version   uint32 `json:"version"`
}

// GlobalList is registry data that tracks the advertised globals in the
// order they arrived.
type GlobalList struct {
	Globals []Global
	Removed []uint32
}

func (l *GlobalList) Event(_ *Handle, ev Event) ObjectData {
	switch ev.Opcode {
	case schema.RegistryEventGlobal:
		iface, _ := ev.Args[1].Text()
		l.Globals = append(l.Globals, Global{Name: ev.Args[0].Uint, Interface: iface, Version: ev.Args[2].Uint})
	case schema.RegistryEventGlobalRemove:
		name := ev.Args[0].Uint
		l.Removed = append(l.Removed, name)
		for i, g := range l.Globals {
			if g.Name == name {
				l.Globals = append(l.Globals[:i], l.Globals[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (l *GlobalList) Destroyed(ObjectID) {}

// Find returns the first global advertising iface.
func (l *GlobalList) Find(iface string) (Global, bool) {
	for _, g := range l.Globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}
