package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrInterfaceExists  = errors.New("schema: interface already registered")
	ErrInterfaceNil     = errors.New("schema: interface is nil")
	ErrInvalidInterface = errors.New("schema: invalid interface")
)

// Catalogue stores interface tables by wire name.
type Catalogue struct {
	items map[string]*protocol.Interface
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{items: make(map[string]*protocol.Interface)}
}

// Default returns a catalogue holding the core and demo interfaces.
func Default() *Catalogue {
	c := NewCatalogue()
	for _, iface := range []*protocol.Interface{Display, Registry, Callback, TestGlobal, TestChild} {
		if err := c.Register(iface); err != nil {
			panic(err)
		}
	}
	return c
}

// ValidateInterface checks the name format, version and message tables.
func ValidateInterface(iface *protocol.Interface) error {
	if iface == nil {
		return ErrInterfaceNil
	}
	name := strings.TrimSpace(iface.Name)
	if !isValidName(name) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidInterface, iface.Name)
	}
	if iface.Version == 0 {
		return fmt.Errorf("%w: %s has version 0", ErrInvalidInterface, name)
	}
	if len(iface.Requests) > 1<<16 || len(iface.Events) > 1<<16 {
		return fmt.Errorf("%w: %s has too many messages", ErrInvalidInterface, name)
	}
	for _, tbl := range [][]protocol.MessageDesc{iface.Requests, iface.Events} {
		for _, desc := range tbl {
			if desc.Since > iface.Version {
				return fmt.Errorf("%w: %s.%s since %d above version %d",
					ErrInvalidInterface, name, desc.Name, desc.Since, iface.Version)
			}
			newIDs := 0
			for _, spec := range desc.Signature {
				if spec.Type == protocol.ArgNewID {
					newIDs++
				}
			}
			if newIDs > 1 {
				return fmt.Errorf("%w: %s.%s has %d new_id arguments", ErrInvalidInterface, name, desc.Name, newIDs)
			}
		}
	}
	return nil
}

// Register adds an interface to the catalogue.
func (c *Catalogue) Register(iface *protocol.Interface) error {
	if err := ValidateInterface(iface); err != nil {
		log.Error().Err(err).Msg("schema.Catalogue.Register rejected interface")
		return err
	}
	if _, ok := c.items[iface.Name]; ok {
		return fmt.Errorf("%w: %s", ErrInterfaceExists, iface.Name)
	}
	c.items[iface.Name] = iface
	log.Debug().Str("interface", iface.Name).Uint32("version", iface.Version).Msg("schema.Catalogue.Register ok")
	return nil
}

// Lookup returns an interface by wire name.
func (c *Catalogue) Lookup(name string) (*protocol.Interface, bool) {
	iface, ok := c.items[name]
	return iface, ok
}

// Names returns registered names in sorted order.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.items))
	for name := range c.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 && (isSep || isDigit) {
			return false
		}
	}
	return true
}
