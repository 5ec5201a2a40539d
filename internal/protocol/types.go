package protocol

import "fmt"

// ArgumentType is the wire kind of one message argument.
type ArgumentType uint8

const (
	ArgInt ArgumentType = iota + 1
	ArgUint
	ArgFixed
	ArgStr
	ArgObject
	ArgNewID
	ArgArray
	ArgFd
)

func (t ArgumentType) String() string {
	switch t {
	case ArgInt:
		return "int"
	case ArgUint:
		return "uint"
	case ArgFixed:
		return "fixed"
	case ArgStr:
		return "string"
	case ArgObject:
		return "object"
	case ArgNewID:
		return "new_id"
	case ArgArray:
		return "array"
	case ArgFd:
		return "fd"
	default:
		return fmt.Sprintf("argtype(%d)", uint8(t))
	}
}

// ArgumentSpec declares one argument slot of a message signature.
//
// Interface is the expected interface of an object or new_id argument. A
// new_id with a nil Interface is a generic constructor: its interface name and
// version travel as the two preceding string and uint arguments.
type ArgumentSpec struct {
	Type      ArgumentType
	Interface *Interface
	AllowNull bool
}

// MessageDesc describes one request or event.
type MessageDesc struct {
	Name       string
	Signature  []ArgumentSpec
	Since      uint32
	Destructor bool
}

// ChildInterface returns the interface created by the message's new_id
// argument, nil for generic constructors and messages without one.
func (m MessageDesc) ChildInterface() *Interface {
	for _, spec := range m.Signature {
		if spec.Type == ArgNewID {
			return spec.Interface
		}
	}
	return nil
}

// Constructor reports whether the message carries a new_id argument.
func (m MessageDesc) Constructor() bool {
	for _, spec := range m.Signature {
		if spec.Type == ArgNewID {
			return true
		}
	}
	return false
}

// Interface is a named, versioned set of requests and events.
type Interface struct {
	Name     string
	Version  uint32
	Requests []MessageDesc
	Events   []MessageDesc
}

func (i *Interface) String() string {
	if i == nil {
		return "<nil>"
	}
	return i.Name
}

// Request returns the request descriptor for opcode.
func (i *Interface) Request(opcode uint16) (MessageDesc, bool) {
	if i == nil || int(opcode) >= len(i.Requests) {
		return MessageDesc{}, false
	}
	return i.Requests[opcode], true
}

// Event returns the event descriptor for opcode.
func (i *Interface) Event(opcode uint16) (MessageDesc, bool) {
	if i == nil || int(opcode) >= len(i.Events) {
		return MessageDesc{}, false
	}
	return i.Events[opcode], true
}

// SameInterface compares interfaces by name, the only identity the wire knows.
func SameInterface(a, b *Interface) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Name == b.Name
}

// Message is one decoded or to-be-encoded protocol message.
type Message struct {
	SenderID uint32
	Opcode   uint16
	Args     []Argument
}
