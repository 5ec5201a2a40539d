package server

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID       = errors.New("server: invalid id")
	ErrGlobalVersion   = errors.New("server: global version above interface maximum")
	ErrClientGone      = errors.New("server: client disconnected")
	ErrInvalidArgument = errors.New("server: invalid argument")
)

// InvalidIDError reports a handle that no longer names a live entity.
type InvalidIDError struct {
	What string
	ID   uint32
}

func (e InvalidIDError) Error() string {
	return fmt.Sprintf("server: invalid %s id %d", e.What, e.ID)
}

func (e InvalidIDError) Unwrap() error { return ErrInvalidID }

// ProtocolError is a fatal error delivered to a client before disconnection.
type ProtocolError struct {
	Code            uint32
	ObjectID        uint32
	ObjectInterface string
	Message         string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d on %s@%d: %s", e.Code, e.ObjectInterface, e.ObjectID, e.Message)
}

// DisconnectKind tells why a connection ended.
type DisconnectKind int

const (
	ConnectionClosed DisconnectKind = iota
	ProtocolViolation
)

func (k DisconnectKind) String() string {
	switch k {
	case ConnectionClosed:
		return "connection_closed"
	case ProtocolViolation:
		return "protocol_error"
	default:
		return fmt.Sprintf("disconnect(%d)", int(k))
	}
}

// DisconnectReason is passed to ClientData.Disconnected.
type DisconnectReason struct {
	Kind  DisconnectKind
	Error *ProtocolError
}

func (r DisconnectReason) String() string {
	if r.Error != nil {
		return r.Kind.String() + ": " + r.Error.Error()
	}
	return r.Kind.String()
}
