package client

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID       = errors.New("client: invalid id")
	ErrInvalidArgument = errors.New("client: invalid argument")
	// ErrServerViolation is returned when the server sends something no
	// correct server can send, such as an event for an id that was never
	// created.
	ErrServerViolation = errors.New("client: server protocol violation")
	ErrClosed          = errors.New("client: connection closed")
)

// InvalidIDError reports a handle that no longer names a live object.
type InvalidIDError struct {
	ID uint32
}

func (e InvalidIDError) Error() string {
	return fmt.Sprintf("client: invalid object id %d", e.ID)
}

func (e InvalidIDError) Unwrap() error { return ErrInvalidID }

// ProtocolError is the fatal error the server reported through
// wl_display.error.
type ProtocolError struct {
	Code            uint32
	ObjectID        uint32
	ObjectInterface string
	Message         string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d on %s@%d: %s", e.Code, e.ObjectInterface, e.ObjectID, e.Message)
}
