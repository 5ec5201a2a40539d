package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrArgumentCount   = errors.New("protocol: argument count mismatch")
	ErrArgumentType    = errors.New("protocol: argument type mismatch")
	ErrNullArgument    = errors.New("protocol: null argument not allowed")
	ErrUnknownOpcode   = errors.New("protocol: unknown opcode")
	ErrNotSupportedYet = errors.New("protocol: message not supported at object version")
)

// SignatureError names the argument that failed a signature check.
type SignatureError struct {
	Message string
	Index   int
	Err     error
}

func (e SignatureError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("protocol: message=%s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("protocol: message=%s arg=%d: %v", e.Message, e.Index, e.Err)
}

func (e SignatureError) Unwrap() error { return e.Err }
