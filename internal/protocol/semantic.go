package protocol

import "fmt"

// CheckArgs validates args against a message signature: same length, same
// kinds in order, and nulls only where the signature allows them.
func CheckArgs(desc MessageDesc, args []Argument) error {
	if len(args) != len(desc.Signature) {
		return SignatureError{
			Message: desc.Name,
			Index:   -1,
			Err:     fmt.Errorf("%w: got %d want %d", ErrArgumentCount, len(args), len(desc.Signature)),
		}
	}
	for i, spec := range desc.Signature {
		arg := args[i]
		if arg.Type != spec.Type {
			return SignatureError{
				Message: desc.Name,
				Index:   i,
				Err:     fmt.Errorf("%w: got %s want %s", ErrArgumentType, arg.Type, spec.Type),
			}
		}
		if !spec.AllowNull && arg.IsNull() {
			return SignatureError{Message: desc.Name, Index: i, Err: ErrNullArgument}
		}
	}
	return nil
}

// CheckRequest resolves opcode on iface at version and validates args.
func CheckRequest(iface *Interface, version uint32, opcode uint16, args []Argument) (MessageDesc, error) {
	desc, err := LookupRequest(iface, version, opcode)
	if err != nil {
		return MessageDesc{}, err
	}
	return desc, CheckArgs(desc, args)
}

// LookupRequest resolves opcode on iface at version without looking at
// arguments.
func LookupRequest(iface *Interface, version uint32, opcode uint16) (MessageDesc, error) {
	desc, ok := iface.Request(opcode)
	if !ok {
		return MessageDesc{}, fmt.Errorf("%w: %s request %d", ErrUnknownOpcode, iface, opcode)
	}
	if desc.Since > version {
		return MessageDesc{}, fmt.Errorf("%w: %s.%s since %d, object version %d",
			ErrNotSupportedYet, iface, desc.Name, desc.Since, version)
	}
	return desc, nil
}

// CheckEvent resolves opcode on iface at version and validates args.
func CheckEvent(iface *Interface, version uint32, opcode uint16, args []Argument) (MessageDesc, error) {
	desc, ok := iface.Event(opcode)
	if !ok {
		return MessageDesc{}, fmt.Errorf("%w: %s event %d", ErrUnknownOpcode, iface, opcode)
	}
	if desc.Since > version {
		return MessageDesc{}, fmt.Errorf("%w: %s.%s since %d, object version %d",
			ErrNotSupportedYet, iface, desc.Name, desc.Since, version)
	}
	return desc, CheckArgs(desc, args)
}
