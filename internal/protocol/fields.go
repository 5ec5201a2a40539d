package protocol

import "math"

// Fixed is a signed 24.8 fixed-point number.
type Fixed int32

// FixedFromFloat converts f, truncating toward zero at 1/256 precision.
func FixedFromFloat(f float64) Fixed {
	return Fixed(int32(f * 256))
}

// FixedFromInt converts an integer value.
func FixedFromInt(v int32) Fixed {
	return Fixed(v << 8)
}

// Float returns the value as float64.
func (f Fixed) Float() float64 {
	return float64(f) / 256
}

// Int returns the integer part, rounding toward negative infinity.
func (f Fixed) Int() int32 {
	return int32(f) >> 8
}

// Raw returns the wire representation.
func (f Fixed) Raw() uint32 {
	return uint32(f)
}

// Argument is one typed message argument.
//
// Str is nil for a null string. Object and NewID are raw protocol ids, 0
// meaning null. Fd is a file descriptor owned by whoever holds the message.
type Argument struct {
	Type   ArgumentType
	Int    int32
	Uint   uint32
	Fixed  Fixed
	Str    []byte
	Array  []byte
	Object uint32
	NewID  uint32
	Fd     int
}

// NewInt creates an int argument.
func NewInt(v int32) Argument {
	return Argument{Type: ArgInt, Int: v}
}

// NewUint creates a uint argument.
func NewUint(v uint32) Argument {
	return Argument{Type: ArgUint, Uint: v}
}

// NewFixed creates a fixed argument.
func NewFixed(v Fixed) Argument {
	return Argument{Type: ArgFixed, Fixed: v}
}

// NewFixedFloat creates a fixed argument from a float.
func NewFixedFloat(v float64) Argument {
	if v > math.MaxInt32/256 {
		v = math.MaxInt32 / 256
	}
	if v < math.MinInt32/256 {
		v = math.MinInt32 / 256
	}
	return Argument{Type: ArgFixed, Fixed: FixedFromFloat(v)}
}

// NewString creates a non-null string argument.
func NewString(v string) Argument {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Argument{Type: ArgStr, Str: buf}
}

// NewNullString creates a null string argument.
func NewNullString() Argument {
	return Argument{Type: ArgStr}
}

// NewArray creates an array argument.
func NewArray(v []byte) Argument {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Argument{Type: ArgArray, Array: buf}
}

// NewObject creates an object reference argument.
func NewObject(id uint32) Argument {
	return Argument{Type: ArgObject, Object: id}
}

// NewNewID creates a new_id argument.
func NewNewID(id uint32) Argument {
	return Argument{Type: ArgNewID, NewID: id}
}

// NewFd creates a file descriptor argument.
func NewFd(fd int) Argument {
	return Argument{Type: ArgFd, Fd: fd}
}

// Text returns the string value; ok is false for a null string.
func (a Argument) Text() (string, bool) {
	if a.Str == nil {
		return "", false
	}
	return string(a.Str), true
}

// IsNull reports whether a nullable argument carries no value.
func (a Argument) IsNull() bool {
	switch a.Type {
	case ArgStr:
		return a.Str == nil
	case ArgObject:
		return a.Object == 0
	case ArgNewID:
		return a.NewID == 0
	default:
		return false
	}
}
