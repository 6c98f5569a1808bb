package message

import (
	"fmt"
	"strconv"
)

// Kind identifies the type of a broadcast value
type Kind byte

const (
	KindInt   Kind = 1
	KindFloat Kind = 2
	KindBool  Kind = 3
	KindText  Kind = 4
	KindBytes Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Value is a single typed value carried in a broadcast message.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	Int   int32
	Float float32
	Bool  bool
	Text  string
	Bytes []byte

	// IntWidth is the width class (1, 2 or 4 bytes) of an int value as it
	// appeared on the wire. Set by the decoder; ignored by the encoder,
	// which always picks the minimal width for Int.
	IntWidth int
}

// Int returns an integer value
func Int(v int32) Value {
	return Value{Kind: KindInt, Int: v, IntWidth: intWidth(v)}
}

// Float returns a single-precision float value
func Float(v float32) Value {
	return Value{Kind: KindFloat, Float: v}
}

// Bool returns a boolean value
func Bool(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

// Text returns a UTF-8 string value
func Text(v string) Value {
	return Value{Kind: KindText, Text: v}
}

// Bytes returns a raw byte sequence value
func Bytes(v []byte) Value {
	return Value{Kind: KindBytes, Bytes: v}
}

// intWidth returns the smallest of 1, 2 or 4 bytes that represents v
// without loss.
func intWidth(v int32) int {
	switch {
	case v >= -128 && v <= 127:
		return 1
	case v >= -32768 && v <= 32767:
		return 2
	default:
		return 4
	}
}

// Equal reports whether two values have the same kind and payload.
// The wire width class of int values does not participate: 5 decoded
// from one byte equals 5 constructed locally.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == other.Int
	case KindFloat:
		return v.Float == other.Float
	case KindBool:
		return v.Bool == other.Bool
	case KindText:
		return v.Text == other.Text
	case KindBytes:
		if len(v.Bytes) != len(other.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != other.Bytes[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Interface returns the payload as a plain Go value, for generic rendering
func (v Value) Interface() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindText:
		return v.Text
	case KindBytes:
		return v.Bytes
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindFloat:
		return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindText:
		return strconv.Quote(v.Text)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.Bytes)
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}
