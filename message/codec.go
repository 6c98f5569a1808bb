// Package message implements the connectionless broadcast message codec.
//
// A message is a channel number plus an ordered sequence of typed values,
// packed into the manufacturer-specific data of a BLE advertisement:
//
//	[company ID: 2 bytes LE] [signature: 1 byte] [channel: 1 byte] [value...]
//
// where each value is one tag byte (kind in the top 3 bits, width class in
// the low 5 bits) followed by its payload. Numerics are little-endian;
// integers use the smallest of 1, 2 or 4 bytes that holds the value; text
// and bytes carry a 1-byte length prefix.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	// CompanyID is the LEGO System A/S Bluetooth company identifier that
	// marks the manufacturer data as a hub broadcast.
	CompanyID = 0x0397

	// Signature is the protocol signature byte following the company ID.
	Signature = 0x50

	// HeaderSize is the fixed prefix: company ID + signature + channel.
	HeaderSize = 4

	// MaxPayloadSize is the maximum encoded message size: 31 bytes of
	// advertising data minus 5 bytes of envelope overhead.
	MaxPayloadSize = 26

	// MaxChannel is the highest broadcast channel.
	MaxChannel = 255
)

// Encoding errors: the caller supplied a message that cannot conform to
// the wire format. Never retried.
var (
	ErrPayloadTooLarge  = errors.New("encoded payload exceeds advertising limit")
	ErrUnsupportedValue = errors.New("value cannot be represented")
)

// Decoding errors: recovered locally by observers, the event is dropped.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrTruncatedPayload = errors.New("truncated payload")
	ErrUnknownTag       = errors.New("unknown type tag")
)

// Encode packs a channel and an ordered value sequence into manufacturer
// data bytes. An empty value sequence is a valid channel-only message.
// The running length is checked as values are appended; a message that
// would exceed MaxPayloadSize fails with ErrPayloadTooLarge and no
// partial payload is returned.
func Encode(channel uint8, values []Value) ([]byte, error) {
	buf := make([]byte, 0, MaxPayloadSize)
	buf = binary.LittleEndian.AppendUint16(buf, CompanyID)
	buf = append(buf, Signature, channel)

	for i, v := range values {
		encoded, err := appendValue(buf, v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		if len(encoded) > MaxPayloadSize {
			return nil, fmt.Errorf("value %d: %w: %d > %d bytes",
				i, ErrPayloadTooLarge, len(encoded), MaxPayloadSize)
		}
		buf = encoded
	}

	return buf, nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case KindInt:
		width := intWidth(v.Int)
		buf = append(buf, tag(KindInt, width))
		switch width {
		case 1:
			buf = append(buf, byte(int8(v.Int)))
		case 2:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(v.Int)))
		default:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Int))
		}
		return buf, nil

	case KindFloat:
		buf = append(buf, tag(KindFloat, 4))
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v.Float)), nil

	case KindBool:
		buf = append(buf, tag(KindBool, 1))
		if v.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil

	case KindText:
		if !utf8.ValidString(v.Text) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedValue)
		}
		if len(v.Text) > 255 {
			return nil, fmt.Errorf("%w: text is %d bytes, max 255", ErrUnsupportedValue, len(v.Text))
		}
		buf = append(buf, tag(KindText, 0), byte(len(v.Text)))
		return append(buf, v.Text...), nil

	case KindBytes:
		if len(v.Bytes) > 255 {
			return nil, fmt.Errorf("%w: bytes is %d bytes, max 255", ErrUnsupportedValue, len(v.Bytes))
		}
		buf = append(buf, tag(KindBytes, 0), byte(len(v.Bytes)))
		return append(buf, v.Bytes...), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Kind)
	}
}

// tag packs a kind and a width class into a single tag byte
func tag(k Kind, width int) byte {
	return byte(k)<<5 | byte(width)&0x1f
}

// IsBroadcast reports whether data starts with the company ID and protocol
// signature. Observers use this to discard foreign advertisements without
// running the full decoder.
func IsBroadcast(data []byte) bool {
	return len(data) >= HeaderSize &&
		binary.LittleEndian.Uint16(data) == CompanyID &&
		data[2] == Signature
}

// Decode unpacks manufacturer data into its channel and value sequence.
// It reconstructs the exact sequence the encoder produced: for every valid
// encoding, Decode(Encode(ch, vals)) round-trips.
func Decode(data []byte) (uint8, []Value, error) {
	if len(data) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncatedPayload, len(data), HeaderSize)
	}
	if cid := binary.LittleEndian.Uint16(data); cid != CompanyID {
		return 0, nil, fmt.Errorf("%w: company ID 0x%04x", ErrMalformedPayload, cid)
	}
	if data[2] != Signature {
		return 0, nil, fmt.Errorf("%w: signature 0x%02x", ErrMalformedPayload, data[2])
	}
	channel := data[3]

	var values []Value
	idx := HeaderSize
	for idx < len(data) {
		v, next, err := decodeValue(data, idx)
		if err != nil {
			return 0, nil, err
		}
		values = append(values, v)
		idx = next
	}

	return channel, values, nil
}

func decodeValue(data []byte, idx int) (Value, int, error) {
	kind := Kind(data[idx] >> 5)
	width := int(data[idx] & 0x1f)
	idx++

	switch kind {
	case KindInt:
		if width != 1 && width != 2 && width != 4 {
			return Value{}, 0, fmt.Errorf("%w: int width %d", ErrUnknownTag, width)
		}
		if idx+width > len(data) {
			return Value{}, 0, fmt.Errorf("%w: int needs %d bytes, %d left", ErrTruncatedPayload, width, len(data)-idx)
		}
		var n int32
		switch width {
		case 1:
			n = int32(int8(data[idx]))
		case 2:
			n = int32(int16(binary.LittleEndian.Uint16(data[idx:])))
		default:
			n = int32(binary.LittleEndian.Uint32(data[idx:]))
		}
		return Value{Kind: KindInt, Int: n, IntWidth: width}, idx + width, nil

	case KindFloat:
		if width != 4 {
			return Value{}, 0, fmt.Errorf("%w: float width %d", ErrUnknownTag, width)
		}
		if idx+4 > len(data) {
			return Value{}, 0, fmt.Errorf("%w: float needs 4 bytes, %d left", ErrTruncatedPayload, len(data)-idx)
		}
		f := math.Float32frombits(binary.LittleEndian.Uint32(data[idx:]))
		return Value{Kind: KindFloat, Float: f}, idx + 4, nil

	case KindBool:
		if width != 1 {
			return Value{}, 0, fmt.Errorf("%w: bool width %d", ErrUnknownTag, width)
		}
		if idx >= len(data) {
			return Value{}, 0, fmt.Errorf("%w: bool needs 1 byte", ErrTruncatedPayload)
		}
		switch data[idx] {
		case 0:
			return Value{Kind: KindBool, Bool: false}, idx + 1, nil
		case 1:
			return Value{Kind: KindBool, Bool: true}, idx + 1, nil
		default:
			return Value{}, 0, fmt.Errorf("%w: bool byte 0x%02x", ErrMalformedPayload, data[idx])
		}

	case KindText, KindBytes:
		if width != 0 {
			return Value{}, 0, fmt.Errorf("%w: %s width %d", ErrUnknownTag, kind, width)
		}
		if idx >= len(data) {
			return Value{}, 0, fmt.Errorf("%w: %s missing length byte", ErrTruncatedPayload, kind)
		}
		length := int(data[idx])
		idx++
		if idx+length > len(data) {
			return Value{}, 0, fmt.Errorf("%w: %s needs %d bytes, %d left", ErrTruncatedPayload, kind, length, len(data)-idx)
		}
		payload := data[idx : idx+length]
		if kind == KindText {
			if !utf8.Valid(payload) {
				return Value{}, 0, fmt.Errorf("%w: text is not valid UTF-8", ErrMalformedPayload)
			}
			return Value{Kind: KindText, Text: string(payload)}, idx + length, nil
		}
		b := make([]byte, length)
		copy(b, payload)
		return Value{Kind: KindBytes, Bytes: b}, idx + length, nil

	default:
		return Value{}, 0, fmt.Errorf("%w: kind %d", ErrUnknownTag, kind)
	}
}
