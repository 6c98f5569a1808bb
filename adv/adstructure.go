// Package adv assembles and parses the BLE advertising-data envelope that
// carries broadcast messages: a sequence of TLV AD structures holding the
// flags, the local device name and the manufacturer-specific data blob.
package adv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AD Types (Advertising Data Types) - EIR/AD format
const (
	TypeFlags                = 0x01 // Flags
	TypeShortenedLocalName   = 0x08 // Shortened Local Name
	TypeCompleteLocalName    = 0x09 // Complete Local Name
	TypeTxPowerLevel         = 0x0A // Tx Power Level
	TypeManufacturerSpecific = 0xFF // Manufacturer Specific Data
)

// Advertising Flags (used in TypeFlags)
const (
	FlagLELimitedDiscoverableMode = 0x01 // LE Limited Discoverable Mode
	FlagLEGeneralDiscoverableMode = 0x02 // LE General Discoverable Mode
	FlagBREDRNotSupported         = 0x04 // BR/EDR Not Supported
)

// MaxDataLen is the BLE 4.x advertising data limit
const MaxDataLen = 31

// Structure represents a single TLV (Type-Length-Value) structure in
// advertising data
// Format: [Length: 1 byte] [Type: 1 byte] [Data: N bytes]
// Note: Length includes the Type byte but not itself
type Structure struct {
	Type byte   // AD Type (flags, local name, manufacturer data)
	Data []byte // AD Data
}

// Flags creates a flags AD structure
func Flags(flags byte) Structure {
	return Structure{
		Type: TypeFlags,
		Data: []byte{flags},
	}
}

// CompleteLocalName creates a complete local name AD structure
func CompleteLocalName(name string) Structure {
	return Structure{
		Type: TypeCompleteLocalName,
		Data: []byte(name),
	}
}

// ManufacturerSpecific creates a manufacturer-specific data AD structure.
// The broadcast codec already prefixes its payload with the company ID, so
// the payload is carried verbatim.
func ManufacturerSpecific(payload []byte) Structure {
	return Structure{
		Type: TypeManufacturerSpecific,
		Data: payload,
	}
}

// EncodeStructures encodes multiple AD structures into a single advertising
// data payload
func EncodeStructures(structures []Structure) ([]byte, error) {
	var buf []byte

	for _, s := range structures {
		// Length = 1 (type byte) + len(data)
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, fmt.Errorf("AD structure too long: %d bytes (max 255)", length)
		}

		buf = append(buf, byte(length))
		buf = append(buf, s.Type)
		buf = append(buf, s.Data...)
	}

	if len(buf) > MaxDataLen {
		return nil, fmt.Errorf("total advertising data exceeds %d bytes: %d", MaxDataLen, len(buf))
	}

	return buf, nil
}

// DecodeStructures parses advertising data into individual AD structures
func DecodeStructures(data []byte) ([]Structure, error) {
	var structures []Structure
	offset := 0

	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			// Padding or end of data
			break
		}

		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}

		adType := data[offset]
		offset++
		adData := make([]byte, length-1)
		copy(adData, data[offset:offset+length-1])
		offset += length - 1

		structures = append(structures, Structure{
			Type: adType,
			Data: adData,
		})
	}

	return structures, nil
}

// BroadcastData assembles the standard envelope for a broadcast: flags,
// the local name and the manufacturer data carrying the encoded message.
// The name is shortened if the three structures would not fit.
func BroadcastData(name string, payload []byte) ([]byte, error) {
	structures := []Structure{
		Flags(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported),
	}

	// flags (3) + manufacturer TLV (2+len) must always fit; the name takes
	// whatever room is left, shortened or dropped entirely
	base := 3 + 2 + len(payload)
	if base > MaxDataLen {
		return nil, fmt.Errorf("manufacturer payload of %d bytes does not fit in advertising data", len(payload))
	}
	room := MaxDataLen - base - 2
	if len(name) > 0 && room > 0 {
		if len(name) > room {
			structures = append(structures, Structure{
				Type: TypeShortenedLocalName,
				Data: []byte(name[:room]),
			})
		} else {
			structures = append(structures, CompleteLocalName(name))
		}
	}

	structures = append(structures, ManufacturerSpecific(payload))
	return EncodeStructures(structures)
}

// ErrNoManufacturerData is returned by ManufacturerPayload when the
// advertising data contains no manufacturer-specific structure.
var ErrNoManufacturerData = errors.New("no manufacturer-specific data")

// ManufacturerPayload extracts the manufacturer-specific blob (including
// its leading company ID) from raw advertising data.
func ManufacturerPayload(data []byte) ([]byte, error) {
	structures, err := DecodeStructures(data)
	if err != nil {
		return nil, err
	}
	for _, s := range structures {
		if s.Type == TypeManufacturerSpecific {
			return s.Data, nil
		}
	}
	return nil, ErrNoManufacturerData
}

// LocalName extracts the complete or shortened local name from raw
// advertising data, or "" when absent.
func LocalName(data []byte) string {
	structures, err := DecodeStructures(data)
	if err != nil {
		return ""
	}
	for _, s := range structures {
		if s.Type == TypeCompleteLocalName || s.Type == TypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

// CompanyID reads the company identifier from a manufacturer-specific blob
func CompanyID(payload []byte) (uint16, bool) {
	if len(payload) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(payload), true
}
