// Package radio defines the external BLE capabilities the broadcast and
// observe roles drive: a connectionless advertiser and a scanner delivering
// a stream of advertisement events. A filesystem-backed simulation of both
// is included for tests and for running without Bluetooth hardware.
package radio

import (
	"errors"
	"time"
)

// ErrUnavailable indicates the radio capability could not be acquired:
// already in use, hardware absent or permission denied.
var ErrUnavailable = errors.New("radio unavailable")

// ScanMode selects how the scanner listens for advertisements
type ScanMode string

const (
	// ScanModePassive listens without scan requests. Recommended.
	ScanModePassive ScanMode = "passive"
	// ScanModeActive issues scan requests. Better supported, costs power.
	ScanModeActive ScanMode = "active"
)

// ScanEvent is a single received advertisement
type ScanEvent struct {
	Identity         string    // Opaque device address of the sender
	Name             string    // Local name from the advertising data, may be ""
	RSSI             int       // Received signal strength in dBm
	ManufacturerData []byte    // Manufacturer-specific data, company ID first
	Timestamp        time.Time // Receipt time
}

// Handle is an active advertisement registration
type Handle interface {
	// Refresh replaces the advertised payload without re-registering
	Refresh(payload []byte) error
	// End unregisters the advertisement. Re-entrant: ending an already
	// ended advertisement is a no-op.
	End() error
}

// Advertiser starts connectionless advertisements
type Advertiser interface {
	BeginAdvertising(name string, payload []byte) (Handle, error)
}

// Scanner delivers received advertisements as a stream of events.
// The returned channel is closed when scanning stops.
type Scanner interface {
	StartScan(mode ScanMode) (<-chan ScanEvent, error)
	StopScan() error
}
