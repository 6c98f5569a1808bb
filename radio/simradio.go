package radio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/pybble/adv"
	"github.com/user/pybble/logger"
	"github.com/user/pybble/util"
)

// Advertisements on the simulated air are JSON files in a shared directory.
// Publishing a file starts advertising, removing it stops; scanners poll
// the directory and synthesize scan events, which simulates over-the-air
// reception between processes without Bluetooth hardware.

const advFilePrefix = "bcast-"

// advRecord is the on-disk form of a simulated advertisement. Data holds
// the assembled advertising data, AD structures and all, exactly as it
// would go over the air.
type advRecord struct {
	Identity  string    `json:"identity"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SimRadio implements Advertiser and Scanner over the simulated air
type SimRadio struct {
	identity string
	dir      string
	sim      *Simulator

	mu       sync.Mutex
	scanStop chan struct{}
	scanDone chan struct{}

	distMu    sync.RWMutex
	distances map[string]float64 // sender identity -> meters
}

// NewSimRadio creates a simulated radio publishing into dir. An empty dir
// uses the shared data directory, so independent processes see each other.
func NewSimRadio(dir string, sim *Simulator) *SimRadio {
	if dir == "" {
		dir = util.GetAdvDir()
	}
	if sim == nil {
		sim = NewSimulator(nil)
	}
	return &SimRadio{
		identity:  uuid.New().String(),
		dir:       dir,
		sim:       sim,
		distances: make(map[string]float64),
	}
}

// Identity returns the simulated adapter address
func (r *SimRadio) Identity() string {
	return r.identity
}

// SetDistance sets the simulated distance in meters to another radio,
// which drives the RSSI of its received advertisements. Default is 1m.
func (r *SimRadio) SetDistance(identity string, meters float64) {
	r.distMu.Lock()
	defer r.distMu.Unlock()
	r.distances[identity] = meters
}

func (r *SimRadio) distanceTo(identity string) float64 {
	r.distMu.RLock()
	defer r.distMu.RUnlock()
	if d, ok := r.distances[identity]; ok {
		return d
	}
	return 1
}

// simHandle is one published advertisement
type simHandle struct {
	radio *SimRadio
	name  string
	path  string

	mu    sync.Mutex
	ended bool
}

// BeginAdvertising assembles the advertising-data envelope and publishes it
// on the simulated air
func (r *SimRadio) BeginAdvertising(name string, payload []byte) (Handle, error) {
	data, err := adv.BroadcastData(name, payload)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	h := &simHandle{
		radio: r,
		name:  name,
		path:  filepath.Join(r.dir, fmt.Sprintf("%s%s.json", advFilePrefix, uuid.New().String())),
	}
	if err := h.write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	logger.Info("radio", "Advertising as %q (%d payload bytes)", name, len(payload))
	return h, nil
}

func (h *simHandle) write(data []byte) error {
	rec := advRecord{
		Identity:  h.radio.identity,
		Data:      data,
		UpdatedAt: time.Now(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal advertisement: %w", err)
	}
	if err := os.WriteFile(h.path, data, 0644); err != nil {
		return fmt.Errorf("failed to publish advertisement: %w", err)
	}
	return nil
}

// Refresh re-assembles the envelope with the new payload and republishes it
func (h *simHandle) Refresh(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return fmt.Errorf("advertisement already ended")
	}

	data, err := adv.BroadcastData(h.name, payload)
	if err != nil {
		return err
	}
	return h.write(data)
}

// End withdraws the advertisement. Re-entrant.
func (h *simHandle) End() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return nil
	}
	h.ended = true

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to withdraw advertisement: %w", err)
	}
	logger.Debug("radio", "Advertisement withdrawn")
	return nil
}

func readAdvRecord(path string) (*advRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read advertisement: %w", err)
	}
	var rec advRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse advertisement: %w", err)
	}
	return &rec, nil
}

// StartScan begins polling the simulated air. The returned channel closes
// when scanning stops. Events that arrive faster than the consumer reads
// are dropped, never queued unboundedly.
func (r *SimRadio) StartScan(mode ScanMode) (<-chan ScanEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanStop != nil {
		return nil, fmt.Errorf("%w: scan already active", ErrUnavailable)
	}
	if _, err := os.Stat(r.dir); err != nil {
		if err := os.MkdirAll(r.dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	events := make(chan ScanEvent, 64)
	stop := make(chan struct{})
	done := make(chan struct{})
	r.scanStop = stop
	r.scanDone = done

	logger.Info("radio", "Scanning (%s) on %s", mode, r.dir)

	go func() {
		defer close(done)
		defer close(events)

		ticker := time.NewTicker(r.sim.ScanInterval())
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.poll(events)
			}
		}
	}()

	return events, nil
}

// poll reads every published advertisement and emits scan events
func (r *SimRadio) poll(events chan<- ScanEvent) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		logger.Warn("radio", "Failed to read air directory: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, advFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}

		rec, err := readAdvRecord(filepath.Join(r.dir, name))
		if err != nil {
			// Torn write or concurrent removal
			logger.Trace("radio", "Skipping %s: %v", name, err)
			continue
		}

		// A radio does not receive its own advertisements
		if rec.Identity == r.identity {
			continue
		}

		if !r.sim.ShouldDeliver() {
			continue
		}

		payload, err := adv.ManufacturerPayload(rec.Data)
		if err != nil {
			logger.Trace("radio", "Skipping %s: %v", name, err)
			continue
		}

		event := ScanEvent{
			Identity:         rec.Identity,
			Name:             adv.LocalName(rec.Data),
			RSSI:             r.sim.GenerateRSSI(r.distanceTo(rec.Identity)),
			ManufacturerData: payload,
			Timestamp:        time.Now(),
		}

		select {
		case events <- event:
		default:
			logger.Trace("radio", "Scan queue full, dropping event from %s", rec.Identity)
		}
	}
}

// StopScan stops polling and closes the event channel. Re-entrant.
func (r *SimRadio) StopScan() error {
	r.mu.Lock()
	stop, done := r.scanStop, r.scanDone
	r.scanStop, r.scanDone = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	logger.Info("radio", "Scan stopped")
	return nil
}
