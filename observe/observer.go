package observe

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/pybble/logger"
	"github.com/user/pybble/message"
	"github.com/user/pybble/radio"
)

// State is the observer lifecycle state
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Filter selects which received advertisements become observations.
// Zero values mean "no restriction".
type Filter struct {
	Identity      string  // Exact sender identity
	NamePattern   string  // Sender name prefix
	RSSIThreshold *int    // Minimum signal strength in dBm
	Channels      []uint8 // Channels to observe; empty = all
}

func (f Filter) channelSet() map[uint8]bool {
	if len(f.Channels) == 0 {
		return nil
	}
	set := make(map[uint8]bool, len(f.Channels))
	for _, ch := range f.Channels {
		set[ch] = true
	}
	return set
}

// Stats counts what happened to received advertisement events
type Stats struct {
	Received  uint64 // Events taken from the scanner
	Delivered uint64 // Observations handed to the consumer
	Filtered  uint64 // Events rejected by identity/RSSI/channel filters
	Malformed uint64 // Events dropped due to decode failure
}

// Handler consumes observations as they are updated
type Handler func(Observation)

// Observer subscribes to a scanning radio, decodes matching broadcasts and
// maintains an observation cache. A single goroutine consumes the scan
// stream, so decode and upsert never run concurrently for one observer.
type Observer struct {
	scanner radio.Scanner
	cache   *Cache
	mode    radio.ScanMode

	mu       sync.Mutex
	state    atomic.Int32
	done     chan struct{}
	channels map[uint8]bool
	filter   Filter
	handler  Handler

	received  atomic.Uint64
	delivered atomic.Uint64
	filtered  atomic.Uint64
	malformed atomic.Uint64
}

// NewObserver creates an observer writing into cache. A nil cache gets a
// default-sized one; the cache may be shared between observers.
func NewObserver(scanner radio.Scanner, cache *Cache, mode radio.ScanMode) *Observer {
	if cache == nil {
		cache = NewCache(0, 0)
	}
	return &Observer{
		scanner: scanner,
		cache:   cache,
		mode:    mode,
	}
}

// Cache returns the observation cache this observer writes into
func (o *Observer) Cache() *Cache {
	return o.cache
}

// State returns the current lifecycle state
func (o *Observer) State() State {
	return State(o.state.Load())
}

// Stats returns counters for the subscription so far
func (o *Observer) Stats() Stats {
	return Stats{
		Received:  o.received.Load(),
		Delivered: o.delivered.Load(),
		Filtered:  o.filtered.Load(),
		Malformed: o.malformed.Load(),
	}
}

// Start begins scanning and delivering observations to handler. The
// handler runs on the observer's event goroutine, so it must not block.
func (o *Observer) Start(filter Filter, handler Handler) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if State(o.state.Load()) != StateIdle {
		return fmt.Errorf("observer is %s, not idle", o.State())
	}

	events, err := o.scanner.StartScan(o.mode)
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	o.filter = filter
	o.channels = filter.channelSet()
	o.handler = handler
	o.done = make(chan struct{})
	o.state.Store(int32(StateScanning))

	logger.Info("observer", "Observing (%s scan) on channels %s", o.mode, describeChannels(filter.Channels))

	go func() {
		defer close(o.done)
		for event := range events {
			o.handleEvent(event)
		}
		// The stream only ends through StopScan. If we did not initiate
		// it, the radio died underneath us.
		if o.state.CompareAndSwap(int32(StateScanning), int32(StateFailed)) {
			logger.Error("observer", "Scan stream ended unexpectedly")
		}
	}()

	return nil
}

// handleEvent processes one inbound advertisement. Failures drop the
// event and never stop the subscription.
func (o *Observer) handleEvent(event radio.ScanEvent) {
	o.received.Add(1)

	// Cheap signature probe before any decoding work
	if !message.IsBroadcast(event.ManufacturerData) {
		return
	}

	if o.filter.Identity != "" && event.Identity != o.filter.Identity {
		o.filtered.Add(1)
		return
	}
	if o.filter.NamePattern != "" && !strings.HasPrefix(event.Name, o.filter.NamePattern) {
		o.filtered.Add(1)
		return
	}
	if o.filter.RSSIThreshold != nil && event.RSSI < *o.filter.RSSIThreshold {
		logger.Debug("observer", "Filtered %s: RSSI %d below threshold %d", event.Identity, event.RSSI, *o.filter.RSSIThreshold)
		o.filtered.Add(1)
		return
	}

	channel, values, err := message.Decode(event.ManufacturerData)
	if err != nil {
		logger.Warn("observer", "Dropping broadcast from %s: %v", event.Identity, err)
		o.malformed.Add(1)
		return
	}

	if o.channels != nil && !o.channels[channel] {
		o.filtered.Add(1)
		return
	}

	now := event.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	o.cache.Upsert(event.Identity, channel, values, event.RSSI, now)
	o.delivered.Add(1)

	if logger.GetLevel() <= logger.DEBUG {
		logger.DebugJSON("observer", "Broadcast", broadcastStruct(event, channel, values))
	}

	if o.handler != nil {
		obs, ok := o.cache.Get(event.Identity, channel, now)
		if ok {
			o.handler(obs)
		}
	}
}

// Stop ends the subscription and unregisters from the scanner. Terminal
// from any non-failed state; stopping twice is a no-op. No events are
// delivered after Stop returns.
func (o *Observer) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch State(o.state.Load()) {
	case StateStopped, StateFailed:
		return nil
	case StateIdle:
		o.state.Store(int32(StateStopped))
		return nil
	}

	o.state.Store(int32(StateStopped))
	err := o.scanner.StopScan()
	<-o.done
	logger.Info("observer", "Subscription stopped")
	return err
}

// broadcastStruct renders a decoded broadcast as a protobuf Struct for
// structured debug logging
func broadcastStruct(event radio.ScanEvent, channel uint8, values []message.Value) *structpb.Struct {
	payload := make([]any, len(values))
	for i, v := range values {
		payload[i] = v.Interface()
	}
	s, err := structpb.NewStruct(map[string]any{
		"sender":  event.Identity,
		"channel": int(channel),
		"rssi":    event.RSSI,
		"values":  payload,
	})
	if err != nil {
		return nil
	}
	return s
}

func describeChannels(channels []uint8) string {
	if len(channels) == 0 {
		return "ALL"
	}
	parts := make([]string, len(channels))
	for i, ch := range channels {
		parts[i] = fmt.Sprintf("%d", ch)
	}
	return strings.Join(parts, ",")
}
