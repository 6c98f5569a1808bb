package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/user/pybble/message"
	"github.com/user/pybble/radio"
)

// fakeScanner injects scan events directly, no simulated air needed
type fakeScanner struct {
	mu      sync.Mutex
	events  chan radio.ScanEvent
	stopped bool
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{events: make(chan radio.ScanEvent, 16)}
}

func (s *fakeScanner) StartScan(mode radio.ScanMode) (<-chan radio.ScanEvent, error) {
	return s.events, nil
}

func (s *fakeScanner) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.events)
	}
	return nil
}

// inject sends an event and gives the observer goroutine time to process it
func (s *fakeScanner) inject(t *testing.T, event radio.ScanEvent) {
	t.Helper()
	select {
	case s.events <- event:
	case <-time.After(time.Second):
		t.Fatal("Fake scanner queue full")
	}
}

func encodeOrDie(t *testing.T, channel uint8, values []message.Value) []byte {
	t.Helper()
	data, err := message.Encode(channel, values)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

// collect gathers delivered observations behind a lock
type collector struct {
	mu           sync.Mutex
	observations []Observation
}

func (c *collector) handler(obs Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observations = append(c.observations, obs)
}

func (c *collector) wait(t *testing.T, n int) []Observation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.observations) >= n {
			out := append([]Observation(nil), c.observations...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d observations", n)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observations)
}

// TestObserverDeliversObservations verifies the full inbound pipeline
func TestObserverDeliversObservations(t *testing.T) {
	scanner := newFakeScanner()
	observer := NewObserver(scanner, nil, radio.ScanModePassive)
	var sink collector

	if err := observer.Start(Filter{}, sink.handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer observer.Stop()

	if observer.State() != StateScanning {
		t.Errorf("Expected scanning state, got %s", observer.State())
	}

	now := time.Now()
	scanner.inject(t, radio.ScanEvent{
		Identity:         "aa:bb:cc:dd:ee:01",
		Name:             "hub-a",
		RSSI:             -42,
		ManufacturerData: encodeOrDie(t, 3, []message.Value{message.Text("hi"), message.Bool(true)}),
		Timestamp:        now,
	})

	observations := sink.wait(t, 1)
	obs := observations[0]
	if obs.Identity != "aa:bb:cc:dd:ee:01" || obs.Channel != 3 {
		t.Errorf("Wrong observation key: %s/%d", obs.Identity, obs.Channel)
	}
	if obs.RSSI != -42 {
		t.Errorf("Expected RSSI -42, got %d", obs.RSSI)
	}
	if len(obs.Values) != 2 || !obs.Values[0].Equal(message.Text("hi")) {
		t.Errorf("Wrong values: %v", obs.Values)
	}

	// The cache holds the observation too
	if _, ok := observer.Cache().Get("aa:bb:cc:dd:ee:01", 3, now); !ok {
		t.Error("Expected cache upsert")
	}

	stats := observer.Stats()
	if stats.Delivered != 1 {
		t.Errorf("Expected 1 delivered, got %+v", stats)
	}
}

// TestObserverChannelFilter verifies a message on an unwatched channel
// performs no upsert and delivers nothing
func TestObserverChannelFilter(t *testing.T) {
	scanner := newFakeScanner()
	observer := NewObserver(scanner, nil, radio.ScanModePassive)
	var sink collector

	if err := observer.Start(Filter{Channels: []uint8{1, 2}}, sink.handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer observer.Stop()

	now := time.Now()
	scanner.inject(t, radio.ScanEvent{
		Identity:         "sender",
		RSSI:             -42,
		ManufacturerData: encodeOrDie(t, 5, []message.Value{message.Int(1)}),
		Timestamp:        now,
	})
	scanner.inject(t, radio.ScanEvent{
		Identity:         "sender",
		RSSI:             -42,
		ManufacturerData: encodeOrDie(t, 2, []message.Value{message.Int(2)}),
		Timestamp:        now,
	})

	observations := sink.wait(t, 1)
	if observations[0].Channel != 2 {
		t.Errorf("Expected only channel 2, got %d", observations[0].Channel)
	}
	if _, ok := observer.Cache().Get("sender", 5, now); ok {
		t.Error("Channel 5 must not be cached")
	}
	if stats := observer.Stats(); stats.Filtered != 1 {
		t.Errorf("Expected 1 filtered event, got %+v", stats)
	}
}

// TestObserverRSSIThreshold verifies weak signals are dropped
func TestObserverRSSIThreshold(t *testing.T) {
	scanner := newFakeScanner()
	observer := NewObserver(scanner, nil, radio.ScanModePassive)
	var sink collector

	threshold := -60
	if err := observer.Start(Filter{RSSIThreshold: &threshold}, sink.handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer observer.Stop()

	payload := encodeOrDie(t, 1, []message.Value{message.Int(1)})
	scanner.inject(t, radio.ScanEvent{Identity: "far", RSSI: -80, ManufacturerData: payload, Timestamp: time.Now()})
	scanner.inject(t, radio.ScanEvent{Identity: "near", RSSI: -40, ManufacturerData: payload, Timestamp: time.Now()})

	observations := sink.wait(t, 1)
	if observations[0].Identity != "near" {
		t.Errorf("Expected only the near sender, got %s", observations[0].Identity)
	}
}

// TestObserverNameAndIdentityFilters verifies sender-based filtering
func TestObserverNameAndIdentityFilters(t *testing.T) {
	payload := encodeOrDie(t, 1, []message.Value{message.Int(1)})

	t.Run("name pattern", func(t *testing.T) {
		scanner := newFakeScanner()
		observer := NewObserver(scanner, nil, radio.ScanModePassive)
		var sink collector

		if err := observer.Start(Filter{NamePattern: "Pybricks"}, sink.handler); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer observer.Stop()

		scanner.inject(t, radio.ScanEvent{Identity: "x", Name: "OtherHub", RSSI: -40, ManufacturerData: payload, Timestamp: time.Now()})
		scanner.inject(t, radio.ScanEvent{Identity: "y", Name: "Pybricks Hub", RSSI: -40, ManufacturerData: payload, Timestamp: time.Now()})

		observations := sink.wait(t, 1)
		if observations[0].Identity != "y" {
			t.Errorf("Expected the matching name, got %s", observations[0].Identity)
		}
	})

	t.Run("identity", func(t *testing.T) {
		scanner := newFakeScanner()
		observer := NewObserver(scanner, nil, radio.ScanModePassive)
		var sink collector

		if err := observer.Start(Filter{Identity: "wanted"}, sink.handler); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer observer.Stop()

		scanner.inject(t, radio.ScanEvent{Identity: "unwanted", RSSI: -40, ManufacturerData: payload, Timestamp: time.Now()})
		scanner.inject(t, radio.ScanEvent{Identity: "wanted", RSSI: -40, ManufacturerData: payload, Timestamp: time.Now()})

		observations := sink.wait(t, 1)
		if observations[0].Identity != "wanted" {
			t.Errorf("Expected the matching identity, got %s", observations[0].Identity)
		}
	})
}

// TestObserverSurvivesMalformedPayloads verifies a bad advertisement never
// stops the subscription
func TestObserverSurvivesMalformedPayloads(t *testing.T) {
	scanner := newFakeScanner()
	observer := NewObserver(scanner, nil, radio.ScanModePassive)
	var sink collector

	if err := observer.Start(Filter{}, sink.handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer observer.Stop()

	valid := encodeOrDie(t, 1, []message.Value{message.Int(7)})

	// Protocol header followed by a truncated value
	truncated := append([]byte(nil), valid[:len(valid)-1]...)

	// Foreign manufacturer data, not our protocol at all
	foreign := []byte{0x4c, 0x00, 0x10, 0x05, 0x0b}

	scanner.inject(t, radio.ScanEvent{Identity: "a", RSSI: -40, ManufacturerData: truncated, Timestamp: time.Now()})
	scanner.inject(t, radio.ScanEvent{Identity: "b", RSSI: -40, ManufacturerData: foreign, Timestamp: time.Now()})
	scanner.inject(t, radio.ScanEvent{Identity: "c", RSSI: -40, ManufacturerData: valid, Timestamp: time.Now()})

	observations := sink.wait(t, 1)
	if observations[0].Identity != "c" {
		t.Errorf("Expected the valid event, got %s", observations[0].Identity)
	}
	if observer.State() != StateScanning {
		t.Errorf("Observer must keep scanning, state is %s", observer.State())
	}

	stats := observer.Stats()
	if stats.Malformed != 1 {
		t.Errorf("Expected 1 malformed event, got %+v", stats)
	}
	if stats.Received != 3 {
		t.Errorf("Expected 3 received events, got %+v", stats)
	}
}

// TestObserverSequentialUpdates verifies the cache holds only the latest
// message from a sender/channel pair
func TestObserverSequentialUpdates(t *testing.T) {
	scanner := newFakeScanner()
	observer := NewObserver(scanner, nil, radio.ScanModePassive)
	var sink collector

	if err := observer.Start(Filter{}, sink.handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer observer.Stop()

	base := time.Now()
	scanner.inject(t, radio.ScanEvent{
		Identity: "hub", RSSI: -40,
		ManufacturerData: encodeOrDie(t, 1, []message.Value{message.Int(1)}),
		Timestamp:        base,
	})
	scanner.inject(t, radio.ScanEvent{
		Identity: "hub", RSSI: -41,
		ManufacturerData: encodeOrDie(t, 1, []message.Value{message.Int(2)}),
		Timestamp:        base.Add(time.Second),
	})

	sink.wait(t, 2)

	obs, ok := observer.Cache().Get("hub", 1, base.Add(time.Second))
	if !ok {
		t.Fatal("Expected a cached observation")
	}
	if !obs.Values[0].Equal(message.Int(2)) {
		t.Errorf("Expected the second message, got %v", obs.Values[0])
	}
	if observer.Cache().Len() != 1 {
		t.Errorf("Expected a single entry, got %d", observer.Cache().Len())
	}
}

// TestObserverStop verifies the terminal transition and idempotence
func TestObserverStop(t *testing.T) {
	scanner := newFakeScanner()
	observer := NewObserver(scanner, nil, radio.ScanModePassive)
	var sink collector

	if err := observer.Start(Filter{}, sink.handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := observer.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if observer.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", observer.State())
	}
	if err := observer.Stop(); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}

	// The event goroutine has exited, so nothing can be delivered anymore
	before := sink.count()
	time.Sleep(20 * time.Millisecond)
	if sink.count() != before {
		t.Error("Events delivered after Stop")
	}

	// A stopped observer cannot be restarted
	if err := observer.Start(Filter{}, sink.handler); err == nil {
		t.Error("Expected Start on a stopped observer to fail")
	}
}

// TestObserverStopFromIdle verifies Stop is valid before Start
func TestObserverStopFromIdle(t *testing.T) {
	observer := NewObserver(newFakeScanner(), nil, radio.ScanModePassive)
	if err := observer.Stop(); err != nil {
		t.Fatalf("Stop from idle failed: %v", err)
	}
	if observer.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", observer.State())
	}
}

// TestObserverFailsWhenStreamDies verifies the failure transition
func TestObserverFailsWhenStreamDies(t *testing.T) {
	scanner := newFakeScanner()
	observer := NewObserver(scanner, nil, radio.ScanModePassive)

	if err := observer.Start(Filter{}, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Simulate the radio dying underneath the observer
	close(scanner.events)
	scanner.stopped = true

	deadline := time.Now().Add(time.Second)
	for observer.State() != StateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("Expected failed state, got %s", observer.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestObserverSharedCache verifies two observers can feed one cache
func TestObserverSharedCache(t *testing.T) {
	cache := NewCache(8, time.Minute)
	scannerA := newFakeScanner()
	scannerB := newFakeScanner()
	observerA := NewObserver(scannerA, cache, radio.ScanModePassive)
	observerB := NewObserver(scannerB, cache, radio.ScanModePassive)
	var sinkA, sinkB collector

	if err := observerA.Start(Filter{}, sinkA.handler); err != nil {
		t.Fatalf("Start A failed: %v", err)
	}
	defer observerA.Stop()
	if err := observerB.Start(Filter{}, sinkB.handler); err != nil {
		t.Fatalf("Start B failed: %v", err)
	}
	defer observerB.Stop()

	now := time.Now()
	scannerA.inject(t, radio.ScanEvent{
		Identity: "hub-1", RSSI: -40,
		ManufacturerData: encodeOrDie(t, 1, []message.Value{message.Int(1)}),
		Timestamp:        now,
	})
	scannerB.inject(t, radio.ScanEvent{
		Identity: "hub-2", RSSI: -50,
		ManufacturerData: encodeOrDie(t, 2, []message.Value{message.Int(2)}),
		Timestamp:        now,
	})

	sinkA.wait(t, 1)
	sinkB.wait(t, 1)

	if cache.Len() != 2 {
		t.Errorf("Expected both observers to share the cache, Len=%d", cache.Len())
	}
}
