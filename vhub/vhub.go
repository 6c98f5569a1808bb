// Package vhub composes a broadcaster and an observer into a virtual hub
// mirroring the connectionless messaging interface of a programmable hub:
// broadcast a value sequence on one channel, observe the latest data on
// others.
package vhub

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/pybble/broadcast"
	"github.com/user/pybble/message"
	"github.com/user/pybble/observe"
	"github.com/user/pybble/radio"
)

// NoSignal is the signal strength reported for channels with no current
// observation
const NoSignal = -128

// Config configures a virtual hub
type Config struct {
	Name             string          // Device name for broadcasts, default broadcast.DefaultName
	BroadcastChannel uint8           // Channel Broadcast sends on
	ObserveChannels  []uint8         // Channels Observe listens to; empty = all
	ScanMode         radio.ScanMode  // Default passive
	DevicePattern    string          // Optional sender-name filter for observations
	RSSIThreshold    *int            // Optional signal-strength filter
	CacheCapacity    int             // Observation cache bound, default observe.DefaultCapacity
	MessageTTL       time.Duration   // Observation age-out, default observe.DefaultTTL
}

// VirtualHub is a broadcaster and observer pair over one radio
type VirtualHub struct {
	broadcaster *broadcast.Broadcaster
	observer    *observe.Observer
	cache       *observe.Cache
	channel     uint8

	mu      sync.Mutex
	session *broadcast.Session
	closed  bool
}

// New creates a virtual hub and starts observing immediately
func New(advertiser radio.Advertiser, scanner radio.Scanner, cfg Config) (*VirtualHub, error) {
	mode := cfg.ScanMode
	if mode == "" {
		mode = radio.ScanModePassive
	}

	cache := observe.NewCache(cfg.CacheCapacity, cfg.MessageTTL)
	observer := observe.NewObserver(scanner, cache, mode)

	hub := &VirtualHub{
		broadcaster: broadcast.NewBroadcaster(advertiser, cfg.Name),
		observer:    observer,
		cache:       cache,
		channel:     cfg.BroadcastChannel,
	}

	filter := observe.Filter{
		NamePattern:   cfg.DevicePattern,
		RSSIThreshold: cfg.RSSIThreshold,
		Channels:      cfg.ObserveChannels,
	}
	if err := observer.Start(filter, nil); err != nil {
		return nil, fmt.Errorf("failed to start observing: %w", err)
	}

	return hub, nil
}

// Broadcast advertises the given values on the hub's broadcast channel,
// starting the data broadcast if needed or updating it in place. Calling
// with no values stops the broadcast.
func (h *VirtualHub) Broadcast(values ...message.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("virtual hub is closed")
	}

	if len(values) == 0 {
		if h.session != nil {
			h.session.Stop()
			h.session = nil
		}
		return nil
	}

	if h.session != nil {
		return h.session.Update(values)
	}

	session, err := h.broadcaster.Start(h.channel, values, 0)
	if err != nil {
		return err
	}
	h.session = session
	return nil
}

// Observe returns the latest data observed on a channel, or false when
// nothing current is held
func (h *VirtualHub) Observe(channel uint8) ([]message.Value, bool) {
	obs, ok := h.cache.Latest(channel, time.Now())
	if !ok {
		return nil, false
	}
	return obs.Values, true
}

// SignalStrength returns the RSSI of the latest observation on a channel,
// or NoSignal when nothing current is held
func (h *VirtualHub) SignalStrength(channel uint8) int {
	obs, ok := h.cache.Latest(channel, time.Now())
	if !ok {
		return NoSignal
	}
	return obs.RSSI
}

// Cache exposes the hub's observation cache
func (h *VirtualHub) Cache() *observe.Cache {
	return h.cache
}

// Close stops the data broadcast and the observation subscription.
// Idempotent.
func (h *VirtualHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	if h.session != nil {
		h.session.Stop()
		h.session = nil
	}
	return h.observer.Stop()
}
