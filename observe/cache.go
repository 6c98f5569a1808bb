// Package observe implements the receiving side of the broadcast protocol:
// an observation cache of the latest message per sender and channel, and an
// observer that feeds it from a scanning radio.
package observe

import (
	"iter"
	"sync"
	"time"

	"github.com/user/pybble/message"
)

const (
	// DefaultCapacity bounds the cache when no capacity is configured
	DefaultCapacity = 64
	// DefaultTTL ages out senders that have gone silent
	DefaultTTL = 60 * time.Second
)

// Observation is the cached record of the most recent broadcast from one
// sender identity on one channel
type Observation struct {
	Identity string
	Channel  uint8
	Values   []message.Value
	RSSI     int
	LastSeen time.Time
}

type cacheKey struct {
	identity string
	channel  uint8
}

// Cache maps (identity, channel) to the latest Observation, bounded by an
// entry capacity and a per-entry TTL measured from last update. An entry
// past its TTL behaves as absent for all reads even before Sweep removes
// it. Safe for concurrent use; callers always receive copies.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	entries  map[cacheKey]*Observation
}

// NewCache creates a cache with the given entry capacity and TTL.
// Non-positive arguments fall back to the defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[cacheKey]*Observation),
	}
}

func (c *Cache) expired(obs *Observation, now time.Time) bool {
	return !obs.LastSeen.Add(c.ttl).After(now)
}

// Upsert inserts or refreshes the entry for (identity, channel) and resets
// its TTL clock. When inserting into a full cache the least-recently-updated
// entry is evicted, even if it has not expired yet. Never fails.
func (c *Cache) Upsert(identity string, channel uint8, values []message.Value, rssi int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{identity, channel}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	c.entries[key] = &Observation{
		Identity: identity,
		Channel:  channel,
		Values:   cloneValues(values),
		RSSI:     rssi,
		LastSeen: now,
	}
}

// evictOldest removes the least-recently-updated entry. Caller holds the
// lock. Capacities are small, a linear scan is fine.
func (c *Cache) evictOldest() {
	var oldestKey cacheKey
	var oldest time.Time
	first := true
	for key, obs := range c.entries {
		if first || obs.LastSeen.Before(oldest) {
			oldestKey = key
			oldest = obs.LastSeen
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Get returns the current observation for (identity, channel) if present
// and not expired. No side effects.
func (c *Cache) Get(identity string, channel uint8, now time.Time) (Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obs, ok := c.entries[cacheKey{identity, channel}]
	if !ok || c.expired(obs, now) {
		return Observation{}, false
	}
	return copyObservation(obs), true
}

// Latest returns the freshest non-expired observation on a channel from
// any identity. Used by the virtual hub's channel-oriented observe call.
func (c *Cache) Latest(channel uint8, now time.Time) (Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Observation
	for key, obs := range c.entries {
		if key.channel != channel || c.expired(obs, now) {
			continue
		}
		if best == nil || obs.LastSeen.After(best.LastSeen) {
			best = obs
		}
	}
	if best == nil {
		return Observation{}, false
	}
	return copyObservation(best), true
}

// Sweep physically removes all expired entries. Idempotent.
func (c *Cache) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, obs := range c.entries {
		if c.expired(obs, now) {
			delete(c.entries, key)
		}
	}
}

// Snapshot returns a point-in-time sequence of all non-expired
// observations. The sequence is restartable and does not reflect
// mutations made after the call.
func (c *Cache) Snapshot(now time.Time) iter.Seq[Observation] {
	c.mu.RLock()
	observations := make([]Observation, 0, len(c.entries))
	for _, obs := range c.entries {
		if !c.expired(obs, now) {
			observations = append(observations, copyObservation(obs))
		}
	}
	c.mu.RUnlock()

	return func(yield func(Observation) bool) {
		for _, obs := range observations {
			if !yield(obs) {
				return
			}
		}
	}
}

// Len returns the physical entry count, including not-yet-swept expired
// entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func copyObservation(obs *Observation) Observation {
	out := *obs
	out.Values = cloneValues(obs.Values)
	return out
}

// cloneValues copies a value slice deeply enough that callers cannot
// mutate cached state through it
func cloneValues(values []message.Value) []message.Value {
	if values == nil {
		return nil
	}
	out := make([]message.Value, len(values))
	copy(out, values)
	for i := range out {
		if out[i].Bytes != nil {
			b := make([]byte, len(out[i].Bytes))
			copy(b, out[i].Bytes)
			out[i].Bytes = b
		}
	}
	return out
}
