// Package broadcast implements the sending side of the protocol: bounded
// advertising sessions that carry one encoded message at a time.
package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/pybble/logger"
	"github.com/user/pybble/message"
	"github.com/user/pybble/radio"
)

// ErrSessionActive is returned by Start while a previous session of this
// broadcaster is still advertising. Sessions are serialized, not queued.
var ErrSessionActive = errors.New("broadcast session already active")

// DefaultName is the device name used in advertisements when none is
// configured
const DefaultName = "pb_vhub"

// Broadcaster turns messages into advertising sessions on a radio.
// At most one session is active per broadcaster at a time.
type Broadcaster struct {
	advertiser radio.Advertiser
	name       string

	mu      sync.Mutex
	current *Session
}

// NewBroadcaster creates a broadcaster advertising under the given device
// name
func NewBroadcaster(advertiser radio.Advertiser, name string) *Broadcaster {
	if name == "" {
		name = DefaultName
	}
	return &Broadcaster{
		advertiser: advertiser,
		name:       name,
	}
}

// Name returns the device name used in advertisements
func (b *Broadcaster) Name() string {
	return b.name
}

// Session is one bounded-lifetime advertisement. It ends when its timeout
// elapses or Stop is called, whichever comes first; the radio handle is
// released on every exit path exactly once.
type Session struct {
	ID      string
	Channel uint8

	broadcaster *Broadcaster
	handle      radio.Handle

	stopOnce sync.Once
	done     chan struct{}
	timer    *time.Timer
}

// Start encodes the message and begins advertising it. Fails with a codec
// error if the message cannot be encoded, with radio.ErrUnavailable if the
// advertising capability cannot be acquired, and with ErrSessionActive if
// a session is already running. A timeout of zero means no time bound.
func (b *Broadcaster) Start(channel uint8, values []message.Value, timeout time.Duration) (*Session, error) {
	payload, err := message.Encode(channel, values)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil {
		return nil, fmt.Errorf("%w: channel %d", ErrSessionActive, b.current.Channel)
	}

	handle, err := b.advertiser.BeginAdvertising(b.name, payload)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:          uuid.New().String(),
		Channel:     channel,
		broadcaster: b,
		handle:      handle,
		done:        make(chan struct{}),
	}
	if timeout > 0 {
		session.timer = time.AfterFunc(timeout, func() {
			session.stop()
		})
	}
	b.current = session

	logger.Info("broadcast", "Session %s on channel %d (%d values, timeout %v)", session.ID, channel, len(values), timeout)
	return session, nil
}

// Active reports whether a session is currently advertising
func (b *Broadcaster) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// Stop ends the current session if there is one
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	session := b.current
	b.mu.Unlock()
	if session != nil {
		session.Stop()
	}
}

// Update re-encodes the message and refreshes the live advertisement in
// place, keeping the session and its timeout running
func (s *Session) Update(values []message.Value) error {
	select {
	case <-s.done:
		return fmt.Errorf("session %s already stopped", s.ID)
	default:
	}

	payload, err := message.Encode(s.Channel, values)
	if err != nil {
		return err
	}
	if err := s.handle.Refresh(payload); err != nil {
		return fmt.Errorf("failed to refresh advertisement: %w", err)
	}
	logger.Debug("broadcast", "Session %s updated (%d values)", s.ID, len(values))
	return nil
}

// Stop ends the session and releases the radio. Idempotent: stopping an
// already-stopped session is a no-op.
func (s *Session) Stop() {
	s.stop()
}

func (s *Session) stop() {
	s.stopOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		if err := s.handle.End(); err != nil {
			logger.Warn("broadcast", "Session %s: failed to end advertisement: %v", s.ID, err)
		}

		b := s.broadcaster
		b.mu.Lock()
		if b.current == s {
			b.current = nil
		}
		b.mu.Unlock()

		close(s.done)
		logger.Info("broadcast", "Session %s ended", s.ID)
	})
}

// Done is closed when the session has ended, by timeout or by Stop
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends
func (s *Session) Wait() {
	<-s.done
}
