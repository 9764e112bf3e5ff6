package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// SessionState tracks the session lifecycle. Closed is terminal.
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionActive
	SessionClosed
)

// Session is one live connection bound to a username within a room.
// The room actor owns registry membership; the transport owns the
// underlying connection and drains Outbound into it.
type Session struct {
	ID       string
	Username string
	JoinedAt time.Time

	outbound  chan []byte
	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession constructs a session in the Connecting state.
func NewSession(id, username string) *Session {
	return &Session{
		ID:       id,
		Username: username,
		JoinedAt: time.Now(),
		outbound: make(chan []byte, 32),
		done:     make(chan struct{}),
	}
}

// Outbound exposes frames queued for delivery on this session.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// activate moves Connecting to Active. A session that was already closed
// stays closed.
func (s *Session) activate() {
	s.state.CompareAndSwap(int32(SessionConnecting), int32(SessionActive))
}

// Close marks the session terminal. Safe to call more than once and from
// any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))
		close(s.done)
	})
}

// trySend queues a frame without blocking. False means the session is
// closed or its buffer is full; the caller treats either as a failed
// delivery.
func (s *Session) trySend(frame []byte) bool {
	if s.State() == SessionClosed {
		return false
	}
	select {
	case s.outbound <- frame:
		return true
	default:
		return false
	}
}
