// Package session tracks in-flight login attempts awaiting an SMS code.
package session

import (
	"sync"
	"time"

	"wbauth/internal/automation"
)

// State of a login attempt.
type State string

const (
	StateIdle          State = "idle"
	StateCodeRequested State = "code_requested"
	StateVerified      State = "verified"
	StateFailed        State = "failed"
	StateExpired       State = "expired"
)

var transitions = map[State][]State{
	StateIdle:          {StateCodeRequested, StateFailed},
	StateCodeRequested: {StateVerified, StateFailed, StateExpired},
}

// CanTransition reports whether from -> to is allowed. Terminal states have
// no outgoing transitions.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LoginSession is a login attempt owning a live automation handle.
type LoginSession struct {
	Account   string
	AttemptID string
	Handle    automation.Handle
	CreatedAt time.Time

	mu    sync.Mutex
	state State
}

func NewLoginSession(account, attemptID string, h automation.Handle, now time.Time) *LoginSession {
	return &LoginSession{
		Account:   account,
		AttemptID: attemptID,
		Handle:    h,
		CreatedAt: now,
		state:     StateIdle,
	}
}

// State returns the current state.
func (s *LoginSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to the given state if allowed.
func (s *LoginSession) Transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

// Verified reports whether the code was accepted.
func (s *LoginSession) Verified() bool {
	return s.State() == StateVerified
}

// Expired reports whether the session is older than ttl at now.
func (s *LoginSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}
