package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"wbauth/internal/automation"
	"wbauth/internal/models"

	"github.com/rs/zerolog"
)

// ErrClosed is returned once the registry has been shut down.
var ErrClosed = errors.New("session registry closed")

// Registry holds at most one login session per account. An account is either
// reserved (a browser is being opened for it) or holds a session.
//
// The mutex guards the maps only; handles are released after it is dropped.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*LoginSession
	pending  map[string]uint64
	nextID   uint64
	closed   bool
	logger   zerolog.Logger
	onEvict  func(*LoginSession)
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*LoginSession),
		pending:  make(map[string]uint64),
		logger:   logger.With().Str("component", "session_registry").Logger(),
	}
}

// Reservation claims an account before its session exists.
type Reservation struct {
	r       *Registry
	account string
	id      uint64
}

// Reserve claims account for a new login attempt. It fails with
// models.ErrConflict while another attempt holds or reserves the account.
func (r *Registry) Reserve(account string) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.busy(account) {
		return nil, conflict(account)
	}
	r.nextID++
	r.pending[account] = r.nextID
	return &Reservation{r: r, account: account, id: r.nextID}, nil
}

// Commit turns the reservation into a stored session.
func (res *Reservation) Commit(s *LoginSession) error {
	r := res.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.pending[res.account] != res.id {
		return fmt.Errorf("reservation for %s was released: %w", models.MaskPhone(res.account), models.ErrConflict)
	}
	delete(r.pending, res.account)
	r.sessions[res.account] = s
	return nil
}

// Release drops the reservation if it was not committed. Safe to call more
// than once.
func (res *Reservation) Release() {
	r := res.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[res.account] == res.id {
		delete(r.pending, res.account)
	}
}

func (r *Registry) busy(account string) bool {
	_, held := r.sessions[account]
	_, reserved := r.pending[account]
	return held || reserved
}

func conflict(account string) error {
	return fmt.Errorf("login for %s already in progress: %w", models.MaskPhone(account), models.ErrConflict)
}

// OnEvict registers a callback invoked for every session removed by Sweep,
// after its handle was released.
func (r *Registry) OnEvict(fn func(*LoginSession)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// Put stores s under account. It never overwrites an existing entry.
func (r *Registry) Put(account string, s *LoginSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.busy(account) {
		return conflict(account)
	}
	r.sessions[account] = s
	return nil
}

func (r *Registry) Get(account string) (*LoginSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if !ok {
		return nil, fmt.Errorf("login session for %s: %w", models.MaskPhone(account), models.ErrNotFound)
	}
	return s, nil
}

// Remove takes the session out of the registry. The caller owns the returned
// handle and must release it.
func (r *Registry) Remove(account string) (*LoginSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if ok {
		delete(r.sessions, account)
	}
	return s, ok
}

// Has reports whether a login is in progress or being started for account.
func (r *Registry) Has(account string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy(account)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions strictly older than ttl at now and releases their
// handles. It returns the number evicted.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	var evicted []*LoginSession
	for account, s := range r.sessions {
		if s.Expired(now, ttl) {
			delete(r.sessions, account)
			evicted = append(evicted, s)
		}
	}
	onEvict := r.onEvict
	r.mu.Unlock()

	for _, s := range evicted {
		s.Transition(StateExpired)
		automation.Release(s.Handle, &r.logger)
		r.logger.Info().
			Str("phone", models.MaskPhone(s.Account)).
			Str("attempt_id", s.AttemptID).
			Dur("age", now.Sub(s.CreatedAt)).
			Msg("login session expired")
		if onEvict != nil {
			onEvict(s)
		}
	}
	return len(evicted)
}

// Close releases every held session. Later Reserve, Commit and Put calls
// fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*LoginSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*LoginSession)
	r.mu.Unlock()

	for _, s := range all {
		s.Transition(StateFailed)
		automation.Release(s.Handle, &r.logger)
	}
	if len(all) > 0 {
		r.logger.Info().Int("released", len(all)).Msg("login sessions released on shutdown")
	}
}
