package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"wbauth/internal/automation/automationtest"
	"wbauth/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	logger := zerolog.Nop()
	return NewRegistry(&logger)
}

func newSession(account string, h *automationtest.Handle, created time.Time) *LoginSession {
	s := NewLoginSession(account, "attempt-"+account, h, created)
	s.Transition(StateCodeRequested)
	return s
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		allow bool
	}{
		{"request code", StateIdle, StateCodeRequested, true},
		{"verify", StateCodeRequested, StateVerified, true},
		{"fail", StateCodeRequested, StateFailed, true},
		{"expire", StateCodeRequested, StateExpired, true},
		{"idle to verified", StateIdle, StateVerified, false},
		{"verified is terminal", StateVerified, StateCodeRequested, false},
		{"expired is terminal", StateExpired, StateVerified, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allow, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPutConflict(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	first := newSession("998901234567", &automationtest.Handle{}, now)
	require.NoError(t, r.Put("998901234567", first))

	err := r.Put("998901234567", newSession("998901234567", &automationtest.Handle{}, now))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConflict))

	got, err := r.Get("998901234567")
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestRemoveThenPut(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	require.NoError(t, r.Put("a", newSession("a", &automationtest.Handle{}, now)))
	removed, ok := r.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.Account)

	_, ok = r.Remove("a")
	assert.False(t, ok, "remove is idempotent")

	_, err := r.Get("a")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, r.Put("a", newSession("a", &automationtest.Handle{}, now)))
	assert.Equal(t, 1, r.Len())
}

func TestSweepEvictsStrictlyOlderThanTTL(t *testing.T) {
	r := newTestRegistry()
	now := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	ttl := 10 * time.Minute

	oldH := &automationtest.Handle{}
	edgeH := &automationtest.Handle{}
	freshH := &automationtest.Handle{}
	require.NoError(t, r.Put("old", newSession("old", oldH, now.Add(-ttl-time.Second))))
	require.NoError(t, r.Put("edge", newSession("edge", edgeH, now.Add(-ttl))))
	require.NoError(t, r.Put("fresh", newSession("fresh", freshH, now.Add(-time.Minute))))

	var evicted []string
	r.OnEvict(func(s *LoginSession) {
		evicted = append(evicted, s.Account)
		assert.Equal(t, StateExpired, s.State())
	})

	assert.Equal(t, 1, r.Sweep(now, ttl))
	assert.Equal(t, []string{"old"}, evicted)
	assert.Equal(t, 1, oldH.Closes())
	assert.Equal(t, 0, edgeH.Closes())
	assert.Equal(t, 0, freshH.Closes())
	assert.True(t, r.Has("edge"))
	assert.True(t, r.Has("fresh"))

	assert.Equal(t, 0, r.Sweep(now, ttl))
	assert.Equal(t, 1, oldH.Closes(), "evicted handle released exactly once")
}

func TestSweepConcurrentWithRemove(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()
	ttl := time.Minute

	handles := make([]*automationtest.Handle, 50)
	for i := range handles {
		handles[i] = &automationtest.Handle{}
		account := string(rune('A' + i))
		require.NoError(t, r.Put(account, newSession(account, handles[i], now.Add(-2*ttl))))
	}

	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(account string) {
			defer wg.Done()
			if s, ok := r.Remove(account); ok {
				_ = s.Handle.Close()
			}
		}(string(rune('A' + i)))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Sweep(now, ttl)
	}()
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	for _, h := range handles {
		assert.Equal(t, 1, h.Closes())
	}
}

func TestCloseReleasesAll(t *testing.T) {
	r := newTestRegistry()
	h1, h2 := &automationtest.Handle{}, &automationtest.Handle{}
	require.NoError(t, r.Put("1", newSession("1", h1, time.Now())))
	require.NoError(t, r.Put("2", newSession("2", h2, time.Now())))

	r.Close()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, h1.Closes())
	assert.Equal(t, 1, h2.Closes())
}

func TestReserve(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	res, err := r.Reserve("998901234567")
	require.NoError(t, err)
	assert.True(t, r.Has("998901234567"))
	assert.Equal(t, 0, r.Len())

	_, err = r.Reserve("998901234567")
	assert.ErrorIs(t, err, models.ErrConflict)
	err = r.Put("998901234567", newSession("998901234567", &automationtest.Handle{}, now))
	assert.ErrorIs(t, err, models.ErrConflict)

	require.NoError(t, res.Commit(newSession("998901234567", &automationtest.Handle{}, now)))
	res.Release()
	assert.Equal(t, 1, r.Len())
	_, err = r.Reserve("998901234567")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestReleaseFreesAccount(t *testing.T) {
	r := newTestRegistry()

	res, err := r.Reserve("a")
	require.NoError(t, err)
	res.Release()
	assert.False(t, r.Has("a"))

	next, err := r.Reserve("a")
	require.NoError(t, err)
	// A stale release must not drop the newer reservation.
	res.Release()
	assert.True(t, r.Has("a"))

	assert.ErrorIs(t, res.Commit(newSession("a", &automationtest.Handle{}, time.Now())), models.ErrConflict)
	require.NoError(t, next.Commit(newSession("a", &automationtest.Handle{}, time.Now())))
}

func TestClosedRegistryRejectsWrites(t *testing.T) {
	r := newTestRegistry()
	res, err := r.Reserve("a")
	require.NoError(t, err)

	r.Close()

	assert.ErrorIs(t, res.Commit(newSession("a", &automationtest.Handle{}, time.Now())), ErrClosed)
	assert.ErrorIs(t, r.Put("b", newSession("b", &automationtest.Handle{}, time.Now())), ErrClosed)
	_, err = r.Reserve("c")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, r.Len())
}
