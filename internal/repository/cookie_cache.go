// Package repository layers a Redis read-through cache over the cookie store.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wbauth/internal/metrics"
	"wbauth/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix       = "cookies:"
	genPrefix       = "cookies-gen:"
	defaultTTL      = 5 * time.Minute
	defaultCooldown = time.Minute
)

var _ models.CookieStore = (*CachedCookieStore)(nil)

// errInvalidated aborts a cache fill that lost the race against a write.
var errInvalidated = errors.New("cache entry invalidated during load")

// CachedCookieStore serves GetAll from Redis and writes through to the
// backing store. When Redis fails the cache is bypassed for a cool-off period.
type CachedCookieStore struct {
	store    models.CookieStore
	redis    *redis.Client
	ttl      time.Duration
	cooldown time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	// stale holds accounts written while Redis was down.
	stale map[string]struct{}
}

func NewCachedCookieStore(store models.CookieStore, client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *CachedCookieStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CachedCookieStore{
		store:    store,
		redis:    client,
		ttl:      ttl,
		cooldown: defaultCooldown,
		logger:   logger.With().Str("component", "cookie_cache").Logger(),
		now:      time.Now,
		stale:    make(map[string]struct{}),
	}
}

func cacheKey(account string) string {
	return keyPrefix + account
}

// genKey counts invalidations of an account. A fill only lands when the
// counter is unchanged since the load started.
func genKey(account string) string {
	return genPrefix + account
}

// Ping checks Redis for readiness probes.
func (s *CachedCookieStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *CachedCookieStore) GetAll(ctx context.Context, account string) ([]models.Cookie, error) {
	var (
		gen  string
		fill bool
	)
	if s.available(ctx) {
		data, err := s.redis.Get(ctx, cacheKey(account)).Bytes()
		switch {
		case err == nil:
			var cached []models.Cookie
			if jerr := json.Unmarshal(data, &cached); jerr == nil {
				metrics.IncCacheRequest("hit")
				return models.LiveCookies(cached, s.now()), nil
			}
			s.logger.Warn().Str("phone", models.MaskPhone(account)).Msg("dropping corrupt cache entry")
			metrics.IncCacheRequest("miss")
		case errors.Is(err, redis.Nil):
			metrics.IncCacheRequest("miss")
		default:
			metrics.IncCacheRequest("error")
			s.markDown(err)
		}
		if !s.isDown.Load() {
			gen, fill = s.generation(ctx, account)
		}
	}

	cookies, err := s.store.GetAll(ctx, account)
	if err != nil {
		return nil, err
	}
	if fill {
		s.fill(ctx, account, gen, cookies)
	}
	return cookies, nil
}

func (s *CachedCookieStore) ReplaceAll(ctx context.Context, account string, cookies []models.Cookie) error {
	if err := s.store.ReplaceAll(ctx, account, cookies); err != nil {
		return err
	}
	s.invalidate(ctx, account)
	return nil
}

func (s *CachedCookieStore) DeleteAccount(ctx context.Context, account string) (bool, error) {
	deleted, err := s.store.DeleteAccount(ctx, account)
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, account)
	return deleted, nil
}

// PurgeExpired purges the backing store and drops every cached cookie set
// when anything was removed.
func (s *CachedCookieStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, now)
	if err != nil || n == 0 || !s.available(ctx) {
		return n, err
	}
	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.markDown(err)
		return n, nil
	}
	if len(keys) > 0 {
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			s.markDown(err)
		}
	}
	return n, nil
}

// generation reads the invalidation counter before a load. ok is false when
// the cache should not be filled.
func (s *CachedCookieStore) generation(ctx context.Context, account string) (gen string, ok bool) {
	gen, err := s.redis.Get(ctx, genKey(account)).Result()
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return gen, true
	default:
		s.markDown(err)
		return "", false
	}
}

// fill caches cookies unless the account was invalidated after gen was read.
func (s *CachedCookieStore) fill(ctx context.Context, account, gen string, cookies []models.Cookie) {
	if !s.available(ctx) {
		return
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return
	}
	key := genKey(account)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errInvalidated
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(account), data, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
	case errors.Is(err, errInvalidated), errors.Is(err, redis.TxFailedErr):
		s.logger.Debug().Str("phone", models.MaskPhone(account)).Msg("skipping cache fill after concurrent write")
	default:
		s.markDown(err)
	}
}

// invalidate drops the cached set and bumps the generation in one transaction.
func (s *CachedCookieStore) invalidate(ctx context.Context, account string) {
	if s.available(ctx) {
		err := s.drop(ctx, account)
		if err == nil {
			return
		}
		s.markDown(err)
	}
	s.mu.Lock()
	s.stale[account] = struct{}{}
	s.mu.Unlock()
}

func (s *CachedCookieStore) drop(ctx context.Context, accounts ...string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, account := range accounts {
			pipe.Incr(ctx, genKey(account))
			pipe.Del(ctx, cacheKey(account))
		}
		return nil
	})
	return err
}

// available reports whether the cache may be used. While down it lets one
// probe through per cool-off period and flushes entries written meanwhile.
func (s *CachedCookieStore) available(ctx context.Context) bool {
	if !s.isDown.Load() {
		return true
	}

	s.mu.Lock()
	if s.now().Sub(s.lastCheck) < s.cooldown {
		s.mu.Unlock()
		return false
	}
	s.lastCheck = s.now()
	accounts := make([]string, 0, len(s.stale))
	for account := range s.stale {
		accounts = append(accounts, account)
	}
	s.mu.Unlock()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		return false
	}
	if len(accounts) > 0 {
		if err := s.drop(ctx, accounts...); err != nil {
			return false
		}
	}

	s.mu.Lock()
	for _, account := range accounts {
		delete(s.stale, account)
	}
	s.mu.Unlock()

	if s.isDown.CompareAndSwap(true, false) {
		s.logger.Info().Int("flushed", len(accounts)).Msg("redis cache recovered")
	}
	return true
}

func (s *CachedCookieStore) markDown(err error) {
	s.mu.Lock()
	s.lastCheck = s.now()
	s.mu.Unlock()
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(fmt.Errorf("redis: %w", err)).Msg("cookie cache unavailable, using database")
	}
}
