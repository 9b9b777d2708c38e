// Package reaper evicts abandoned login sessions and purges expired cookies.
package reaper

import (
	"context"
	"sync"
	"time"

	"wbauth/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval = time.Minute
	DefaultTTL      = 10 * time.Minute
)

// Sweeper is the part of the session registry the reaper drives.
type Sweeper interface {
	Sweep(now time.Time, ttl time.Duration) int
}

// Purger deletes expired cookies.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config of the reaper. A zero PurgeInterval disables cookie purging.
type Config struct {
	Interval      time.Duration
	TTL           time.Duration
	PurgeInterval time.Duration
}

type Reaper struct {
	sweeper Sweeper
	purger  Purger
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New builds a reaper. purger may be nil.
func New(sweeper Sweeper, purger Purger, cfg Config, logger *zerolog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Reaper{
		sweeper: sweeper,
		purger:  purger,
		cfg:     cfg,
		logger:  logger.With().Str("component", "reaper").Logger(),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background loops. Calling it twice is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.logger.Info().
			Dur("interval", r.cfg.Interval).
			Dur("ttl", r.cfg.TTL).
			Dur("purge_interval", r.cfg.PurgeInterval).
			Msg("reaper started")

		r.loop(ctx, r.cfg.Interval, func(context.Context) { r.RunOnce() })
		if r.purger != nil && r.cfg.PurgeInterval > 0 {
			r.loop(ctx, r.cfg.PurgeInterval, func(ctx context.Context) { _, _ = r.Purge(ctx) })
		}
	})
}

func (r *Reaper) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Stop signals the loops and waits for them. Safe to call repeatedly.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// RunOnce sweeps the registry immediately and returns the evicted count.
func (r *Reaper) RunOnce() int {
	n := r.sweeper.Sweep(r.now(), r.cfg.TTL)
	metrics.AddSessionsEvicted(n)
	if n > 0 {
		r.logger.Info().Int("evicted", n).Msg("expired login sessions evicted")
	}
	return n
}

// Purge deletes expired cookies now.
func (r *Reaper) Purge(ctx context.Context) (int64, error) {
	if r.purger == nil {
		return 0, nil
	}
	n, err := r.purger.PurgeExpired(ctx, r.now())
	if err != nil {
		r.logger.Error().Err(err).Msg("purge expired cookies")
		return 0, err
	}
	metrics.AddCookiesPurged(n)
	if n > 0 {
		r.logger.Info().Int64("purged", n).Msg("expired cookies purged")
	}
	return n, nil
}
