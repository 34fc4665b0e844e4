// Package cache provides the tiered result cache: a best-effort Redis
// remote tier shared across processes and a small in-process local
// tier that keeps the dashboard serving when Redis is down.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Br10Consultoria/webhuawei/internal/config"
)

const (
	keyPrefix = "webhuawei:"

	// Local tier bounds: evict down to the watermark once the cap is hit.
	localCap       = 100
	localWatermark = 50

	redisDialTimeout = 2 * time.Second
)

// envelope is the stored shape of every cache value. ExpiresAt is
// checked on read so both tiers agree on staleness even if the Redis
// key TTL drifts.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	RemoteHits     uint64  `json:"remote_hits"`
	LocalHits      uint64  `json:"local_hits"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	RemoteUp       bool    `json:"remote_up"`
	LocalSize      int     `json:"local_size"`
}

// Tiered is the two-tier cache. All methods are safe for concurrent use.
// A nil Redis client means the remote tier is degraded; reads and
// writes silently fall through to the local tier.
type Tiered struct {
	mu    sync.Mutex
	local map[string]envelope
	rdb   *redis.Client

	hits       uint64
	misses     uint64
	remoteHits uint64
	localHits  uint64

	cfg config.Cache
	log zerolog.Logger
	now func() time.Time
}

// New connects to Redis and returns the cache. Redis being unreachable
// is not an error; the cache starts degraded and Reconnect can restore
// the remote tier later.
func New(ctx context.Context, cfg config.Cache, log zerolog.Logger) *Tiered {
	c := &Tiered{
		local: make(map[string]envelope),
		cfg:   cfg,
		log:   log.With().Str("component", "cache").Logger(),
		now:   time.Now,
	}
	if err := c.Reconnect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("redis unavailable, running on local tier only")
	}
	return c
}

// Reconnect dials Redis and swaps in the new client on success.
func (c *Tiered) Reconnect(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:        c.cfg.RedisAddr,
		Password:    c.cfg.RedisPassword,
		DB:          c.cfg.RedisDB,
		DialTimeout: redisDialTimeout,
		ReadTimeout: redisDialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("redis ping %s: %w", c.cfg.RedisAddr, err)
	}

	c.mu.Lock()
	old := c.rdb
	c.rdb = rdb
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	c.log.Info().Str("addr", c.cfg.RedisAddr).Msg("redis connected")
	return nil
}

// Get looks up key in Redis first, then the local tier, honoring the
// envelope expiry. On a hit the value is unmarshaled into dest and
// true is returned.
func (c *Tiered) Get(ctx context.Context, key string, dest any) bool {
	full := keyPrefix + key

	if rdb := c.client(); rdb != nil {
		raw, err := rdb.Get(ctx, full).Bytes()
		if err == nil {
			var env envelope
			if json.Unmarshal(raw, &env) == nil && c.now().Before(env.ExpiresAt) {
				if json.Unmarshal(env.Data, dest) == nil {
					c.count(&c.hits, &c.remoteHits)
					return true
				}
			}
		} else if err != redis.Nil {
			c.log.Debug().Err(err).Str("key", key).Msg("redis read failed")
		}
	}

	c.mu.Lock()
	env, ok := c.local[full]
	if ok && !c.now().Before(env.ExpiresAt) {
		delete(c.local, full)
		ok = false
	}
	c.mu.Unlock()
	if ok && json.Unmarshal(env.Data, dest) == nil {
		c.count(&c.hits, &c.localHits)
		return true
	}

	c.count(&c.misses, nil)
	return false
}

// Set writes the value through both tiers with the given TTL. Remote
// failures are logged and ignored.
func (c *Tiered) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("cache value not serializable")
		return
	}
	now := c.now()
	env := envelope{Data: data, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	full := keyPrefix + key

	c.mu.Lock()
	c.local[full] = env
	c.evictLocked()
	c.mu.Unlock()

	if rdb := c.client(); rdb != nil {
		raw, _ := json.Marshal(env)
		if err := rdb.Set(ctx, full, raw, ttl).Err(); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("redis write failed")
		}
	}
}

// Clear removes keys matching the glob pattern ("*" clears everything)
// from both tiers and returns how many local entries were dropped.
func (c *Tiered) Clear(ctx context.Context, pattern string) int {
	if pattern == "" {
		pattern = "*"
	}
	full := keyPrefix + pattern

	c.mu.Lock()
	removed := 0
	for k := range c.local {
		if globMatch(full, k) {
			delete(c.local, k)
			removed++
		}
	}
	c.mu.Unlock()

	if rdb := c.client(); rdb != nil {
		iter := rdb.Scan(ctx, 0, full, 0).Iterator()
		for iter.Next(ctx) {
			rdb.Del(ctx, iter.Val())
		}
		if err := iter.Err(); err != nil {
			c.log.Debug().Err(err).Msg("redis clear failed")
		}
	}
	return removed
}

// Stats returns hit/miss counters and tier state.
func (c *Tiered) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		RemoteHits: c.remoteHits,
		LocalHits:  c.localHits,
		RemoteUp:   c.rdb != nil,
		LocalSize:  len(c.local),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatePercent = float64(s.Hits) / float64(total) * 100
	}
	return s
}

// Close releases the Redis client.
func (c *Tiered) Close() error {
	c.mu.Lock()
	rdb := c.rdb
	c.rdb = nil
	c.mu.Unlock()
	if rdb != nil {
		return rdb.Close()
	}
	return nil
}

func (c *Tiered) client() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb
}

func (c *Tiered) count(primary, tier *uint64) {
	c.mu.Lock()
	*primary++
	if tier != nil {
		*tier++
	}
	c.mu.Unlock()
}

// evictLocked drops expired entries, then the oldest entries down to
// the watermark when the cap is exceeded. Caller holds the lock.
func (c *Tiered) evictLocked() {
	now := c.now()
	for k, env := range c.local {
		if !now.Before(env.ExpiresAt) {
			delete(c.local, k)
		}
	}
	if len(c.local) <= localCap {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(c.local))
	for k, env := range c.local {
		entries = append(entries, aged{k, env.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries[:len(entries)-localWatermark] {
		delete(c.local, e.key)
	}
}

// globMatch supports the single trailing-star patterns the API accepts.
func globMatch(pattern, key string) bool {
	if pattern == keyPrefix+"*" {
		return true
	}
	if i := len(pattern) - 1; i >= 0 && pattern[i] == '*' {
		return len(key) >= i && key[:i] == pattern[:i]
	}
	return pattern == key
}
