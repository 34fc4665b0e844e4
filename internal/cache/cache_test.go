package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Br10Consultoria/webhuawei/internal/config"
)

// newLocalOnly builds a cache with no remote tier and an injectable
// clock, so TTL behavior is deterministic.
func newLocalOnly(t *testing.T) (*Tiered, *time.Time) {
	t.Helper()
	now := time.Now()
	c := &Tiered{
		local: make(map[string]envelope),
		cfg:   config.Cache{},
		log:   zerolog.Nop(),
		now:   func() time.Time { return now },
	}
	return c, &now
}

func TestCacheHitBeforeTTL(t *testing.T) {
	c, now := newLocalOnly(t)
	ctx := context.Background()

	c.Set(ctx, "pppoe_stats", map[string]int{"total": 1500}, 20*time.Second)

	*now = now.Add(19 * time.Second)
	var got map[string]int
	require.True(t, c.Get(ctx, "pppoe_stats", &got))
	assert.Equal(t, 1500, got["total"])
}

func TestCacheMissAfterTTL(t *testing.T) {
	c, now := newLocalOnly(t)
	ctx := context.Background()

	c.Set(ctx, "pppoe_stats", map[string]int{"total": 1500}, 20*time.Second)

	*now = now.Add(21 * time.Second)
	var got map[string]int
	assert.False(t, c.Get(ctx, "pppoe_stats", &got))
	assert.Equal(t, 0, c.Stats().LocalSize, "expired entry is removed lazily on read")
}

func TestCacheMissUnknownKey(t *testing.T) {
	c, _ := newLocalOnly(t)
	var got string
	assert.False(t, c.Get(context.Background(), "nope", &got))
}

func TestCacheStats(t *testing.T) {
	c, _ := newLocalOnly(t)
	ctx := context.Background()

	c.Set(ctx, "a", "x", time.Minute)
	var got string
	c.Get(ctx, "a", &got)
	c.Get(ctx, "a", &got)
	c.Get(ctx, "missing", &got)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(2), stats.LocalHits)
	assert.Equal(t, uint64(0), stats.RemoteHits)
	assert.False(t, stats.RemoteUp)
	assert.InDelta(t, 66.6, stats.HitRatePercent, 0.1)
}

func TestCacheEvictsToWatermark(t *testing.T) {
	c, now := newLocalOnly(t)
	ctx := context.Background()

	// Staggered creation times so the oldest entries are well defined.
	for i := 0; i < localCap+1; i++ {
		*now = now.Add(time.Millisecond)
		c.Set(ctx, fmt.Sprintf("key-%03d", i), i, time.Hour)
	}

	assert.Equal(t, localWatermark, c.Stats().LocalSize)

	// The newest entry survived, the oldest did not.
	var got int
	assert.True(t, c.Get(ctx, fmt.Sprintf("key-%03d", localCap), &got))
	assert.False(t, c.Get(ctx, "key-000", &got))
}

func TestCacheClearPattern(t *testing.T) {
	c, _ := newLocalOnly(t)
	ctx := context.Background()

	c.Set(ctx, "traffic_data", 1, time.Minute)
	c.Set(ctx, "traffic_history", 2, time.Minute)
	c.Set(ctx, "interfaces", 3, time.Minute)

	removed := c.Clear(ctx, "traffic*")
	assert.Equal(t, 2, removed)

	var got int
	assert.False(t, c.Get(ctx, "traffic_data", &got))
	assert.True(t, c.Get(ctx, "interfaces", &got))
}

func TestCacheClearAll(t *testing.T) {
	c, _ := newLocalOnly(t)
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Minute)
	c.Set(ctx, "b", 2, time.Minute)

	assert.Equal(t, 2, c.Clear(ctx, "*"))
	assert.Equal(t, 0, c.Stats().LocalSize)
}

func TestCacheWriteThroughOverwrites(t *testing.T) {
	c, _ := newLocalOnly(t)
	ctx := context.Background()

	c.Set(ctx, "k", "old", time.Minute)
	c.Set(ctx, "k", "new", time.Minute)

	var got string
	require.True(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Stats().LocalSize)
}

func TestCacheUnserializableValue(t *testing.T) {
	c, _ := newLocalOnly(t)
	ctx := context.Background()

	c.Set(ctx, "bad", make(chan int), time.Minute)
	assert.Equal(t, 0, c.Stats().LocalSize)
}

func TestGlobMatch(t *testing.T) {
	assert.True(t, globMatch(keyPrefix+"*", keyPrefix+"anything"))
	assert.True(t, globMatch(keyPrefix+"traffic*", keyPrefix+"traffic_data"))
	assert.False(t, globMatch(keyPrefix+"traffic*", keyPrefix+"interfaces"))
	assert.True(t, globMatch(keyPrefix+"exact", keyPrefix+"exact"))
	assert.False(t, globMatch(keyPrefix+"exact", keyPrefix+"exact2"))
}
