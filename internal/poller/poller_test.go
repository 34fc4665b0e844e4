package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Br10Consultoria/webhuawei/internal/cache"
	"github.com/Br10Consultoria/webhuawei/internal/config"
	"github.com/Br10Consultoria/webhuawei/internal/models"
	"github.com/Br10Consultoria/webhuawei/internal/router"
)

// scriptedSession answers every command from a canned output map.
type scriptedSession struct {
	mu      sync.Mutex
	outputs map[string]string
}

func (s *scriptedSession) Send(command string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[command], nil
}

func (s *scriptedSession) Alive() bool { return true }
func (s *scriptedSession) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Pool: config.Pool{
			MaxConnections: 2,
			IdleTimeout:    5 * time.Minute,
			MaxAge:         30 * time.Minute,
			SweepInterval:  time.Hour,
		},
		Retry: config.Retry{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			Multiplier:  2.0,
		},
		Router: config.Router{
			Host:     "192.0.2.1",
			Protocol: "ssh",
			Timeouts: config.Timeouts{Command: time.Second},
		},
		Cache: config.Cache{
			TTLInterfaces: 45 * time.Second,
			TTLPppoeStats: 20 * time.Second,
			TTLSystem:     60 * time.Second,
			TTLTraffic:    30 * time.Second,
		},
		Poller: config.Poller{
			Tick:               5 * time.Second,
			IntervalInterfaces: 30 * time.Second,
			IntervalPppoe:      15 * time.Second,
			IntervalSystem:     45 * time.Second,
			IntervalTraffic:    20 * time.Second,
			FallbackTTL:        60 * time.Second,
		},
	}
}

func localCache(t *testing.T) *cache.Tiered {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// No reachable Redis in tests; the cache degrades to local-only.
	return cache.New(ctx, config.Cache{RedisAddr: "127.0.0.1:1"}, zerolog.Nop())
}

func newTestPoller(t *testing.T, dial func(context.Context) (router.Session, error), onUpdate UpdateFunc) (*Poller, *cache.Tiered) {
	t.Helper()
	cfg := testConfig()
	pool := router.NewPool(cfg.Pool, dial, zerolog.Nop())
	t.Cleanup(pool.Shutdown)
	exec := router.NewExecutor(pool, cfg.Retry, cfg.Router.Timeouts.Command, zerolog.Nop())
	c := localCache(t)
	t.Cleanup(func() { c.Close() })
	return New(exec, c, cfg, zerolog.Nop(), onUpdate), c
}

func TestWarmUpCollectsAllCategories(t *testing.T) {
	sess := &scriptedSession{outputs: map[string]string{
		"display version | no-more":                "VRP (R) software, Version 8.210\nHUAWEI NE8000 uptime is 5 days",
		"display interface brief | no-more":        "Interface PHY Protocol\nGE0/1/0 up up 10.0.0.1",
		"display interface | no-more":              "GE0/1/0 current state : UP\ninput utility rate: 12%\noutput utility rate: 3%",
		"display access-user online-total | no-more": "Total users : 900",
		"display access-user statistics | no-more": "Online peak time users : 1200",
		"display cpu-usage | no-more":              "CPU Usage : 15%",
		"display memory-usage | no-more":           "Memory Using Percentage Is: 48%",
		"display device | no-more":                 "NE8000 M8",
		"display interface brief | include utili":  "GE0/1/0 in: 12.0% out: 3.0%",
	}}

	var mu sync.Mutex
	updated := map[string]bool{}
	p, c := newTestPoller(t, func(context.Context) (router.Session, error) {
		return sess, nil
	}, func(category string, _ any) {
		mu.Lock()
		updated[category] = true
		mu.Unlock()
	})

	p.warmUp(context.Background())

	ctx := context.Background()
	var ifaces []models.InterfaceRecord
	require.True(t, c.Get(ctx, models.CategoryInterfaces, &ifaces))
	require.Len(t, ifaces, 1)
	assert.Equal(t, "GE0/1/0", ifaces[0].Name)

	var pppoe models.PppoeStats
	require.True(t, c.Get(ctx, models.CategoryPppoeStats, &pppoe))
	assert.Equal(t, 900, pppoe.Total)
	assert.Equal(t, 1200, pppoe.Peak)

	var system models.SystemMetrics
	require.True(t, c.Get(ctx, models.CategorySystem, &system))
	assert.Equal(t, 15.0, system.CPUPercent)
	assert.Equal(t, 48.0, system.MemoryPercent)

	var traffic models.TrafficStats
	require.True(t, c.Get(ctx, models.CategoryTraffic, &traffic))
	assert.Equal(t, 12.0, traffic.Inbound)

	var status models.RouterStatus
	require.True(t, c.Get(ctx, "router_status", &status))
	assert.True(t, status.Online)

	mu.Lock()
	defer mu.Unlock()
	for _, category := range models.Categories {
		assert.True(t, updated[category], "update hook fired for %s", category)
	}
}

func TestWarmUpSeedsFallbackWhenUnreachable(t *testing.T) {
	p, c := newTestPoller(t, func(context.Context) (router.Session, error) {
		return nil, errors.New("connection refused")
	}, nil)

	p.warmUp(context.Background())

	ctx := context.Background()
	var ifaces []models.InterfaceRecord
	require.True(t, c.Get(ctx, models.CategoryInterfaces, &ifaces), "fallback data must be cached")
	assert.Empty(t, ifaces)

	var status models.RouterStatus
	require.True(t, c.Get(ctx, "router_status", &status))
	assert.False(t, status.Online)
	assert.NotEmpty(t, status.LastError)

	st := p.Status()
	assert.Equal(t, uint64(0), st.Collections)
}

func TestCollectErrorIsCounted(t *testing.T) {
	p, c := newTestPoller(t, func(context.Context) (router.Session, error) {
		return nil, errors.New("connection refused")
	}, nil)

	p.collect(context.Background(), models.CategorySystem)

	st := p.Status()
	assert.Equal(t, uint64(1), st.Errors)
	assert.NotEmpty(t, st.LastError)

	var status models.RouterStatus
	require.True(t, c.Get(context.Background(), "router_status", &status))
	assert.False(t, status.Online)
}

func TestDispatchDueRespectsIntervals(t *testing.T) {
	sess := &scriptedSession{outputs: map[string]string{}}
	p, _ := newTestPoller(t, func(context.Context) (router.Session, error) {
		return sess, nil
	}, nil)

	// All categories just ran; nothing should be due.
	now := time.Now()
	p.mu.Lock()
	for _, st := range p.states {
		st.lastRun = now
	}
	p.mu.Unlock()

	p.dispatchDue(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), p.Status().Collections)

	// Age only the pppoe schedule past its interval.
	p.mu.Lock()
	p.states[models.CategoryPppoeStats].lastRun = now.Add(-16 * time.Second)
	p.mu.Unlock()

	p.dispatchDue(context.Background())
	require.Eventually(t, func() bool {
		return p.Status().Collections == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// gatedSession answers instantly until gateAfter sends have happened,
// then blocks every Send on the gate channel.
type gatedSession struct {
	mu        sync.Mutex
	calls     int
	gateAfter int
	gate      chan struct{}
	started   chan struct{}
}

func (g *gatedSession) Send(string, time.Duration) (string, error) {
	g.mu.Lock()
	g.calls++
	blocked := g.calls > g.gateAfter
	g.mu.Unlock()
	if blocked {
		select {
		case g.started <- struct{}{}:
		default:
		}
		<-g.gate
	}
	return "", nil
}

func (g *gatedSession) Alive() bool  { return true }
func (g *gatedSession) Close() error { return nil }

func TestStopWaitsForInFlightCollections(t *testing.T) {
	// Warm-up issues ten sends (probe + the four category batches);
	// everything after that hangs until the gate opens.
	sess := &gatedSession{
		gateAfter: 10,
		gate:      make(chan struct{}),
		started:   make(chan struct{}, 1),
	}

	cfg := testConfig()
	cfg.Poller.Tick = 5 * time.Millisecond
	cfg.Poller.IntervalInterfaces = time.Millisecond
	cfg.Poller.IntervalPppoe = time.Millisecond
	cfg.Poller.IntervalSystem = time.Millisecond
	cfg.Poller.IntervalTraffic = time.Millisecond

	pool := router.NewPool(cfg.Pool, func(context.Context) (router.Session, error) {
		return sess, nil
	}, zerolog.Nop())
	t.Cleanup(pool.Shutdown)
	exec := router.NewExecutor(pool, cfg.Retry, cfg.Router.Timeouts.Command, zerolog.Nop())
	c := localCache(t)
	t.Cleanup(func() { c.Close() })
	p := New(exec, c, cfg, zerolog.Nop(), nil)

	p.Start(context.Background())

	select {
	case <-sess.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no collection got scheduled")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a collection was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sess.gate)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned after the collection finished")
	}
}

func TestStartStop(t *testing.T) {
	sess := &scriptedSession{outputs: map[string]string{}}
	p, _ := newTestPoller(t, func(context.Context) (router.Session, error) {
		return sess, nil
	}, nil)

	p.Start(context.Background())
	assert.True(t, p.Status().Running)
	p.Start(context.Background()) // second Start is a no-op

	p.Stop()
	assert.False(t, p.Status().Running)
	p.Stop() // second Stop is a no-op
}
