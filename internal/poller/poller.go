// Package poller runs the background collection loop that keeps the
// cache warm: one schedule per data category, each collected over the
// shared executor and written through the tiered cache.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Br10Consultoria/webhuawei/internal/cache"
	"github.com/Br10Consultoria/webhuawei/internal/config"
	"github.com/Br10Consultoria/webhuawei/internal/models"
	"github.com/Br10Consultoria/webhuawei/internal/router"
)

// UpdateFunc is invoked after each successful collection with the
// category name and the freshly parsed payload. Used for the
// WebSocket broadcast and traffic history persistence.
type UpdateFunc func(category string, payload any)

// categoryCommands maps each category to the batch that feeds its parser.
var categoryCommands = map[string][]string{
	models.CategoryInterfaces: {
		"display interface brief",
		"display interface",
	},
	models.CategoryPppoeStats: {
		"display access-user online-total",
		"display access-user statistics",
	},
	models.CategorySystem: {
		"display cpu-usage",
		"display memory-usage",
		"display device",
		"display version",
	},
	models.CategoryTraffic: {
		"display interface brief | include utili",
	},
}

// Status is a snapshot of the poller for the status endpoint.
type Status struct {
	Running     bool                 `json:"running"`
	StartedAt   time.Time            `json:"started_at"`
	Collections uint64               `json:"collections"`
	Errors      uint64               `json:"errors"`
	LastUpdate  map[string]time.Time `json:"last_update"`
	LastError   string               `json:"last_error,omitempty"`
}

type categoryState struct {
	interval time.Duration
	lastRun  time.Time
	inFlight bool
}

// Poller owns the collection schedule. Categories run concurrently
// with each other but each category is serialized against itself.
type Poller struct {
	exec     *router.Executor
	cache    *cache.Tiered
	cfg      *config.Config
	log      zerolog.Logger
	onUpdate UpdateFunc

	mu          sync.Mutex
	states      map[string]*categoryState
	running     bool
	startedAt   time.Time
	collections uint64
	errCount    uint64
	lastError   string

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds a stopped poller. onUpdate may be nil.
func New(exec *router.Executor, c *cache.Tiered, cfg *config.Config, log zerolog.Logger, onUpdate UpdateFunc) *Poller {
	p := &Poller{
		exec:     exec,
		cache:    c,
		cfg:      cfg,
		log:      log.With().Str("component", "poller").Logger(),
		onUpdate: onUpdate,
		states: map[string]*categoryState{
			models.CategoryInterfaces: {interval: cfg.Poller.IntervalInterfaces},
			models.CategoryPppoeStats: {interval: cfg.Poller.IntervalPppoe},
			models.CategorySystem:     {interval: cfg.Poller.IntervalSystem},
			models.CategoryTraffic:    {interval: cfg.Poller.IntervalTraffic},
		},
	}
	return p
}

// Start launches the collection loop. Calling Start on a running
// poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.startedAt = time.Now().UTC()
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop cancels the loop and waits for in-flight collections to settle.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.wg.Wait()

	p.warmUp(ctx)

	ticker := time.NewTicker(p.cfg.Poller.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.dispatchDue(ctx)
		}
	}
}

// warmUp probes the device once. When reachable every category is
// collected immediately; otherwise the cache is seeded with zero-value
// fallback records so the dashboard renders instead of erroring.
func (p *Poller) warmUp(ctx context.Context) {
	if _, err := p.exec.Execute(ctx, []string{"display version"}); err != nil {
		p.log.Warn().Err(err).Msg("router unreachable at startup, seeding fallback data")
		p.seedFallback(ctx, err)
		return
	}
	p.setRouterStatus(ctx, true, "")
	for category := range p.states {
		if ctx.Err() != nil {
			return
		}
		p.collect(ctx, category)
		p.mu.Lock()
		p.states[category].lastRun = time.Now()
		p.mu.Unlock()
	}
}

// seedFallback writes zero-value records under a short TTL so the
// next scheduled cycle replaces them as soon as the device answers.
func (p *Poller) seedFallback(ctx context.Context, cause error) {
	ttl := p.cfg.Poller.FallbackTTL
	now := time.Now().UTC()
	p.cache.Set(ctx, models.CategoryInterfaces, []models.InterfaceRecord{}, ttl)
	p.cache.Set(ctx, models.CategoryPppoeStats, models.PppoeStats{LastUpdate: now}, ttl)
	p.cache.Set(ctx, models.CategorySystem, models.SystemMetrics{LastUpdate: now}, ttl)
	p.cache.Set(ctx, models.CategoryTraffic, models.TrafficStats{LastUpdate: now}, ttl)
	p.setRouterStatus(ctx, false, cause.Error())

	p.mu.Lock()
	now = time.Now()
	for _, st := range p.states {
		st.lastRun = now
	}
	p.mu.Unlock()
}

// dispatchDue starts a goroutine per category whose interval elapsed,
// skipping categories that still have a collection in flight.
func (p *Poller) dispatchDue(ctx context.Context) {
	now := time.Now()
	p.mu.Lock()
	var due []string
	for category, st := range p.states {
		if st.inFlight || now.Sub(st.lastRun) < st.interval {
			continue
		}
		st.inFlight = true
		due = append(due, category)
	}
	p.mu.Unlock()

	for _, category := range due {
		p.wg.Add(1)
		go func(category string) {
			defer p.wg.Done()
			defer func() {
				p.mu.Lock()
				st := p.states[category]
				st.inFlight = false
				st.lastRun = time.Now()
				p.mu.Unlock()
			}()
			p.collect(ctx, category)
		}(category)
	}
}

// collect runs one category's command batch, parses it and writes the
// result through the cache under the category's TTL.
func (p *Poller) collect(ctx context.Context, category string) {
	results, err := p.exec.Execute(ctx, categoryCommands[category])
	if err != nil {
		p.mu.Lock()
		p.errCount++
		p.lastError = err.Error()
		p.mu.Unlock()
		p.log.Error().Err(err).Str("category", category).Msg("collection failed")
		p.setRouterStatus(ctx, false, err.Error())
		return
	}

	var payload any
	switch category {
	case models.CategoryInterfaces:
		records := router.ParseInterfaces(first(results))
		if len(results) > 1 {
			router.AddUtilization(records, results[1])
		}
		payload = records
	case models.CategoryPppoeStats:
		payload = router.ParsePppoeStats(results)
	case models.CategorySystem:
		payload = router.ParseSystemMetrics(results)
	case models.CategoryTraffic:
		payload = router.ParseTraffic(results)
	default:
		return
	}

	p.cache.Set(ctx, category, payload, p.cfg.CategoryTTL(category))
	p.setRouterStatus(ctx, true, "")

	p.mu.Lock()
	p.collections++
	p.mu.Unlock()

	p.log.Debug().Str("category", category).Msg("collection stored")
	if p.onUpdate != nil {
		p.onUpdate(category, payload)
	}
}

func (p *Poller) setRouterStatus(ctx context.Context, online bool, lastErr string) {
	status := models.RouterStatus{
		Online:    online,
		Protocol:  p.cfg.Router.Protocol,
		LastError: lastErr,
		CheckedAt: time.Now().UTC(),
	}
	p.cache.Set(ctx, "router_status", status, p.cfg.Poller.FallbackTTL)
}

// Status returns a copy of the poller's counters and schedule state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	last := make(map[string]time.Time, len(p.states))
	for category, st := range p.states {
		last[category] = st.lastRun
	}
	return Status{
		Running:     p.running,
		StartedAt:   p.startedAt,
		Collections: p.collections,
		Errors:      p.errCount,
		LastUpdate:  last,
		LastError:   p.lastError,
	}
}

func first(results []string) string {
	if len(results) == 0 {
		return ""
	}
	return results[0]
}
