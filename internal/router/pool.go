package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Br10Consultoria/webhuawei/internal/config"
)

// dialFunc opens a fresh authenticated session. Satisfied by
// (*Transport).Connect and by fakes in tests.
type dialFunc func(ctx context.Context) (Session, error)

// pooledSession wraps a live session with the bookkeeping the pool
// needs to decide reuse versus retirement.
type pooledSession struct {
	session   Session
	createdAt time.Time
	lastUsed  time.Time
	useCount  int
}

// expired reports whether the session sat idle too long or exceeded
// its maximum lifetime.
func (ps *pooledSession) expired(idle, maxAge time.Duration, now time.Time) bool {
	if now.Sub(ps.lastUsed) > idle {
		return true
	}
	return now.Sub(ps.createdAt) > maxAge
}

func (ps *pooledSession) markUsed(now time.Time) {
	ps.lastUsed = now
	ps.useCount++
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	Idle    int    `json:"idle"`
	Dials   uint64 `json:"dials"`
	Reuses  uint64 `json:"reuses"`
	Retired uint64 `json:"retired"`
}

// Pool keeps a bounded stack of idle sessions and hands them out one
// caller at a time. Sessions are retired on idle timeout, max age, a
// failed health probe, or any error during use.
type Pool struct {
	mu   sync.Mutex
	idle []*pooledSession

	dials   uint64
	reuses  uint64
	retired uint64

	cfg  config.Pool
	dial dialFunc
	log  zerolog.Logger
	now  func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewPool starts the background sweeper and returns the pool.
func NewPool(cfg config.Pool, dial dialFunc, log zerolog.Logger) *Pool {
	p := &Pool{
		cfg:  cfg,
		dial: dial,
		log:  log.With().Str("component", "pool").Logger(),
		now:  time.Now,
		done: make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// WithSession runs fn with an exclusively held session. A healthy
// session is returned to the pool afterwards; any error from fn
// retires it. The session must not escape fn.
func (p *Pool) WithSession(ctx context.Context, fn func(Session) error) error {
	ps, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	if err := fn(ps.session); err != nil {
		p.retire(ps)
		return err
	}
	p.release(ps)
	return nil
}

// acquire pops idle sessions until one passes the health probe, or
// dials a new one. No network I/O happens while the lock is held.
func (p *Pool) acquire(ctx context.Context) (*pooledSession, error) {
	for {
		ps := p.popIdle()
		if ps == nil {
			break
		}
		if ps.session.Alive() {
			ps.markUsed(p.now())
			p.mu.Lock()
			p.reuses++
			p.mu.Unlock()
			return ps, nil
		}
		p.retire(ps)
	}

	sess, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool dial: %w", err)
	}
	now := p.now()
	ps := &pooledSession{session: sess, createdAt: now, lastUsed: now}
	ps.markUsed(now)
	p.mu.Lock()
	p.dials++
	p.mu.Unlock()
	return ps, nil
}

// popIdle removes the freshest non-expired idle session, retiring any
// expired ones it skips over.
func (p *Pool) popIdle() *pooledSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for len(p.idle) > 0 {
		ps := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if ps.expired(p.cfg.IdleTimeout, p.cfg.MaxAge, now) {
			p.retired++
			go ps.session.Close()
			continue
		}
		return ps
	}
	return nil
}

// release returns a session to the idle stack, or closes it when the
// pool is full or the session aged out while in use.
func (p *Pool) release(ps *pooledSession) {
	p.mu.Lock()
	now := p.now()
	if len(p.idle) < p.cfg.MaxConnections && !ps.expired(p.cfg.IdleTimeout, p.cfg.MaxAge, now) {
		ps.lastUsed = now
		p.idle = append(p.idle, ps)
		p.mu.Unlock()
		return
	}
	p.retired++
	p.mu.Unlock()
	ps.session.Close()
}

func (p *Pool) retire(ps *pooledSession) {
	p.mu.Lock()
	p.retired++
	p.mu.Unlock()
	ps.session.Close()
}

func (p *Pool) sweepLoop() {
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := p.sweep(); n > 0 {
				p.log.Debug().Int("retired", n).Msg("swept expired sessions")
			}
		case <-p.done:
			return
		}
	}
}

// sweep retires every expired idle session and returns how many went.
func (p *Pool) sweep() int {
	p.mu.Lock()
	now := p.now()
	var kept []*pooledSession
	var dead []*pooledSession
	for _, ps := range p.idle {
		if ps.expired(p.cfg.IdleTimeout, p.cfg.MaxAge, now) {
			dead = append(dead, ps)
		} else {
			kept = append(kept, ps)
		}
	}
	p.idle = kept
	p.retired += uint64(len(dead))
	p.mu.Unlock()

	for _, ps := range dead {
		ps.session.Close()
	}
	return len(dead)
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Idle:    len(p.idle),
		Dials:   p.dials,
		Reuses:  p.reuses,
		Retired: p.retired,
	}
}

// Shutdown stops the sweeper and closes every idle session.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() { close(p.done) })
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, ps := range idle {
		ps.session.Close()
	}
}
