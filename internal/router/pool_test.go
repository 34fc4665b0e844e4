package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Br10Consultoria/webhuawei/internal/config"
)

// fakeSession is a scriptable Session for pool and executor tests.
type fakeSession struct {
	mu      sync.Mutex
	outputs map[string]string
	failOn  string
	alive   bool
	closed  bool
	inUse   bool
	sends   []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{outputs: map[string]string{}, alive: true}
}

func (f *fakeSession) Send(command string, _ time.Duration) (string, error) {
	f.mu.Lock()
	if f.inUse {
		f.mu.Unlock()
		panic("session used concurrently")
	}
	f.inUse = true
	f.sends = append(f.sends, command)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inUse = false
		f.mu.Unlock()
	}()

	if f.failOn != "" && command == f.failOn {
		return "", errors.New("link reset")
	}
	return f.outputs[command], nil
}

func (f *fakeSession) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive && !f.closed
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testPoolConfig() config.Pool {
	return config.Pool{
		MaxConnections: 2,
		IdleTimeout:    5 * time.Minute,
		MaxAge:         30 * time.Minute,
		SweepInterval:  time.Hour,
	}
}

func TestPoolReusesHealthySession(t *testing.T) {
	var dials int
	sess := newFakeSession()
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		dials++
		return sess, nil
	}, zerolog.Nop())
	defer pool.Shutdown()

	for i := 0; i < 3; i++ {
		err := pool.WithSession(context.Background(), func(s Session) error {
			_, err := s.Send("display clock", time.Second)
			return err
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, dials)
	stats := pool.Stats()
	assert.Equal(t, uint64(2), stats.Reuses)
	assert.Equal(t, 1, stats.Idle)
}

func TestPoolRetiresSessionOnError(t *testing.T) {
	var sessions []*fakeSession
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		s := newFakeSession()
		s.failOn = "display broken"
		sessions = append(sessions, s)
		return s, nil
	}, zerolog.Nop())
	defer pool.Shutdown()

	err := pool.WithSession(context.Background(), func(s Session) error {
		_, err := s.Send("display broken", time.Second)
		return err
	})
	require.Error(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].closed)
	assert.Equal(t, 0, pool.Stats().Idle)
}

func TestPoolExpiresIdleSessions(t *testing.T) {
	sess := newFakeSession()
	var dials int
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		dials++
		if dials == 1 {
			return sess, nil
		}
		return newFakeSession(), nil
	}, zerolog.Nop())
	defer pool.Shutdown()

	now := time.Now()
	pool.now = func() time.Time { return now }

	require.NoError(t, pool.WithSession(context.Background(), func(Session) error { return nil }))
	require.Equal(t, 1, pool.Stats().Idle)

	// Jump past the idle timeout; the pooled session must be retired
	// and a fresh one dialed.
	now = now.Add(6 * time.Minute)
	require.NoError(t, pool.WithSession(context.Background(), func(Session) error { return nil }))
	assert.Equal(t, 2, dials)
	assert.True(t, sess.closed)
}

func TestPoolExpiresByMaxAge(t *testing.T) {
	var dials int
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		dials++
		return newFakeSession(), nil
	}, zerolog.Nop())
	defer pool.Shutdown()

	now := time.Now()
	pool.now = func() time.Time { return now }

	// Keep the session busy enough that idle never triggers, then age
	// it past the max lifetime.
	for i := 0; i < 9; i++ {
		require.NoError(t, pool.WithSession(context.Background(), func(Session) error { return nil }))
		now = now.Add(4 * time.Minute)
	}
	assert.Equal(t, 2, dials)
}

func TestPoolSkipsDeadSessionOnAcquire(t *testing.T) {
	var dials int
	dead := newFakeSession()
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		dials++
		if dials == 1 {
			return dead, nil
		}
		return newFakeSession(), nil
	}, zerolog.Nop())
	defer pool.Shutdown()

	require.NoError(t, pool.WithSession(context.Background(), func(Session) error { return nil }))
	dead.mu.Lock()
	dead.alive = false
	dead.mu.Unlock()

	require.NoError(t, pool.WithSession(context.Background(), func(Session) error { return nil }))
	assert.Equal(t, 2, dials)
	assert.True(t, dead.closed)
}

func TestPoolSweepRetiresExpired(t *testing.T) {
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		return newFakeSession(), nil
	}, zerolog.Nop())
	defer pool.Shutdown()

	now := time.Now()
	pool.now = func() time.Time { return now }

	require.NoError(t, pool.WithSession(context.Background(), func(Session) error { return nil }))
	require.Equal(t, 1, pool.Stats().Idle)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, pool.sweep())
	assert.Equal(t, 0, pool.Stats().Idle)
}

func TestPoolDialFailure(t *testing.T) {
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		return nil, errors.New("connection refused")
	}, zerolog.Nop())
	defer pool.Shutdown()

	err := pool.WithSession(context.Background(), func(Session) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool dial")
}

func TestPoolConcurrentSessionsAreExclusive(t *testing.T) {
	pool := NewPool(testPoolConfig(), func(context.Context) (Session, error) {
		return newFakeSession(), nil
	}, zerolog.Nop())
	defer pool.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.WithSession(context.Background(), func(s Session) error {
				// fakeSession panics if two holders overlap.
				_, err := s.Send("display clock", time.Second)
				time.Sleep(time.Millisecond)
				return err
			})
		}()
	}
	wg.Wait()
}
