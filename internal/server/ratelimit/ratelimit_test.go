package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced explicitly by tests
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	cfg.CleanupInterval = 0
	l := NewLimiter(cfg)
	clock := newFakeClock()
	l.now = clock.Now
	t.Cleanup(l.Stop)
	return l, clock
}

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucket(3, 1.0, clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, bucket.allow(), "request %d", i+1)
	}
	assert.False(t, bucket.allow())

	clock.Advance(time.Second)
	assert.True(t, bucket.allow())
	assert.False(t, bucket.allow())

	remaining, reset := bucket.getStatus()
	assert.Zero(t, remaining)
	assert.WithinDuration(t, clock.Now().Add(3*time.Second), reset, time.Millisecond)
}

func TestLimiter_GenerationEndpoints(t *testing.T) {
	l, clock := newTestLimiter(t, NewConfig(2, 2))

	allowed, info := l.Allow("10.0.0.1", "/runs", "POST")
	assert.True(t, allowed)
	assert.Equal(t, 2, info.Limit)
	assert.Equal(t, 1, info.Remaining)

	// retry and render share the /runs/ bucket
	allowed, _ = l.Allow("10.0.0.1", "/runs/abc/retry", "POST")
	assert.True(t, allowed)
	allowed, _ = l.Allow("10.0.0.1", "/runs/def/render", "POST")
	assert.True(t, allowed)
	allowed, info = l.Allow("10.0.0.1", "/runs/xyz/retry", "POST")
	assert.False(t, allowed)
	assert.InDelta(t, time.Minute.Seconds(), info.RetryAfter.Seconds(), 0.001)

	// other clients and endpoints are unaffected
	allowed, _ = l.Allow("10.0.0.2", "/runs/abc/retry", "POST")
	assert.True(t, allowed)
	allowed, _ = l.Allow("10.0.0.1", "/variations", "POST")
	assert.True(t, allowed)

	clock.Advance(30 * time.Second)
	allowed, _ = l.Allow("10.0.0.1", "/runs/abc/retry", "POST")
	assert.True(t, allowed)
}

func TestLimiter_Probes(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(1, 1))
	for i := 0; i < 50; i++ {
		ok, info := l.Allow("10.0.0.1", "/health", "GET")
		require.True(t, ok)
		assert.Zero(t, info.Limit)
		ok, _ = l.Allow("10.0.0.1", "/readyz", "GET")
		require.True(t, ok)
	}
}

func TestLimiter_Lists(t *testing.T) {
	cfg := NewConfig(1, 1, "127.0.0.1")
	cfg.Blacklist["6.6.6.6"] = true
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("127.0.0.1", "/runs", "POST")
		assert.True(t, ok)
	}
	ok, _ := l.Allow("6.6.6.6", "/history", "GET")
	assert.False(t, ok)
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := NewConfig(0, 0)
	assert.False(t, cfg.Enabled)
	l, _ := newTestLimiter(t, cfg)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("10.0.0.1", "/runs", "POST")
		require.True(t, ok)
	}
}

func TestLimiter_DefaultLimitForReads(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 2, DefaultWindow: time.Minute})

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow("10.0.0.1", "/history", "GET")
		assert.True(t, ok)
	}
	ok, _ := l.Allow("10.0.0.1", "/history", "GET")
	assert.False(t, ok)
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(10, 10))

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("10.0.0.1", "/variations", "POST"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 10, allowed.Load())
}

func TestLimiter_Cleanup(t *testing.T) {
	l, clock := newTestLimiter(t, NewConfig(5, 5))
	for i := 0; i < 3; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i), "/runs", "POST")
	}
	require.Len(t, l.buckets, 3)

	clock.Advance(30 * time.Minute)
	l.Allow("10.0.0.0", "/runs", "POST")
	clock.Advance(45 * time.Minute)
	l.cleanupBuckets()

	assert.Len(t, l.buckets, 1)
	assert.Contains(t, l.buckets, "10.0.0.0:/runs:POST")
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs(5, 2)
	tests := []struct {
		path, method string
		wantPath     string
	}{
		{"/runs", "POST", "/runs"},
		{"/runs/abc/retry", "POST", "/runs/"},
		{"/history/delete", "POST", "/history/delete"},
		{"/history/abc/tags", "PUT", "/history/"},
		{"/history", "GET", ""},
		{"/health", "GET", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantPath == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantPath, got.Path)
		})
	}
}

func TestLimiter_StopTwice(t *testing.T) {
	l := NewLimiter(NewConfig(1, 1))
	l.Stop()
	assert.NotPanics(t, l.Stop)
}
