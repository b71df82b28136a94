package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsagent/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestLimiter(max int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := NewLimiter("api", domain.RateLimitConfig{WindowSeconds: 60, Max: max}, Options{Clock: clock.Now})
	return limiter, clock
}

func TestLimiter_RejectsOverBudget(t *testing.T) {
	limiter, clock := newTestLimiter(5)

	for i := 0; i < 5; i++ {
		decision := limiter.Allow("user-1")
		require.True(t, decision.Permitted, "request %d", i+1)
		assert.Equal(t, 4-i, decision.Remaining)
		clock.Advance(time.Second)
	}

	decision := limiter.Allow("user-1")
	assert.False(t, decision.Permitted)
	assert.Positive(t, decision.RetryAfter)
	assert.LessOrEqual(t, decision.RetryAfter, 60*time.Second)
	assert.Equal(t, 55*time.Second, decision.RetryAfter)
}

func TestLimiter_NewWindowAfterReset(t *testing.T) {
	limiter, clock := newTestLimiter(5)

	for i := 0; i < 6; i++ {
		limiter.Allow("user-1")
	}
	clock.Advance(60 * time.Second)

	decision := limiter.Allow("user-1")
	assert.True(t, decision.Permitted)
	assert.Equal(t, 1, limiter.Count("user-1"))
	assert.Equal(t, 4, decision.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(1)

	assert.True(t, limiter.Allow("a").Permitted)
	assert.False(t, limiter.Allow("a").Permitted)
	assert.True(t, limiter.Allow("b").Permitted)
}

func TestLimiter_ResetClearsKey(t *testing.T) {
	limiter, _ := newTestLimiter(1)

	limiter.Allow("a")
	require.False(t, limiter.Allow("a").Permitted)

	limiter.Reset("a")
	assert.True(t, limiter.Allow("a").Permitted)
}

func TestLimiter_CheckReturnsRateLimitedError(t *testing.T) {
	limiter, _ := newTestLimiter(1)

	require.NoError(t, limiter.Check("a"))
	err := limiter.Check("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeRateLimited, code)

	retryAfter, ok := domain.RetryAfterFrom(err)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, retryAfter)
}

func TestLimiter_SweepRemovesElapsedWindows(t *testing.T) {
	limiter, clock := newTestLimiter(5)

	limiter.Allow("a")
	clock.Advance(30 * time.Second)
	limiter.Allow("b")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 0, limiter.Count("a"))
	assert.Equal(t, 1, limiter.Count("b"))
}

func TestLimiter_ConfigureChangesBudget(t *testing.T) {
	limiter, _ := newTestLimiter(1)

	limiter.Allow("a")
	require.False(t, limiter.Allow("a").Permitted)

	limiter.Configure(domain.RateLimitConfig{WindowSeconds: 60, Max: 3})
	assert.True(t, limiter.Allow("a").Permitted)
}

func TestSet_ClassesHaveIndependentBudgets(t *testing.T) {
	set := NewSet(map[string]domain.RateLimitConfig{
		domain.LimiterSync: {WindowSeconds: 60, Max: 1},
		domain.LimiterChat: {WindowSeconds: 60, Max: 2},
		"export":           {WindowSeconds: 10, Max: 1},
	}, Options{}, nil)

	assert.Equal(t, []string{"api", "chat", "export", "sync"}, set.Names())

	assert.True(t, set.Allow(domain.LimiterSync, "acct").Permitted)
	assert.False(t, set.Allow(domain.LimiterSync, "acct").Permitted)
	assert.True(t, set.Allow(domain.LimiterChat, "acct").Permitted)
	assert.True(t, set.Allow(domain.LimiterAPI, "acct").Permitted)
}

func TestSet_GetCreatesMissingClass(t *testing.T) {
	set := NewSet(nil, Options{}, nil)

	limiter := set.Get("webhook")
	require.NotNil(t, limiter)
	assert.Same(t, limiter, set.Get("webhook"))
}

func TestSet_StartStop(t *testing.T) {
	set := NewSet(nil, Options{}, nil)
	set.Start(5 * time.Millisecond)
	set.Start(5 * time.Millisecond)
	set.Stop()
	set.Stop()
}

func TestLimiter_ConcurrentAllowPermitsExactlyMax(t *testing.T) {
	limiter, _ := newTestLimiter(10)

	const callers = 64
	var permitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Allow("acct-1").Permitted {
				permitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(10), permitted.Load())
	assert.Equal(t, 10, limiter.Count("acct-1"))
	assert.False(t, limiter.Allow("acct-1").Permitted)
}
