package attestcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/posix4e/tdx-trust-gateway/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrVerify_CoalescesConcurrentCalls(t *testing.T) {
	var calls int64
	var wgStart sync.WaitGroup
	wgStart.Add(1)

	c := New(16, time.Minute, func(ctx context.Context, appID string) chain.Result {
		atomic.AddInt64(&calls, 1)
		wgStart.Wait()
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})

	const n = 10
	results := make(chan Entry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.GetOrVerify(context.Background(), "app-1")
			require.NoError(t, err)
			results <- e
		}()
	}

	time.Sleep(20 * time.Millisecond)
	wgStart.Done()
	wg.Wait()
	close(results)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for e := range results {
		assert.Equal(t, chain.OutcomeSuccess, e.Result.Outcome)
	}
}

func TestGetOrVerify_CachesNegativeResults(t *testing.T) {
	var calls int64
	c := New(16, time.Minute, func(ctx context.Context, appID string) chain.Result {
		atomic.AddInt64(&calls, 1)
		return chain.Result{Outcome: chain.OutcomeFailed}
	})

	_, err := c.GetOrVerify(context.Background(), "app-1")
	require.NoError(t, err)
	_, err = c.GetOrVerify(context.Background(), "app-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestGetOrVerify_SurvivesRequestContextCancellation(t *testing.T) {
	started := make(chan struct{})
	c := New(16, time.Minute, func(ctx context.Context, appID string) chain.Result {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.GetOrVerify(ctx, "app-1")
	assert.Error(t, err)

	e, ok := c.Get("app-1")
	require.True(t, ok)
	assert.Equal(t, chain.OutcomeSuccess, e.Result.Outcome)
}

func TestInvalidateAndClear(t *testing.T) {
	c := New(16, time.Minute, func(ctx context.Context, appID string) chain.Result {
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})
	c.Put("app-1", chain.Result{Outcome: chain.OutcomeSuccess})
	_, ok := c.Get("app-1")
	require.True(t, ok)

	c.Invalidate("app-1")
	_, ok = c.Get("app-1")
	assert.False(t, ok)

	c.Put("app-2", chain.Result{Outcome: chain.OutcomeSuccess})
	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestStats_ReportsTotalValidAndTTL(t *testing.T) {
	c := New(16, time.Minute, func(ctx context.Context, appID string) chain.Result {
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})
	c.Put("app-1", chain.Result{Outcome: chain.OutcomeSuccess})
	c.Put("app-2", chain.Result{Outcome: chain.OutcomeSuccess})

	stats := c.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Valid)
	assert.Equal(t, 0, stats.Expired)
	assert.Equal(t, time.Minute.Seconds(), stats.TTLSeconds)
}
