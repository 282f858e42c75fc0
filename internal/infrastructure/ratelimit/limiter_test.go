package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder collects job start order and times
type recorder struct {
	mu     sync.Mutex
	order  []string
	starts []time.Time
}

func (r *recorder) job(id string) func(context.Context) error {
	return func(context.Context) error {
		r.mu.Lock()
		r.order = append(r.order, id)
		r.starts = append(r.starts, time.Now())
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) snapshot() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...), append([]time.Time(nil), r.starts...)
}

func TestPolicyFrom_AppliesDefaults(t *testing.T) {
	p := PolicyFrom(marketplace.RateLimitPolicy{MaxConcurrent: 2, Reservoir: 10})
	assert.Equal(t, 2, p.MaxConcurrent)
	assert.Equal(t, time.Minute, p.ReservoirRefresh)
	assert.Equal(t, 60*time.Second, p.DefaultRetryAfter)
	assert.Equal(t, 5*time.Minute, p.MaxPause)

	ml := DefaultPolicy(marketplace.MercadoLivre)
	assert.Equal(t, 5, ml.MaxConcurrent)
	assert.Equal(t, 200*time.Millisecond, ml.MinSpacing)
}

func TestLimiter_PriorityThenFIFO(t *testing.T) {
	l := NewLimiter(marketplace.Amazon, Policy{MaxConcurrent: 1}, zap.NewNop())
	defer l.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := l.Submit(context.Background(), PriorityDefault, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	rec := &recorder{}
	results := []<-chan error{
		l.Submit(context.Background(), PrioritySync, rec.job("sync-1")),
		l.Submit(context.Background(), PriorityDefault, rec.job("default-1")),
		l.Submit(context.Background(), PriorityOrder, rec.job("order-1")),
		l.Submit(context.Background(), PrioritySync, rec.job("sync-2")),
		l.Submit(context.Background(), PriorityOrder, rec.job("order-2")),
	}
	assert.Equal(t, 5, l.Stats().Queued)

	close(release)
	require.NoError(t, <-blocker)
	for _, ch := range results {
		require.NoError(t, <-ch)
	}

	order, _ := rec.snapshot()
	assert.Equal(t, []string{"order-1", "order-2", "default-1", "sync-1", "sync-2"}, order)
}

func TestLimiter_MaxConcurrent(t *testing.T) {
	l := NewLimiter(marketplace.AliExpress, Policy{MaxConcurrent: 3}, zap.NewNop())
	defer l.Close()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Schedule(context.Background(), PriorityDefault, func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, uint64(20), l.Stats().Dispatched)
}

func TestLimiter_MinSpacing(t *testing.T) {
	spacing := 40 * time.Millisecond
	l := NewLimiter(marketplace.MercadoLivre, Policy{MinSpacing: spacing}, zap.NewNop())
	defer l.Close()

	rec := &recorder{}
	var results []<-chan error
	for _, id := range []string{"a", "b", "c"} {
		results = append(results, l.Submit(context.Background(), PriorityDefault, rec.job(id)))
	}
	for _, ch := range results {
		require.NoError(t, <-ch)
	}

	_, starts := rec.snapshot()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, spacing-5*time.Millisecond, "gap %d", i)
	}
}

func TestLimiter_ReservoirDefersUntilRefresh(t *testing.T) {
	refresh := 200 * time.Millisecond
	l := NewLimiter(marketplace.Amazon, Policy{MaxConcurrent: 1, Reservoir: 2, ReservoirRefresh: refresh}, zap.NewNop())
	defer l.Close()

	created := time.Now()
	rec := &recorder{}
	results := []<-chan error{
		l.Submit(context.Background(), PriorityDefault, rec.job("first")),
		l.Submit(context.Background(), PriorityDefault, rec.job("second")),
		l.Submit(context.Background(), PriorityDefault, rec.job("third")),
	}
	for _, ch := range results {
		require.NoError(t, <-ch)
	}

	order, starts := rec.snapshot()
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Less(t, starts[1].Sub(created), refresh)
	assert.GreaterOrEqual(t, starts[2].Sub(created), refresh-10*time.Millisecond)
}

func TestLimiter_ObserveQuotaOverridesReservoir(t *testing.T) {
	l := NewLimiter(marketplace.MercadoLivre, Policy{Reservoir: 100, ReservoirRefresh: time.Hour}, zap.NewNop())
	defer l.Close()

	l.ObserveQuota(marketplace.Quota{Limit: 50, Remaining: 0, ResetAt: time.Now().Add(150 * time.Millisecond)})
	stats := l.Stats()
	assert.True(t, stats.ReservoirEnforced)
	assert.Equal(t, 0, stats.Reservoir)

	start := time.Now()
	require.NoError(t, l.Schedule(context.Background(), PriorityDefault, func(context.Context) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)

	// Refilled to the observed limit rather than the configured reservoir.
	assert.Equal(t, 49, l.Stats().Reservoir)
}

func TestLimiter_PauseBlocksDispatch(t *testing.T) {
	l := NewLimiter(marketplace.Amazon, Policy{MaxPause: 100 * time.Millisecond}, zap.NewNop())
	defer l.Close()

	until := l.Pause(time.Hour)
	assert.WithinDuration(t, time.Now().Add(100*time.Millisecond), until, 20*time.Millisecond, "pause is clamped")

	// A shorter pause never shortens the window.
	assert.Equal(t, until, l.Pause(time.Millisecond))

	start := time.Now()
	require.NoError(t, l.Schedule(context.Background(), PriorityOrder, func(context.Context) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, uint64(1), l.Stats().Pauses)
}

func TestLimiter_ScheduleWithdrawsCancelledJob(t *testing.T) {
	l := NewLimiter(marketplace.Amazon, Policy{}, zap.NewNop())
	defer l.Close()
	l.Pause(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran int32
	err := l.Schedule(ctx, PriorityDefault, func(context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, l.Stats().Queued)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestLimiter_UpdatePolicyAtRuntime(t *testing.T) {
	l := NewLimiter(marketplace.AliExpress, Policy{Reservoir: 1, ReservoirRefresh: time.Hour}, zap.NewNop())
	defer l.Close()

	require.NoError(t, l.Schedule(context.Background(), PriorityDefault, func(context.Context) error { return nil }))
	blocked := l.Submit(context.Background(), PriorityDefault, func(context.Context) error { return nil })

	select {
	case <-blocked:
		t.Fatal("job should wait for the reservoir")
	case <-time.After(30 * time.Millisecond):
	}

	l.UpdatePolicy(Policy{MaxConcurrent: 2})
	select {
	case err := <-blocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("job was not released by the new policy")
	}
	assert.False(t, l.Stats().ReservoirEnforced)
	assert.Equal(t, 2, l.Stats().MaxConcurrent)
}

func TestLimiter_CloseFailsQueuedJobs(t *testing.T) {
	l := NewLimiter(marketplace.Amazon, Policy{}, zap.NewNop())
	l.Pause(time.Minute)

	queued := l.Submit(context.Background(), PriorityDefault, func(context.Context) error { return nil })
	l.Close()

	assert.ErrorIs(t, <-queued, ErrLimiterClosed)
	assert.ErrorIs(t, l.Schedule(context.Background(), PriorityDefault, func(context.Context) error { return nil }), ErrLimiterClosed)
}

func TestLimiter_RecoversPanickingJob(t *testing.T) {
	l := NewLimiter(marketplace.Amazon, Policy{MaxConcurrent: 1}, zap.NewNop())
	defer l.Close()

	err := l.Schedule(context.Background(), PriorityDefault, func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// The concurrency slot was released.
	require.NoError(t, l.Schedule(context.Background(), PriorityDefault, func(context.Context) error { return nil }))
}

// ---------------------------------------------------------------------------
// Registry Tests
// ---------------------------------------------------------------------------

// MockSettingsRepository is a mock implementation of marketplace.ConnectionSettingsRepository
type MockSettingsRepository struct {
	mock.Mock
}

func (m *MockSettingsRepository) FindByMarketplace(ctx context.Context, name marketplace.Name) (*marketplace.ConnectionSettings, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*marketplace.ConnectionSettings), args.Error(1)
}

func (m *MockSettingsRepository) FindActive(ctx context.Context) ([]marketplace.ConnectionSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]marketplace.ConnectionSettings), args.Error(1)
}

func (m *MockSettingsRepository) Save(ctx context.Context, settings *marketplace.ConnectionSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func TestRegistry_UnconfiguredRunsDirectly(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.Close()

	v, err := Do(context.Background(), r, marketplace.Amazon, PriorityDefault, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Empty(t, r.Stats())
}

func TestRegistry_RateLimitedResultPauses(t *testing.T) {
	var paused []marketplace.Name
	r := NewRegistry(zap.NewNop(), WithPauseHook(func(name marketplace.Name, until time.Time) {
		paused = append(paused, name)
	}))
	defer r.Close()
	r.Configure(marketplace.MercadoLivre, Policy{MaxPause: time.Minute})

	err := r.Execute(context.Background(), marketplace.MercadoLivre, PrioritySync, func(context.Context) error {
		return marketplace.NewRateLimitError(marketplace.MercadoLivre, "searchProducts", 30*time.Second)
	})
	assert.ErrorIs(t, err, marketplace.ErrRateLimited)
	assert.Equal(t, []marketplace.Name{marketplace.MercadoLivre}, paused)

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), stats[0].PausedUntil, time.Second)

	// Other errors do not pause.
	r.Configure(marketplace.AliExpress, Policy{})
	err = r.Execute(context.Background(), marketplace.AliExpress, PrioritySync, func(context.Context) error {
		return marketplace.NewHTTPError(marketplace.AliExpress, "searchProducts", 400, "bad request")
	})
	require.Error(t, err)
	assert.Len(t, paused, 1)
	stats = r.Stats()
	assert.True(t, stats[0].PausedUntil.IsZero(), "aliexpress sorts first and is not paused")
}

func TestRegistry_ObserveForwardsToLimiter(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.Close()
	r.Configure(marketplace.Amazon, Policy{})

	r.ObserveQuota(marketplace.Amazon, marketplace.Quota{Limit: 10, Remaining: 7, ResetAt: time.Now().Add(time.Minute)})
	r.ObserveRateLimited(marketplace.Amazon, 0)
	r.ObserveQuota(marketplace.AliExpress, marketplace.Quota{Remaining: 1})

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.True(t, stats[0].ReservoirEnforced)
	assert.Equal(t, 7, stats[0].Reservoir)
	assert.WithinDuration(t, time.Now().Add(60*time.Second), stats[0].PausedUntil, time.Second)
}

func TestRegistry_Reload(t *testing.T) {
	repo := new(MockSettingsRepository)
	ml, err := marketplace.NewConnectionSettings(marketplace.MercadoLivre, "ml-main")
	require.NoError(t, err)
	amz, err := marketplace.NewConnectionSettings(marketplace.Amazon, "amazon-main")
	require.NoError(t, err)
	amz.RateLimit.MaxConcurrent = 9
	repo.On("FindActive", mock.Anything).Return([]marketplace.ConnectionSettings{*ml, *amz}, nil)

	r := NewRegistry(zap.NewNop())
	defer r.Close()
	require.NoError(t, r.Reload(context.Background(), repo))

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "amazon", stats[0].Marketplace)
	assert.Equal(t, 9, stats[0].MaxConcurrent)
	assert.Equal(t, "mercadolivre", stats[1].Marketplace)
	assert.Equal(t, 5, stats[1].MaxConcurrent)
	repo.AssertExpectations(t)
}

func TestRegistry_ReloadError(t *testing.T) {
	repo := new(MockSettingsRepository)
	repo.On("FindActive", mock.Anything).Return(nil, errors.New("db down"))

	r := NewRegistry(zap.NewNop())
	assert.EqualError(t, r.Reload(context.Background(), repo), "db down")
}

func TestRegistry_PauseBounds(t *testing.T) {
	r := NewRegistry(zap.NewNop(), WithPauseBounds(10*time.Second, 20*time.Second))
	defer r.Close()
	r.Configure(marketplace.Amazon, Policy{})

	r.ObserveRateLimited(marketplace.Amazon, 0)
	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), stats[0].PausedUntil, time.Second)

	r.ObserveRateLimited(marketplace.Amazon, time.Hour)
	assert.WithinDuration(t, time.Now().Add(20*time.Second), r.Stats()[0].PausedUntil, time.Second)
}
