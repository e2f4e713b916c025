package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/fetchpool"
	"github.com/slotwatch/slotwatch/internal/models"
	"github.com/slotwatch/slotwatch/internal/snapshot"
)

type fakeCatalog struct {
	centers  []models.Center
	adapters map[string]adapter.Adapter
}

func (c *fakeCatalog) Centers() []models.Center { return c.centers }

func (c *fakeCatalog) Adapter(id string) (adapter.Adapter, bool) {
	a, ok := c.adapters[id]
	return a, ok
}

func newCatalog(interval time.Duration, a adapter.Adapter, ids ...string) *fakeCatalog {
	c := &fakeCatalog{adapters: map[string]adapter.Adapter{}}
	for _, id := range ids {
		c.centers = append(c.centers, models.Center{ID: id, Name: id, RefreshInterval: interval})
		c.adapters[id] = a
	}
	return c
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
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

// scripted returns whatever outcome was last set.
type scripted struct {
	mu  sync.Mutex
	out adapter.Outcome
}

func (s *scripted) set(out adapter.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = out
}

func (s *scripted) Fetch(context.Context, models.Center) adapter.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

func success() adapter.Outcome {
	return adapter.Success(models.NewSlotResult(
		[]time.Time{time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC)},
		time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
	))
}

func half(n int64) int64 { return n / 2 }

func newTestScheduler(t *testing.T, cat *fakeCatalog, opts Options) (*Scheduler, *snapshot.Cache) {
	t.Helper()
	ids := make([]string, len(cat.centers))
	for i, c := range cat.centers {
		ids[i] = c.ID
	}
	cache := snapshot.New(ids, snapshot.Options{FailureThreshold: 2, Now: opts.Now})
	pool := fetchpool.New(fetchpool.Options{MaxConcurrency: 4, Timeout: 5 * time.Second})
	return New(cat, pool, cache, opts), cache
}

func TestRefreshStatusString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "coalesced", Coalesced.String())
	assert.Equal(t, "not_found", NotFound.String())

	b, err := Coalesced.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "coalesced", string(b))
}

func TestPhaseOffsetsStaggerStartup(t *testing.T) {
	clock := newFakeClock()
	cat := &fakeCatalog{
		centers: []models.Center{
			{ID: "a", RefreshInterval: 10 * time.Minute},
			{ID: "b", RefreshInterval: 4 * time.Minute},
		},
		adapters: map[string]adapter.Adapter{"a": &scripted{}, "b": &scripted{}},
	}
	s, _ := newTestScheduler(t, cat, Options{Now: clock.Now, Rand: half})

	due, ok := s.NextDue("a")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(5*time.Minute), due)
	due, _ = s.NextDue("b")
	assert.Equal(t, clock.Now().Add(2*time.Minute), due)
}

func TestPhaseOffsetsWithinInterval(t *testing.T) {
	clock := newFakeClock()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	s, _ := newTestScheduler(t, newCatalog(time.Minute, &scripted{}, ids...), Options{Now: clock.Now})

	start := clock.Now()
	for _, id := range ids {
		due, ok := s.NextDue(id)
		require.True(t, ok)
		assert.False(t, due.Before(start), id)
		assert.True(t, due.Before(start.Add(time.Minute)), id)
	}
}

func TestCentersWithoutAdapterAreSkipped(t *testing.T) {
	cat := newCatalog(time.Minute, &scripted{}, "a")
	cat.centers = append(cat.centers, models.Center{ID: "orphan", RefreshInterval: time.Minute})
	s, _ := newTestScheduler(t, cat, Options{})

	_, ok := s.EffectiveInterval("orphan")
	assert.False(t, ok)
	assert.Equal(t, NotFound, s.RequestRefresh("orphan"))
}

func TestBackoffGrowsToCapAndResetsOnSuccess(t *testing.T) {
	clock := newFakeClock()
	a := &scripted{}
	s, cache := newTestScheduler(t, newCatalog(time.Minute, a, "a"), Options{
		Now:         clock.Now,
		Rand:        half,
		BackoffBase: 30 * time.Second,
		BackoffCap:  10 * time.Minute,
	})
	ctx := context.Background()

	a.set(adapter.Temporary(adapter.ErrTimeout(nil)))
	want := []time.Duration{
		time.Minute, time.Minute, 2 * time.Minute, 4 * time.Minute,
		8 * time.Minute, 10 * time.Minute, 10 * time.Minute, 10 * time.Minute,
	}
	var prev time.Duration
	for i, w := range want {
		require.NoError(t, s.RefreshNow(ctx, "a"))
		got, ok := s.EffectiveInterval("a")
		require.True(t, ok)
		assert.Equal(t, w, got, "failure %d", i+1)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
		clock.Advance(got)
	}

	snap, _ := cache.Read("a")
	assert.Equal(t, snapshot.Failed, snap.Freshness)

	a.set(success())
	require.NoError(t, s.RefreshNow(ctx, "a"))
	got, _ := s.EffectiveInterval("a")
	assert.Equal(t, time.Minute, got)
	due, _ := s.NextDue("a")
	assert.Equal(t, clock.Now().Add(time.Minute), due, "no jitter after success")

	snap, _ = cache.Read("a")
	assert.Equal(t, snapshot.Fresh, snap.Freshness)
}

func TestJitterAddedAfterFailure(t *testing.T) {
	clock := newFakeClock()
	a := &scripted{}
	s, _ := newTestScheduler(t, newCatalog(time.Minute, a, "a"), Options{
		Now:         clock.Now,
		Rand:        half,
		JitterRange: 20 * time.Second,
	})

	a.set(adapter.Temporary(adapter.ErrRejected(502, "bad gateway")))
	require.NoError(t, s.RefreshNow(context.Background(), "a"))

	due, _ := s.NextDue("a")
	assert.Equal(t, clock.Now().Add(time.Minute+10*time.Second), due)
}

func TestRateLimitedWidensFaster(t *testing.T) {
	clock := newFakeClock()
	timeouts := &scripted{}
	limited := &scripted{}
	cat := &fakeCatalog{
		centers: []models.Center{
			{ID: "t", RefreshInterval: 10 * time.Second},
			{ID: "r", RefreshInterval: 10 * time.Second},
		},
		adapters: map[string]adapter.Adapter{"t": timeouts, "r": limited},
	}
	s, _ := newTestScheduler(t, cat, Options{
		Now:         clock.Now,
		Rand:        half,
		BackoffBase: 30 * time.Second,
		BackoffCap:  time.Hour,
	})

	timeouts.set(adapter.Temporary(adapter.ErrTimeout(nil)))
	limited.set(adapter.Temporary(adapter.ErrRateLimited(0)))

	ctx := context.Background()
	require.NoError(t, s.RefreshNow(ctx))
	ti, _ := s.EffectiveInterval("t")
	ri, _ := s.EffectiveInterval("r")
	assert.Equal(t, 30*time.Second, ti)
	assert.Equal(t, time.Minute, ri)

	require.NoError(t, s.RefreshNow(ctx))
	ti, _ = s.EffectiveInterval("t")
	ri, _ = s.EffectiveInterval("r")
	assert.Equal(t, time.Minute, ti)
	assert.Equal(t, 4*time.Minute, ri)
}

func TestRejectedWidensFasterThanTimeout(t *testing.T) {
	clock := newFakeClock()
	timeouts := &scripted{}
	rejected := &scripted{}
	cat := &fakeCatalog{
		centers: []models.Center{
			{ID: "t", RefreshInterval: 10 * time.Second},
			{ID: "j", RefreshInterval: 10 * time.Second},
		},
		adapters: map[string]adapter.Adapter{"t": timeouts, "j": rejected},
	}
	s, _ := newTestScheduler(t, cat, Options{
		Now:         clock.Now,
		Rand:        half,
		BackoffBase: 30 * time.Second,
		BackoffCap:  time.Hour,
	})

	timeouts.set(adapter.Temporary(adapter.ErrTimeout(nil)))
	rejected.set(adapter.Temporary(adapter.ErrRejected(403, "forbidden")))

	ctx := context.Background()
	want := []struct{ timeout, rejected time.Duration }{
		{30 * time.Second, time.Minute},
		{time.Minute, 4 * time.Minute},
		{2 * time.Minute, 16 * time.Minute},
	}
	for i, w := range want {
		require.NoError(t, s.RefreshNow(ctx))
		ti, _ := s.EffectiveInterval("t")
		ji, _ := s.EffectiveInterval("j")
		assert.Equal(t, w.timeout, ti, "timeout after failure %d", i+1)
		assert.Equal(t, w.rejected, ji, "rejected after failure %d", i+1)
		assert.Greater(t, ji, ti)
	}
}

func TestZeroOutcomeBacksOff(t *testing.T) {
	clock := newFakeClock()
	a := &scripted{}
	s, cache := newTestScheduler(t, newCatalog(10*time.Second, a, "a"), Options{
		Now:         clock.Now,
		Rand:        half,
		BackoffBase: 30 * time.Second,
		BackoffCap:  time.Hour,
	})

	require.NoError(t, s.RefreshNow(context.Background(), "a"))
	got, _ := s.EffectiveInterval("a")
	assert.Equal(t, 30*time.Second, got)

	snap, _ := cache.Read("a")
	assert.Equal(t, snapshot.Stale, snap.Freshness)
}

func TestRetryAfterSetsFloor(t *testing.T) {
	clock := newFakeClock()
	a := &scripted{}
	s, _ := newTestScheduler(t, newCatalog(time.Minute, a, "a"), Options{Now: clock.Now, Rand: half})

	a.set(adapter.Temporary(adapter.ErrRateLimited(20 * time.Minute)))
	require.NoError(t, s.RefreshNow(context.Background(), "a"))

	due, _ := s.NextDue("a")
	assert.Equal(t, clock.Now().Add(20*time.Minute), due)
}

func TestPermanentFailureRetriesAtCap(t *testing.T) {
	clock := newFakeClock()
	a := &scripted{}
	s, cache := newTestScheduler(t, newCatalog(time.Minute, a, "a"), Options{
		Now:         clock.Now,
		Rand:        half,
		BackoffBase: 30 * time.Second,
		BackoffCap:  15 * time.Minute,
	})
	ctx := context.Background()

	a.set(adapter.Permanent(adapter.ErrCenterClosed("")))
	require.NoError(t, s.RefreshNow(ctx, "a"))
	got, _ := s.EffectiveInterval("a")
	assert.Equal(t, 15*time.Minute, got)

	a.set(adapter.Temporary(adapter.ErrTimeout(nil)))
	require.NoError(t, s.RefreshNow(ctx, "a"))
	got, _ = s.EffectiveInterval("a")
	assert.Equal(t, 15*time.Minute, got, "stays at cap")

	snap, _ := cache.Read("a")
	assert.Equal(t, snapshot.Failed, snap.Freshness)
}

func TestBaseIntervalAboveCapIsKept(t *testing.T) {
	clock := newFakeClock()
	a := &scripted{}
	s, _ := newTestScheduler(t, newCatalog(2*time.Hour, a, "a"), Options{
		Now:        clock.Now,
		Rand:       half,
		BackoffCap: time.Hour,
	})

	a.set(adapter.Temporary(adapter.ErrTimeout(nil)))
	require.NoError(t, s.RefreshNow(context.Background(), "a"))
	got, _ := s.EffectiveInterval("a")
	assert.Equal(t, 2*time.Hour, got)
}

func TestThresholdScenario(t *testing.T) {
	clock := newFakeClock()
	cat := &fakeCatalog{
		centers: []models.Center{
			{ID: "A", RefreshInterval: time.Minute},
			{ID: "B", RefreshInterval: time.Minute},
			{ID: "C", RefreshInterval: time.Minute},
		},
		adapters: map[string]adapter.Adapter{
			"A": adapter.Func(func(context.Context, models.Center) adapter.Outcome { return success() }),
			"B": adapter.Func(func(context.Context, models.Center) adapter.Outcome {
				return adapter.Temporary(adapter.ErrTimeout(nil))
			}),
			"C": adapter.Func(func(context.Context, models.Center) adapter.Outcome {
				return adapter.Permanent(adapter.ErrCenterClosed("closed"))
			}),
		},
	}
	s, cache := newTestScheduler(t, cat, Options{Now: clock.Now, Rand: half})
	ctx := context.Background()

	require.NoError(t, s.RefreshNow(ctx))
	a, _ := cache.Read("A")
	b, _ := cache.Read("B")
	c, _ := cache.Read("C")
	assert.Equal(t, snapshot.Fresh, a.Freshness)
	require.NotNil(t, a.Slot)
	assert.Equal(t, time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC), *a.Slot.Earliest)
	assert.Equal(t, snapshot.Stale, b.Freshness)
	assert.Equal(t, 1, b.ConsecutiveFailures)
	assert.Equal(t, snapshot.Failed, c.Freshness)
	assert.Nil(t, c.Slot)

	require.NoError(t, s.RefreshNow(ctx, "B"))
	b, _ = cache.Read("B")
	assert.Equal(t, snapshot.Failed, b.Freshness)
	assert.Equal(t, 2, b.ConsecutiveFailures)
}

type recordingHooks struct {
	mu       sync.Mutex
	cycles   [][]string
	settled  []int
	requests map[string][]RefreshStatus
}

func (h *recordingHooks) OnCycleStart(_ context.Context, ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles = append(h.cycles, ids)
}

func (h *recordingHooks) OnCycleEnd(_ context.Context, settled int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settled = append(h.settled, settled)
}

func (h *recordingHooks) OnRefreshRequest(id string, status RefreshStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests[id] = append(h.requests[id], status)
}

func TestRequestRefreshCoalesces(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	a := adapter.Func(func(ctx context.Context, c models.Center) adapter.Outcome {
		started <- struct{}{}
		<-release
		return success()
	})
	hooks := &recordingHooks{requests: map[string][]RefreshStatus{}}
	s, _ := newTestScheduler(t, newCatalog(time.Hour, a, "a"), Options{Hooks: hooks})

	assert.Equal(t, NotFound, s.RequestRefresh("missing"))

	done := make(chan struct{})
	go func() {
		_ = s.RefreshNow(context.Background(), "a")
		close(done)
	}()
	<-started

	assert.Equal(t, Coalesced, s.RequestRefresh("a"), "in flight")
	close(release)
	<-done

	assert.Equal(t, Accepted, s.RequestRefresh("a"))
	assert.Equal(t, Coalesced, s.RequestRefresh("a"), "already queued")

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, []RefreshStatus{Coalesced, Accepted, Coalesced}, hooks.requests["a"])
	assert.Equal(t, []RefreshStatus{NotFound}, hooks.requests["missing"])
	assert.Equal(t, [][]string{{"a"}}, hooks.cycles)
	assert.Equal(t, []int{1}, hooks.settled)
}

func TestOnApplySeesEveryOutcome(t *testing.T) {
	var applied sync.Map
	s, _ := newTestScheduler(t,
		newCatalog(time.Minute, adapter.Func(func(context.Context, models.Center) adapter.Outcome { return success() }), "a", "b"),
		Options{OnApply: func(id string, out adapter.Outcome) { applied.Store(id, out.Kind) }},
	)
	require.NoError(t, s.RefreshNow(context.Background()))

	for _, id := range []string{"a", "b"} {
		v, ok := applied.Load(id)
		require.True(t, ok, id)
		assert.Equal(t, adapter.KindSuccess, v)
	}
}

func TestRefreshNowCancelled(t *testing.T) {
	s, cache := newTestScheduler(t, newCatalog(time.Minute, &scripted{out: success()}, "a"), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.RefreshNow(ctx), context.Canceled)
	snap, _ := cache.Read("a")
	assert.Equal(t, snapshot.Pending, snap.Freshness)
	assert.Equal(t, Accepted, s.RequestRefresh("a"), "in-flight flag cleared")
}

func TestRunDispatchesDueCenters(t *testing.T) {
	var calls atomic.Int32
	a := adapter.Func(func(context.Context, models.Center) adapter.Outcome {
		calls.Add(1)
		return success()
	})
	s, cache := newTestScheduler(t, newCatalog(time.Hour, a, "a", "b", "c"), Options{
		TickInterval: 5 * time.Millisecond,
		Rand:         func(int64) int64 { return 0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return cache.Generation() >= 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "not due again within the interval")

	cancel()
	require.NoError(t, <-errCh)
	for _, id := range []string{"a", "b", "c"} {
		snap, _ := cache.Read(id)
		assert.Equal(t, snapshot.Fresh, snap.Freshness)
	}
}

func TestRunWakesOnManualRefresh(t *testing.T) {
	var calls atomic.Int32
	a := adapter.Func(func(context.Context, models.Center) adapter.Outcome {
		calls.Add(1)
		return success()
	})
	s, _ := newTestScheduler(t, newCatalog(time.Hour, a, "a"), Options{
		TickInterval: time.Hour,
		Rand:         func(int64) int64 { return 0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.RequestRefresh("a") == Accepted }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

func TestShutdownBoundedByGracePeriod(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	var started atomic.Int32
	a := adapter.Func(func(ctx context.Context, c models.Center) adapter.Outcome {
		if c.ID == "quick" {
			return success()
		}
		started.Add(1)
		<-block // ignores ctx
		return success()
	})
	cat := newCatalog(time.Hour, a, "quick", "s1", "s2", "s3")

	cache := snapshot.New([]string{"quick", "s1", "s2", "s3"}, snapshot.Options{})
	pool := fetchpool.New(fetchpool.Options{MaxConcurrency: 4, Timeout: time.Minute})
	const grace = 100 * time.Millisecond
	s := New(cat, pool, cache, Options{
		TickInterval: 5 * time.Millisecond,
		GracePeriod:  grace,
		Rand:         func(int64) int64 { return 0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap, _ := cache.Read("quick")
		return snap.Freshness == snapshot.Fresh && started.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)

	begin := time.Now()
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(grace + time.Second):
		t.Fatal("Run did not return within the grace period")
	}
	elapsed := time.Since(begin)

	assert.GreaterOrEqual(t, elapsed, grace-10*time.Millisecond)
	pool.Wait()
	assert.Zero(t, pool.Running())
	for _, id := range []string{"s1", "s2", "s3"} {
		snap, _ := cache.Read(id)
		assert.Equal(t, snapshot.Pending, snap.Freshness, "abandoned fetch leaves no result")
	}
}

func TestShutdownLetsFetchesFinishWithinGrace(t *testing.T) {
	a := adapter.Func(func(ctx context.Context, c models.Center) adapter.Outcome {
		time.Sleep(50 * time.Millisecond)
		return success()
	})
	cat := newCatalog(time.Hour, a, "a")
	cache := snapshot.New([]string{"a"}, snapshot.Options{})
	pool := fetchpool.New(fetchpool.Options{MaxConcurrency: 1, Timeout: time.Minute})
	s := New(cat, pool, cache, Options{
		GracePeriod: 5 * time.Second,
		Rand:        func(int64) int64 { return 0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return pool.Running() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	snap, _ := cache.Read("a")
	assert.Equal(t, snapshot.Fresh, snap.Freshness)
}
