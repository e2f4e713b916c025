// Package scheduler drives periodic refreshes: one loop decides which centers
// are due, hands them to the fetch pool and applies the results to the cache.
package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/fetchpool"
	"github.com/slotwatch/slotwatch/internal/models"
)

// Defaults applied when Options fields are zero.
const (
	DefaultTickInterval = time.Second
	DefaultBackoffBase  = 30 * time.Second
	DefaultBackoffCap   = time.Hour
	DefaultGracePeriod  = 10 * time.Second
)

// RefreshStatus is the answer to a manual refresh request.
type RefreshStatus int

const (
	// Accepted means a refresh will start on the next loop iteration.
	Accepted RefreshStatus = iota
	// Coalesced means a refresh is already in flight or queued for the center.
	Coalesced
	// NotFound means the center is not registered.
	NotFound
)

func (s RefreshStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Coalesced:
		return "coalesced"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its lowercase name.
func (s RefreshStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Catalog lists the centers to refresh and the adapter bound to each.
type Catalog interface {
	Centers() []models.Center
	Adapter(id string) (adapter.Adapter, bool)
}

// Applier receives settled outcomes.
type Applier interface {
	Apply(id string, out adapter.Outcome)
}

// Hooks receives refresh lifecycle events.
type Hooks interface {
	OnCycleStart(ctx context.Context, ids []string)
	OnCycleEnd(ctx context.Context, settled int, duration time.Duration)
	OnRefreshRequest(id string, status RefreshStatus)
}

// Options configures a Scheduler.
type Options struct {
	TickInterval time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	JitterRange  time.Duration
	GracePeriod  time.Duration

	// Now and Rand are injectable for tests. Rand returns a value in [0, n).
	Now  func() time.Time
	Rand func(n int64) int64

	Hooks Hooks
	// OnApply is called after each outcome has been applied to the cache.
	OnApply func(id string, out adapter.Outcome)
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = o.BackoffBase
	}
	if o.JitterRange < 0 {
		o.JitterRange = 0
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.Int64N
	}
	return o
}

type centerState struct {
	center   models.Center
	adapter  adapter.Adapter
	interval time.Duration
	level    int
	nextDue  time.Time
	inflight bool
	forced   bool
}

// Scheduler owns the per-center refresh clocks.
type Scheduler struct {
	pool  *fetchpool.Pool
	cache Applier
	opts  Options

	mu     sync.Mutex
	order  []string
	states map[string]*centerState

	wake chan struct{}
}

// New creates a scheduler. Each center's first refresh is placed at a random
// offset within its interval so that startup load is staggered.
func New(catalog Catalog, pool *fetchpool.Pool, cache Applier, opts Options) *Scheduler {
	opts = opts.withDefaults()
	s := &Scheduler{
		pool:   pool,
		cache:  cache,
		opts:   opts,
		states: make(map[string]*centerState),
		wake:   make(chan struct{}, 1),
	}

	start := opts.Now()
	for _, c := range catalog.Centers() {
		a, ok := catalog.Adapter(c.ID)
		if !ok {
			continue
		}
		s.order = append(s.order, c.ID)
		s.states[c.ID] = &centerState{
			center:   c,
			adapter:  a,
			interval: c.RefreshInterval,
			nextDue:  start.Add(s.jitter(c.RefreshInterval)),
		}
	}
	return s
}

func (s *Scheduler) jitter(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(s.opts.Rand(int64(n)))
}

// EffectiveInterval returns the interval currently applied to a center,
// excluding jitter.
func (s *Scheduler) EffectiveInterval(id string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return 0, false
	}
	return st.interval, true
}

// NextDue returns when the center will next be refreshed.
func (s *Scheduler) NextDue(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return time.Time{}, false
	}
	return st.nextDue, true
}

// RequestRefresh asks for an immediate refresh of one center. A request made
// while a refresh is in flight or already queued joins that attempt.
func (s *Scheduler) RequestRefresh(id string) RefreshStatus {
	status := s.request(id)
	if status == Accepted {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	if s.opts.Hooks != nil {
		s.opts.Hooks.OnRefreshRequest(id, status)
	}
	return status
}

func (s *Scheduler) request(id string) RefreshStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	switch {
	case !ok:
		return NotFound
	case st.inflight || st.forced:
		return Coalesced
	}
	st.forced = true
	return Accepted
}

// RefreshNow runs one synchronous round for the given centers, or for every
// center when ids is empty. Unknown ids and centers already in flight are
// skipped.
func (s *Scheduler) RefreshNow(ctx context.Context, ids ...string) error {
	var batch []*centerState
	s.mu.Lock()
	if len(ids) == 0 {
		ids = s.order
	}
	for _, id := range ids {
		st, ok := s.states[id]
		if !ok || st.inflight {
			continue
		}
		st.inflight = true
		st.forced = false
		batch = append(batch, st)
	}
	s.mu.Unlock()

	s.runBatch(ctx, batch)
	return ctx.Err()
}

// Run drives the refresh loop until ctx is done. In-flight fetches then get
// GracePeriod to settle before they are cancelled. Run returns once every
// goroutine it started has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	fetchCtx, cancelFetches := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFetches()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	var batches sync.WaitGroup
	for {
		if batch := s.due(s.opts.Now()); len(batch) > 0 {
			batches.Add(1)
			go func() {
				defer batches.Done()
				s.runBatch(fetchCtx, batch)
			}()
		}

		select {
		case <-ctx.Done():
			s.drain(&batches, cancelFetches)
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

func (s *Scheduler) drain(batches *sync.WaitGroup, cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		batches.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		cancel()
		<-done
	}
}

func (s *Scheduler) due(now time.Time) []*centerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []*centerState
	for _, id := range s.order {
		st := s.states[id]
		if st.inflight {
			continue
		}
		if st.forced || !now.Before(st.nextDue) {
			st.inflight = true
			st.forced = false
			batch = append(batch, st)
		}
	}
	return batch
}

func (s *Scheduler) runBatch(ctx context.Context, batch []*centerState) {
	if len(batch) == 0 {
		return
	}

	ids := make([]string, len(batch))
	jobs := make([]fetchpool.Job, len(batch))
	for i, st := range batch {
		ids[i] = st.center.ID
		jobs[i] = fetchpool.Job{Center: st.center, Adapter: st.adapter}
	}
	if s.opts.Hooks != nil {
		s.opts.Hooks.OnCycleStart(ctx, ids)
	}
	start := time.Now()

	settled := 0
	for res := range s.pool.Submit(ctx, jobs) {
		id := res.Center.ID
		s.cache.Apply(id, res.Outcome)

		s.mu.Lock()
		st := s.states[id]
		s.reschedule(st, res.Outcome, s.opts.Now())
		st.inflight = false
		s.mu.Unlock()

		if s.opts.OnApply != nil {
			s.opts.OnApply(id, res.Outcome)
		}
		settled++
	}

	// Jobs dropped by cancellation never produced a result.
	s.mu.Lock()
	for _, st := range batch {
		st.inflight = false
	}
	s.mu.Unlock()

	if s.opts.Hooks != nil {
		s.opts.Hooks.OnCycleEnd(ctx, settled, time.Since(start))
	}
}

// reschedule sets the effective interval and next due time after an outcome.
// Must be called with s.mu held.
func (s *Scheduler) reschedule(st *centerState, out adapter.Outcome, now time.Time) {
	base := st.center.RefreshInterval

	switch out.Kind {
	case adapter.KindSuccess:
		st.level = 0
		st.interval = base
		st.nextDue = now.Add(base)
		return
	case adapter.KindPermanent:
		st.level = s.capLevel()
		st.interval = max(base, s.opts.BackoffCap)
	default:
		step := 1
		if out.Err != nil {
			switch out.Err.Code {
			case adapter.CodeRateLimited, adapter.CodeUpstreamRejected:
				step = 2
			}
		}
		st.level = min(st.level+step, s.capLevel())
		st.interval = max(base, min(s.opts.BackoffCap, s.backoff(st.level)))
	}

	next := now.Add(st.interval).Add(s.jitter(s.opts.JitterRange))
	if out.Err != nil && out.Err.RetryAfter > 0 {
		if floor := now.Add(out.Err.RetryAfter); next.Before(floor) {
			next = floor
		}
	}
	st.nextDue = next
}

// backoff returns BackoffBase doubled level-1 times, saturating at the cap.
func (s *Scheduler) backoff(level int) time.Duration {
	d := s.opts.BackoffBase
	for i := 1; i < level && d < s.opts.BackoffCap; i++ {
		d *= 2
	}
	return d
}

// capLevel is the first level whose backoff reaches the cap.
func (s *Scheduler) capLevel() int {
	level := 1
	for d := s.opts.BackoffBase; d < s.opts.BackoffCap; d *= 2 {
		level++
	}
	return level
}
