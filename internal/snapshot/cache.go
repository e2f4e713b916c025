// Package snapshot owns the latest known availability of every center.
//
// Each center has its own entry holding an immutable CenterSnapshot behind an
// atomic pointer. Writers for one center serialize on that entry's mutex and
// publish a new snapshot by pointer swap; readers never lock.
package snapshot

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/models"
)

// DefaultFailureThreshold is used when Options.FailureThreshold is not set.
const DefaultFailureThreshold = 3

// CenterSnapshot is the state of one center at a point in time.
// Values handed out by the cache are never modified afterwards; callers must
// not modify Slot or LastError either.
type CenterSnapshot struct {
	CenterID            string              `json:"center_id"`
	Slot                *models.SlotResult  `json:"slot,omitempty"`
	Freshness           Freshness           `json:"freshness"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastError           *adapter.FetchError `json:"last_error,omitempty"`
	Unconfirmed         bool                `json:"unconfirmed"`
	Version             uint64              `json:"version"`
	Generation          uint64              `json:"generation"`
	LastAttemptAt       time.Time           `json:"last_attempt_at,omitzero"`
	LastSuccessAt       time.Time           `json:"last_success_at,omitzero"`
}

// View is a consistent point-in-time copy of every center.
// Generation is at least the Generation of every snapshot in Centers.
type View struct {
	Generation uint64
	Centers    []CenterSnapshot
}

// Options configures a Cache.
type Options struct {
	// FailureThreshold is the number of consecutive failures after which a
	// center is marked Failed. Default: 3
	FailureThreshold int

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

type entry struct {
	mu  sync.Mutex
	cur atomic.Pointer[CenterSnapshot]
}

// Cache is the concurrency-safe store of center snapshots.
// The set of centers is fixed at construction.
type Cache struct {
	entries    map[string]*entry
	order      []string
	generation atomic.Uint64
	threshold  int
	now        func() time.Time

	subMu sync.Mutex
	subs  map[int]chan uint64
	subID int
}

// New creates a cache with a Pending snapshot for each id.
// Duplicate ids are collapsed; order of first appearance is kept.
func New(ids []string, opts Options) *Cache {
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache{
		entries:   make(map[string]*entry, len(ids)),
		order:     make([]string, 0, len(ids)),
		threshold: opts.FailureThreshold,
		now:       opts.Now,
		subs:      make(map[int]chan uint64),
	}
	for _, id := range ids {
		if _, ok := c.entries[id]; ok {
			continue
		}
		e := &entry{}
		e.cur.Store(&CenterSnapshot{CenterID: id, Freshness: Pending})
		c.entries[id] = e
		c.order = append(c.order, id)
	}
	return c
}

// Len returns the number of centers tracked.
func (c *Cache) Len() int {
	return len(c.order)
}

// Generation returns the current global generation.
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// Apply records the outcome of one fetch for center id.
// Applies for the same center are serialized; applies for different centers
// do not contend. Outcomes for unknown ids are dropped.
func (c *Cache) Apply(id string, out adapter.Outcome) {
	e, ok := c.entries[id]
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.cur.Load()
	next := transition(*prev, out, c.now(), c.threshold)
	next.Version = prev.Version + 1
	next.Generation = c.generation.Add(1)
	e.cur.Store(&next)

	c.notify(next.Generation)
}

// transition applies the freshness rules to a copy of prev.
func transition(next CenterSnapshot, out adapter.Outcome, now time.Time, threshold int) CenterSnapshot {
	next.LastAttemptAt = now

	switch out.Kind {
	case adapter.KindSuccess:
		slot := out.Slot.Clone()
		if slot.ObservedAt.IsZero() || slot.ObservedAt.After(now) {
			slot.ObservedAt = now
		}
		next.Slot = &slot
		next.Freshness = Fresh
		next.ConsecutiveFailures = 0
		next.LastError = nil
		next.LastSuccessAt = now

	case adapter.KindPermanent:
		next.ConsecutiveFailures++
		next.LastError = failureError(out)
		next.Freshness = Failed

	default:
		next.ConsecutiveFailures++
		next.LastError = failureError(out)
		if next.ConsecutiveFailures >= threshold {
			next.Freshness = Failed
		} else {
			next.Freshness = Stale
		}
	}

	next.Unconfirmed = next.Freshness == Failed && next.Slot != nil
	return next
}

func failureError(out adapter.Outcome) *adapter.FetchError {
	if out.Err != nil {
		return out.Err
	}
	switch out.Kind {
	case adapter.KindPermanent:
		return adapter.ErrFormatChanged("adapter reported a permanent failure", nil)
	case adapter.KindTemporary:
		return adapter.ErrRejected(0, "adapter reported a temporary failure")
	}
	return adapter.ErrRejected(0, fmt.Sprintf("adapter returned an outcome of kind %s", out.Kind))
}

// Read returns the current snapshot for id.
func (c *Cache) Read(id string) (CenterSnapshot, bool) {
	e, ok := c.entries[id]
	if !ok {
		return CenterSnapshot{}, false
	}
	return *e.cur.Load(), true
}

// ReadAll returns every center's current snapshot in registration order.
func (c *Cache) ReadAll() View {
	centers := make([]CenterSnapshot, len(c.order))
	for i, id := range c.order {
		centers[i] = *c.entries[id].cur.Load()
	}
	// Loaded after the entries so it covers every generation seen above.
	return View{Generation: c.generation.Load(), Centers: centers}
}

// Subscribe returns a channel that receives the latest generation after
// writes. Notifications coalesce: a slow receiver sees fewer values but
// always wakes after the most recent write. Call cancel to unsubscribe.
func (c *Cache) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	c.subMu.Lock()
	id := c.subID
	c.subID++
	c.subs[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
	return ch, cancel
}

func (c *Cache) notify(gen uint64) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- gen:
		default:
		}
	}
}
