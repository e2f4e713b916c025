// Package fetchpool runs adapter calls with a fixed concurrency ceiling and
// a hard per-call deadline, streaming each result as soon as it settles.
package fetchpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/models"
)

// Defaults applied when Options fields are zero.
const (
	DefaultMaxConcurrency = 4
	DefaultTimeout        = 30 * time.Second
)

// Job is one adapter call to run.
type Job struct {
	Center  models.Center
	Adapter adapter.Adapter
}

// Result is the settled outcome of one Job.
type Result struct {
	Center   models.Center
	Outcome  adapter.Outcome
	Started  time.Time
	Duration time.Duration
}

// Observer receives fetch lifecycle events.
type Observer interface {
	OnFetchStart(ctx context.Context, centerID string)
	OnFetchEnd(ctx context.Context, centerID string, out adapter.Outcome, duration time.Duration)
}

// Options configures a Pool.
type Options struct {
	MaxConcurrency int
	Timeout        time.Duration
	Observer       Observer
}

// Pool executes jobs with at most MaxConcurrency calls in flight across all
// batches. A call still running at Timeout is abandoned: its slot is released
// and it settles as a temporary upstream_timeout failure. Whatever the adapter
// returns later is discarded.
type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	timeout  time.Duration
	observer Observer

	running atomic.Int64
	peak    atomic.Int64
	wg      sync.WaitGroup
}

// New creates a pool.
func New(opts Options) *Pool {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		limit:    opts.MaxConcurrency,
		timeout:  opts.Timeout,
		observer: opts.Observer,
	}
}

// Limit returns the concurrency ceiling.
func (p *Pool) Limit() int { return p.limit }

// Timeout returns the per-call deadline.
func (p *Pool) Timeout() time.Duration { return p.timeout }

// Running returns the number of calls currently holding a slot.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Peak returns the highest number of simultaneously running calls seen.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Submit starts jobs in order as slots free up and returns a channel that
// yields each result as it settles. The channel is buffered for the whole
// batch and closed once every started job has settled.
//
// Cancelling ctx stops the batch: jobs not yet started are skipped and calls
// in flight are abandoned without producing a result.
func (p *Pool) Submit(ctx context.Context, jobs []Job) <-chan Result {
	out := make(chan Result, len(jobs))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		var workers sync.WaitGroup
		for _, job := range jobs {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				break
			}
			workers.Add(1)
			go func(job Job) {
				defer workers.Done()
				defer p.sem.Release(1)
				if res, ok := p.run(ctx, job); ok {
					out <- res
				}
			}(job)
		}
		workers.Wait()
		close(out)
	}()

	return out
}

// Wait blocks until every batch submitted so far has settled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, job Job) (Result, bool) {
	if ctx.Err() != nil {
		return Result{}, false
	}

	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.observer != nil {
		p.observer.OnFetchStart(ctx, job.Center.ID)
	}
	start := time.Now()

	done := make(chan adapter.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- adapter.Temporary(&adapter.FetchError{
					Code:    adapter.CodeUpstreamRejected,
					Message: fmt.Sprintf("adapter panic: %v", r),
				})
			}
		}()
		done <- job.Adapter.Fetch(callCtx, job.Center)
	}()

	var outcome adapter.Outcome
	select {
	case outcome = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Result{}, false
		}
		outcome = adapter.Temporary(adapter.ErrTimeout(callCtx.Err()))
	}

	res := Result{
		Center:   job.Center,
		Outcome:  outcome,
		Started:  start,
		Duration: time.Since(start),
	}
	if p.observer != nil {
		p.observer.OnFetchEnd(ctx, job.Center.ID, outcome, res.Duration)
	}
	return res, true
}
