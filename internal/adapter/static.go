package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/slotwatch/slotwatch/internal/models"
)

// Built-in adapter kinds.
const (
	KindJSONQuery = "jsonquery"
	KindStatic    = "static"
	KindClosed    = "closed"
)

// static reports a fixed set of slots. Useful for demos, fixtures and
// centers whose availability is published out of band.
type static struct {
	available []time.Time
	delay     time.Duration
	now       func() time.Time
}

func newStatic(spec models.AdapterSpec, deps Deps) (Adapter, error) {
	raw, err := optStrings(spec.Options, "available")
	if err != nil {
		return nil, err
	}
	earliest, err := optString(spec.Options, "earliest")
	if err != nil {
		return nil, err
	}
	if earliest != "" {
		raw = append(raw, earliest)
	}
	layout, err := optString(spec.Options, "time_layout")
	if err != nil {
		return nil, err
	}
	if layout == "" {
		layout = time.RFC3339
	}
	loc, err := optLocation(spec.Options, "location")
	if err != nil {
		return nil, err
	}
	delay, err := optDuration(spec.Options, "delay")
	if err != nil {
		return nil, err
	}

	s := &static{delay: delay, now: deps.now}
	for _, v := range raw {
		t, err := time.ParseInLocation(layout, v, loc)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", v, err)
		}
		s.available = append(s.available, t)
	}
	return s, nil
}

func (s *static) Fetch(ctx context.Context, _ models.Center) Outcome {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Temporary(ErrTimeout(ctx.Err()))
		}
	}
	return Success(models.NewSlotResult(s.available, s.now()))
}

// closed marks a center as closed by operator decision.
type closed struct {
	reason string
}

func newClosed(spec models.AdapterSpec, _ Deps) (Adapter, error) {
	reason, err := optString(spec.Options, "reason")
	if err != nil {
		return nil, err
	}
	return &closed{reason: reason}, nil
}

func (c *closed) Fetch(context.Context, models.Center) Outcome {
	return Permanent(ErrCenterClosed(c.reason))
}
