// Package models provides the value types shared by the registry, the
// adapters and the snapshot cache.
package models

import (
	"sort"
	"time"
)

// AdapterSpec binds a center to an adapter implementation.
// Kind selects the registered factory; Options are passed to it verbatim.
type AdapterSpec struct {
	Kind    string         `json:"kind" yaml:"kind"`
	Options map[string]any `json:"options,omitempty" yaml:",inline"`
}

// Center is one driving-test location.
// Centers are built once at startup and never mutated afterwards.
type Center struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Address         string        `json:"address,omitempty"`
	Latitude        float64       `json:"latitude"`
	Longitude       float64       `json:"longitude"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	Adapter         AdapterSpec   `json:"adapter"`

	// Historical test results, loaded with the rest of the metadata.
	Passes   int `json:"passes,omitempty"`
	Failures int `json:"failures,omitempty"`
}

// LowDataTests is the number of recorded tests below which a pass rate is
// flagged as unreliable.
const LowDataTests = 1000

// PassRate returns the percentage of recorded tests that passed. ok is false
// when no tests are recorded.
func (c Center) PassRate() (rate float64, ok bool) {
	total := c.Passes + c.Failures
	if total == 0 {
		return 0, false
	}
	return float64(c.Passes) / float64(total) * 100, true
}

// LowData reports whether fewer than LowDataTests results are recorded.
func (c Center) LowData() bool {
	return c.Passes+c.Failures < LowDataTests
}

// SlotResult is the availability observed for a center at ObservedAt.
// A nil Earliest means the upstream reported no available slot.
type SlotResult struct {
	Earliest   *time.Time  `json:"earliest,omitempty"`
	Available  []time.Time `json:"available,omitempty"`
	ObservedAt time.Time   `json:"observed_at"`
}

// NewSlotResult builds a SlotResult from a list of available start times.
// The list is sorted and de-duplicated; Earliest is its first element.
func NewSlotResult(available []time.Time, observedAt time.Time) SlotResult {
	slots := make([]time.Time, 0, len(available))
	slots = append(slots, available...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })

	deduped := slots[:0]
	for _, t := range slots {
		if n := len(deduped); n > 0 && t.Equal(deduped[n-1]) {
			continue
		}
		deduped = append(deduped, t)
	}

	r := SlotResult{ObservedAt: observedAt}
	if len(deduped) > 0 {
		first := deduped[0]
		r.Earliest = &first
		r.Available = deduped
	}
	return r
}

// HasSlot reports whether an earliest slot is known.
func (r SlotResult) HasSlot() bool {
	return r.Earliest != nil
}

// Equal reports whether two results describe the same availability.
// ObservedAt is ignored.
func (r SlotResult) Equal(o SlotResult) bool {
	if (r.Earliest == nil) != (o.Earliest == nil) {
		return false
	}
	if r.Earliest != nil && !r.Earliest.Equal(*o.Earliest) {
		return false
	}
	if len(r.Available) != len(o.Available) {
		return false
	}
	for i := range r.Available {
		if !r.Available[i].Equal(o.Available[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (r SlotResult) Clone() SlotResult {
	c := SlotResult{ObservedAt: r.ObservedAt}
	if r.Earliest != nil {
		e := *r.Earliest
		c.Earliest = &e
	}
	if len(r.Available) > 0 {
		c.Available = append([]time.Time(nil), r.Available...)
	}
	return c
}
