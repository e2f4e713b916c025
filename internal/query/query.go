// Package query answers reads against the snapshot cache, joining each
// center's metadata with its current availability.
package query

import (
	"cmp"
	"slices"
	"time"

	"github.com/slotwatch/slotwatch/internal/models"
	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/scheduler"
	"github.com/slotwatch/slotwatch/internal/snapshot"
)

// Catalog is the set of registered centers.
type Catalog interface {
	Centers() []models.Center
	Get(id string) (models.Center, bool)
}

// Store is the read side of the snapshot cache.
type Store interface {
	Read(id string) (snapshot.CenterSnapshot, bool)
	ReadAll() snapshot.View
	Generation() uint64
}

// Refresher accepts manual refresh requests.
type Refresher interface {
	RequestRefresh(id string) scheduler.RefreshStatus
}

// CenterView is a center joined with its current snapshot. Coordinates are
// returned raw; distance ordering is left to the caller.
type CenterView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Passes   int      `json:"passes"`
	Failures int      `json:"failures"`
	PassRate *float64 `json:"pass_rate,omitempty"`
	LowData  bool     `json:"low_data"`

	LatestSlot     *time.Time  `json:"latest_slot"`
	AvailableSlots []time.Time `json:"available_slots,omitempty"`
	ObservedAt     *time.Time  `json:"observed_at,omitempty"`

	Freshness           snapshot.Freshness `json:"freshness"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastError           string             `json:"last_error,omitempty"`
	LastErrorCode       string             `json:"last_error_code,omitempty"`
	Unconfirmed         bool               `json:"unconfirmed"`
	Version             uint64             `json:"version"`

	// CenterGeneration is the global generation of this center's last write;
	// Generation is the global counter when the view was read.
	CenterGeneration uint64 `json:"center_generation"`
	Generation       uint64 `json:"generation"`
}

// HasSlot reports whether an earliest slot is known.
func (v CenterView) HasSlot() bool {
	return v.LatestSlot != nil
}

// Service is a stateless read facade. It holds no state of its own, so one
// instance may be shared by any number of callers.
type Service struct {
	catalog   Catalog
	store     Store
	refresher Refresher
}

// New creates a Service. refresher may be nil, in which case RequestRefresh
// reports an error for known centers.
func New(catalog Catalog, store Store, refresher Refresher) *Service {
	return &Service{catalog: catalog, store: store, refresher: refresher}
}

// List returns every center in registration order. Failures of individual
// centers never fail the listing; they show up in each view's freshness.
func (s *Service) List() []CenterView {
	view := s.store.ReadAll()
	snaps := make(map[string]snapshot.CenterSnapshot, len(view.Centers))
	for _, snap := range view.Centers {
		snaps[snap.CenterID] = snap
	}

	centers := s.catalog.Centers()
	out := make([]CenterView, 0, len(centers))
	for _, c := range centers {
		out = append(out, join(c, snaps[c.ID], view.Generation))
	}
	return out
}

// Get returns one center, or a not_found error.
func (s *Service) Get(id string) (CenterView, error) {
	c, ok := s.catalog.Get(id)
	if !ok {
		return CenterView{}, notFound(id)
	}
	snap, _ := s.store.Read(id)
	return join(c, snap, s.store.Generation()), nil
}

// RequestRefresh asks for an immediate refresh of one center.
func (s *Service) RequestRefresh(id string) (scheduler.RefreshStatus, error) {
	if _, ok := s.catalog.Get(id); !ok {
		return scheduler.NotFound, notFound(id)
	}
	if s.refresher == nil {
		return scheduler.NotFound, output.ErrInternal("refreshes are not running")
	}
	status := s.refresher.RequestRefresh(id)
	if status == scheduler.NotFound {
		return status, notFound(id)
	}
	return status, nil
}

// FindBefore returns centers whose earliest known slot is strictly before
// before, ordered by slot time then id. A zero before matches any slot.
// ids restricts the search; unknown ids are ignored.
func (s *Service) FindBefore(before time.Time, ids []string) []CenterView {
	var candidates []CenterView
	if len(ids) == 0 {
		candidates = s.List()
	} else {
		for _, id := range ids {
			if v, err := s.Get(id); err == nil {
				candidates = append(candidates, v)
			}
		}
	}

	var out []CenterView
	seen := make(map[string]bool, len(candidates))
	for _, v := range candidates {
		if seen[v.ID] || !v.HasSlot() {
			continue
		}
		seen[v.ID] = true
		if before.IsZero() || v.LatestSlot.Before(before) {
			out = append(out, v)
		}
	}

	slices.SortFunc(out, func(a, b CenterView) int {
		if c := a.LatestSlot.Compare(*b.LatestSlot); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Generation returns the cache's global generation counter.
func (s *Service) Generation() uint64 {
	return s.store.Generation()
}

func notFound(id string) *output.Error {
	return output.ErrNotFoundHint("center", id, "Run: slotwatch centers list")
}

func join(c models.Center, snap snapshot.CenterSnapshot, generation uint64) CenterView {
	v := CenterView{
		ID:                  c.ID,
		Name:                c.Name,
		Address:             c.Address,
		Latitude:            c.Latitude,
		Longitude:           c.Longitude,
		Passes:              c.Passes,
		Failures:            c.Failures,
		LowData:             c.LowData(),
		Freshness:           snap.Freshness,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		Unconfirmed:         snap.Unconfirmed,
		Version:             snap.Version,
		CenterGeneration:    snap.Generation,
		Generation:          generation,
	}
	if rate, ok := c.PassRate(); ok {
		v.PassRate = &rate
	}
	if snap.LastError != nil {
		v.LastError = snap.LastError.Error()
		v.LastErrorCode = snap.LastError.Code
	}
	if snap.Slot != nil {
		observed := snap.Slot.ObservedAt
		v.ObservedAt = &observed
		if snap.Slot.Earliest != nil {
			earliest := *snap.Slot.Earliest
			v.LatestSlot = &earliest
		}
		v.AvailableSlots = slices.Clone(snap.Slot.Available)
	}
	return v
}
