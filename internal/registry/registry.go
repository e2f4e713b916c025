// Package registry holds the fixed set of centers and their adapters.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/models"
)

// ErrNoCenters is returned when the configuration lists no centers.
var ErrNoCenters = errors.New("no centers configured")

// Registry is the immutable list of centers built at startup.
type Registry struct {
	centers  []models.Center
	byID     map[string]int
	adapters map[string]adapter.Adapter
}

// Load validates the configured centers and binds each to its adapter.
// Any problem is fatal: the returned error lists every invalid center.
func Load(cfg *config.Config, adapters *adapter.Registry, deps adapter.Deps) (*Registry, error) {
	if len(cfg.Centers) == 0 {
		return nil, ErrNoCenters
	}

	r := &Registry{
		byID:     make(map[string]int, len(cfg.Centers)),
		adapters: make(map[string]adapter.Adapter, len(cfg.Centers)),
	}

	var errs []error
	for i, cc := range cfg.Centers {
		c, err := toCenter(cc, cfg.RefreshInterval)
		if err != nil {
			errs = append(errs, fmt.Errorf("center #%d: %w", i+1, err))
			continue
		}
		if _, dup := r.byID[c.ID]; dup {
			errs = append(errs, fmt.Errorf("center %q: duplicate id", c.ID))
			continue
		}
		a, err := adapters.Build(c.Adapter, deps)
		if err != nil {
			errs = append(errs, fmt.Errorf("center %q: %w", c.ID, err))
			continue
		}
		r.byID[c.ID] = len(r.centers)
		r.centers = append(r.centers, c)
		r.adapters[c.ID] = a
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func toCenter(cc config.CenterConfig, fallback time.Duration) (models.Center, error) {
	id := strings.TrimSpace(cc.ID)
	if id == "" {
		return models.Center{}, errors.New("missing id")
	}
	if cc.Latitude < -90 || cc.Latitude > 90 {
		return models.Center{}, fmt.Errorf("center %q: latitude %v out of range", id, cc.Latitude)
	}
	if cc.Longitude < -180 || cc.Longitude > 180 {
		return models.Center{}, fmt.Errorf("center %q: longitude %v out of range", id, cc.Longitude)
	}
	if cc.Passes < 0 || cc.Failures < 0 {
		return models.Center{}, fmt.Errorf("center %q: passes and failures must not be negative", id)
	}
	if cc.Adapter.Kind == "" {
		return models.Center{}, fmt.Errorf("center %q: missing adapter kind", id)
	}

	interval := time.Duration(cc.RefreshInterval)
	if interval <= 0 {
		interval = fallback
	}
	name := cc.Name
	if name == "" {
		name = id
	}
	return models.Center{
		ID:              id,
		Name:            name,
		Address:         cc.Address,
		Latitude:        cc.Latitude,
		Longitude:       cc.Longitude,
		RefreshInterval: interval,
		Adapter:         cc.Adapter,
		Passes:          cc.Passes,
		Failures:        cc.Failures,
	}, nil
}

// Centers returns the centers in configuration order.
func (r *Registry) Centers() []models.Center {
	out := make([]models.Center, len(r.centers))
	copy(out, r.centers)
	return out
}

// Get returns the center with the given id.
func (r *Registry) Get(id string) (models.Center, bool) {
	i, ok := r.byID[id]
	if !ok {
		return models.Center{}, false
	}
	return r.centers[i], true
}

// Adapter returns the adapter bound to a center.
func (r *Registry) Adapter(id string) (adapter.Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Len returns the number of centers.
func (r *Registry) Len() int {
	return len(r.centers)
}

// IDs returns center ids in configuration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.centers))
	for i, c := range r.centers {
		ids[i] = c.ID
	}
	return ids
}
