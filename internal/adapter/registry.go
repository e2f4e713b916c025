package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/slotwatch/slotwatch/internal/models"
	"github.com/slotwatch/slotwatch/internal/resilience"
)

// RequestObserver receives upstream request lifecycle events.
type RequestObserver interface {
	OnRequestStart(ctx context.Context, method, url string)
	OnRequestEnd(ctx context.Context, method, url string, status int, duration time.Duration, err error)
}

// Deps holds the shared collaborators handed to every adapter factory.
type Deps struct {
	HTTPClient *http.Client
	Limiter    *resilience.RateLimiter
	Observer   RequestObserver
	Now        func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Factory builds an Adapter from a center's adapter spec.
// Returning an error rejects the configuration at startup.
type Factory func(spec models.AdapterSpec, deps Deps) (Adapter, error)

// Registry maps adapter kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindJSONQuery, newJSONQuery)
	r.Register(KindStatic, newStatic)
	r.Register(KindClosed, newClosed)
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build constructs the adapter described by spec.
func (r *Registry) Build(spec models.AdapterSpec, deps Deps) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter kind %q (available: %v)", spec.Kind, r.Kinds())
	}
	a, err := f(spec, deps)
	if err != nil {
		return nil, fmt.Errorf("%s adapter: %w", spec.Kind, err)
	}
	return a, nil
}

// Kinds returns the registered adapter kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
