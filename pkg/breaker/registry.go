package breaker

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Registry hands out one shared Breaker per operation name.
type Registry struct {
	defaults  Config
	overrides map[string]Config
	opts      options

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use cfg unless a
// per-name override is registered with Configure.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{
		defaults:  cfg.withDefaults(),
		overrides: make(map[string]Config),
		opts:      buildOptions(opts),
		breakers:  make(map[string]*Breaker),
	}
}

// Configure sets the configuration used for name. Names ending in ":"
// act as prefixes, e.g. "upstream:" applies to every upstream breaker.
// It has no effect on breakers already created.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = cfg.withDefaults()
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, r.configFor(name), r.opts)
	r.breakers[name] = b
	return b
}

// configFor must be called with r.mu held.
func (r *Registry) configFor(name string) Config {
	if cfg, ok := r.overrides[name]; ok {
		return cfg
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		if cfg, ok := r.overrides[name[:i+1]]; ok {
			return cfg
		}
	}
	return r.defaults
}

// Execute runs fn through the breaker named name.
func (r *Registry) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	return r.Get(name).Execute(ctx, fn)
}

// Snapshot returns the stats of every breaker, sorted by name.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(list))
	for _, b := range list {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Reset closes the named breaker if it exists. It reports whether it was found.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		b.Reset()
	}
	return ok
}
