package module

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"ferron/internal/config"
)

// Registry holds every built-in Loader, keyed by the name it registers
// under (e.g. "core", "cache", "reverse_proxy", "fcgi", "forward_auth").
// Registration happens at process init via Register; lookups happen
// once per block during graph build.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry returns an empty Registry. Built-in modules register
// themselves against it from the server's composition root, not via a
// package-level global, so tests can build a Registry with only the
// loaders they need.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register adds loader under name, replacing any previous registration
// under the same name (used by tests that stub a built-in loader).
func (r *Registry) Register(name string, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[name] = loader
}

// Get returns the loader registered under name, if any.
func (r *Registry) Get(name string) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[name]
	return l, ok
}

// Names returns every registered loader name, sorted, for deterministic
// requirement-matching order during graph build.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveLoaders returns, in registry-name order, every Loader whose
// Requirements() intersect block's declared property names — the
// "triggers for activation" spec.md §4.2 describes.
func (r *Registry) ActiveLoaders(block *config.Block) []Loader {
	loaders, _ := r.activeLoaders(block)
	return loaders
}

// ActiveLoaderNames returns the registry name of every active loader,
// index-aligned with ActiveLoaders, so callers (the request pipeline)
// can key the module-cache by registration name without requiring
// every Loader to also implement Module's Name().
func (r *Registry) ActiveLoaderNames(block *config.Block) []string {
	_, names := r.activeLoaders(block)
	return names
}

func (r *Registry) activeLoaders(block *config.Block) ([]Loader, []string) {
	propNames := block.PropertyNames()
	present := make(map[string]bool, len(propNames))
	for _, n := range propNames {
		present[n] = true
	}

	var active []Loader
	var names []string
	for _, regName := range r.Names() {
		loader, _ := r.Get(regName)
		reqs := loader.Requirements()
		// An empty Requirements() list means the loader has no
		// activation trigger of its own and always participates — the
		// built-in core module's case (spec.md §4.4: "every
		// installation needs" it, not just blocks naming a property).
		if len(reqs) == 0 {
			active = append(active, loader)
			names = append(names, regName)
			continue
		}
		for _, req := range reqs {
			if present[req] {
				active = append(active, loader)
				names = append(names, regName)
				break
			}
		}
	}
	return active, names
}

// Cache is the module-cache spec.md §3 describes: loaded Module
// instances keyed by their owning block's structural hash, so a reload
// that reuses an unchanged block reuses its module instance (and, for
// the cache module, its contents) instead of rebuilding it.
type Cache struct {
	mu    sync.Mutex
	byKey map[cacheKey]Module
}

type cacheKey struct {
	loaderName string
	structHash uint64
}

// NewCache returns an empty module-cache.
func NewCache() *Cache {
	return &Cache{byKey: make(map[cacheKey]Module)}
}

// GetOrLoad returns the cached Module for (loaderName, block's
// structural hash) if one exists, otherwise calls loader.LoadModule,
// caches the result, and returns it.
func (c *Cache) GetOrLoad(loaderName string, block, global *config.Block, loader Loader) (Module, error) {
	key := cacheKey{loaderName: loaderName, structHash: block.StructuralHash()}

	c.mu.Lock()
	if m, ok := c.byKey[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	m, err := loader.LoadModule(block, global)
	if err != nil {
		return nil, errors.Wrapf(err, "load module %q", loaderName)
	}

	c.mu.Lock()
	c.byKey[key] = m
	c.mu.Unlock()
	return m, nil
}

// Prune closes and evicts every cached Module whose key is not present
// in keep, called once per reload after the new ConfigGraph is built so
// instances belonging to blocks that no longer exist release their
// resources (proxy pools, cache contents, file handles).
func (c *Cache) Prune(keep func(loaderName string, structHash uint64) bool) []error {
	c.mu.Lock()
	var stale []cacheKey
	for key := range c.byKey {
		if !keep(key.loaderName, key.structHash) {
			stale = append(stale, key)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, key := range stale {
		c.mu.Lock()
		m := c.byKey[key]
		delete(c.byKey, key)
		c.mu.Unlock()
		if m != nil {
			if err := m.Close(); err != nil {
				errs = append(errs, errors.Wrapf(err, "close module %q", key.loaderName))
			}
		}
	}
	return errs
}

// Len reports the number of cached module instances, used by tests and
// diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}
