package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Descriptor registers an engine family.
type Descriptor struct {
	Name     string
	Delivery Delivery
	// Priority orders probing in Detect, highest first.
	Priority int
	// Probe reports whether dir holds an installation of this family.
	Probe func(dir string) bool
	New   Factory
	// Installer supplies device hooks for intercept families.
	Installer func(dir string) (Installer, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Descriptor)
)

func Register(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if d.New == nil {
		panic("engine: Register factory is nil")
	}
	if _, dup := registry[d.Name]; dup {
		panic("engine: Register called twice for " + d.Name)
	}
	registry[d.Name] = d
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (Descriptor, error) {
	registryMu.RLock()
	d, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("engine: unknown backend %q (registered: %v): %w", name, ListBackends(), ErrUnsupportedEngine)
	}
	return d, nil
}

// Detect probes dir against every registered family.
func Detect(dir string) (Descriptor, error) {
	registryMu.RLock()
	candidates := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		if d.Probe != nil {
			candidates = append(candidates, d)
		}
	}
	registryMu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Name < candidates[j].Name
	})
	for _, d := range candidates {
		if d.Probe(dir) {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("engine: no backend found in %q: %w", dir, ErrUnsupportedEngine)
}

func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
