package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// The registry is the only process-wide singleton: populated during startup,
// read-only afterwards.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]Runtime)
)

// Register adds a runtime under its name. Later registrations of the same
// name replace earlier ones, so tests can swap in fakes.
func Register(rt Runtime) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[rt.Name()] = rt
}

// Get returns the named runtime.
func Get(name string) (Runtime, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	rt, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("runtime %q not registered (have: %v)", name, names())
	}
	return rt, nil
}

func names() []string {
	var out []string
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
