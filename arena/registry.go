package arena

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// registry tracks every live arena process-wide for diagnostics (the
// debug server walks it to answer "list all arenas"). A bloom filter
// gives a fast negative answer for "have we ever seen this arena
// name" probes before the map is consulted.
type registryT struct {
	mu     sync.RWMutex
	byName map[string]*Arena
	seen   *bloom.BloomFilter
}

var globalRegistry = newRegistry()

func newRegistry() *registryT {
	return &registryT{
		byName: make(map[string]*Arena),
		seen:   bloom.NewWithEstimates(1024, 0.01),
	}
}

func registryAdd(a *Arena) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.byName[a.name] = a
	globalRegistry.seen.AddString(a.name)
}

func registryRemove(a *Arena) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	delete(globalRegistry.byName, a.name)
}

// Lookup returns the live arena registered under name, if any. Under
// the read lock, the bloom filter is checked before the map, so a name
// that was never registered is rejected without a map lookup.
func Lookup(name string) (*Arena, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	if !globalRegistry.seen.TestString(name) {
		return nil, false
	}
	a, ok := globalRegistry.byName[name]
	return a, ok
}

// All returns a snapshot slice of every currently-registered arena.
func All() []*Arena {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	out := make([]*Arena, 0, len(globalRegistry.byName))
	for _, a := range globalRegistry.byName {
		out = append(out, a)
	}
	return out
}
