package slab

import (
	"sort"
	"sync"
)

// registry tracks every live cache process-wide, kept ordered by object
// size the way the debug server wants to list them ("smallest caches
// first" is how a kernel's /proc/slabinfo analogue reads).
type registryT struct {
	mu     sync.RWMutex
	byName map[string]*Cache
	sorted []*Cache
}

var globalRegistry = &registryT{byName: make(map[string]*Cache)}

func registryAdd(c *Cache) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.byName[c.name] = c
	idx := sort.Search(len(globalRegistry.sorted), func(i int) bool {
		return globalRegistry.sorted[i].objSize >= c.objSize
	})
	globalRegistry.sorted = append(globalRegistry.sorted, nil)
	copy(globalRegistry.sorted[idx+1:], globalRegistry.sorted[idx:])
	globalRegistry.sorted[idx] = c
}

func registryRemove(c *Cache) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	delete(globalRegistry.byName, c.name)
	for i, cached := range globalRegistry.sorted {
		if cached == c {
			globalRegistry.sorted = append(globalRegistry.sorted[:i], globalRegistry.sorted[i+1:]...)
			break
		}
	}
}

// Lookup returns the live cache registered under name, if any.
func Lookup(name string) (*Cache, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	c, ok := globalRegistry.byName[name]
	return c, ok
}

// All returns a snapshot slice of every currently-registered cache,
// ordered from smallest to largest object size.
func All() []*Cache {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	out := make([]*Cache, len(globalRegistry.sorted))
	copy(out, globalRegistry.sorted)
	return out
}
