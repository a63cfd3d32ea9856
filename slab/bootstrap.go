package slab

import (
	"unsafe"

	"github.com/nyxkernel/vmem/arena"
	"github.com/nyxkernel/vmem/internal/klog"
	"github.com/nyxkernel/vmem/pages"
)

// The original allocator bootstraps itself from three static caches —
// kmem_cache, kmem_slab, kmem_bufctl — because kmem_cache_create needs
// a kmem_cache_t to describe the cache it's creating, a slab_t to track
// the first slab it grows, and (for large objects) a bufctl_t to back
// every slot, and none of those structs has anywhere else to come from
// before the allocator exists. Go's heap has no such chicken-and-egg
// problem: slabRecord and bufctl values here are ordinary
// garbage-collected structs allocated with make/new like anything else,
// so Bootstrap below exists only to keep the three-cache shape a
// diagnostic dump can still report on, not to break a real circular
// dependency.
type Bootstrap struct {
	CacheCache  *Cache
	SlabCache   *Cache
	BufctlCache *Cache
}

// NewBootstrap registers the three bookkeeping caches every other
// kmem cache's metadata is conceptually drawn from, sized for the
// structs this package itself uses.
func NewBootstrap(pageArena *arena.Arena, mem *pages.Allocator, log *klog.Logger) (*Bootstrap, error) {
	cacheCache, err := New(Config{
		Name: "kmem_cache", ObjSize: unsafe.Sizeof(Cache{}), Align: 8,
		PageArena: pageArena, Mem: mem, Log: log,
	})
	if err != nil {
		return nil, err
	}
	slabCache, err := New(Config{
		Name: "kmem_slab", ObjSize: unsafe.Sizeof(slabRecord{}), Align: 8,
		PageArena: pageArena, Mem: mem, Log: log,
	})
	if err != nil {
		return nil, err
	}
	bufctlCache, err := New(Config{
		Name: "kmem_bufctl", ObjSize: unsafe.Sizeof(bufctl{}), Align: 8,
		PageArena: pageArena, Mem: mem, Log: log,
	})
	if err != nil {
		return nil, err
	}
	return &Bootstrap{CacheCache: cacheCache, SlabCache: slabCache, BufctlCache: bufctlCache}, nil
}
