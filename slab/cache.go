package slab

import (
	"sync"

	"github.com/nyxkernel/vmem/arena"
	"github.com/nyxkernel/vmem/internal/kerr"
	"github.com/nyxkernel/vmem/internal/klog"
	"github.com/nyxkernel/vmem/pages"
)

// LargeCutoff is SLAB_LARGE_CUTOFF: caches whose (link-word-adjusted)
// slot size exceeds this use the large-object layout.
const LargeCutoff = pages.PageSize / 8

// Ctor initializes a freshly grown object's backing memory.
type Ctor func(buf []byte)

// Dtor tears one down before its backing memory is released.
type Dtor func(buf []byte)

// Config describes a new cache.
type Config struct {
	Name      string
	ObjSize   uintptr
	Align     uintptr
	Ctor      Ctor
	Dtor      Dtor
	PageArena *arena.Arena     // page-granular arena this cache grows from
	Mem       *pages.Allocator // backing memory, for raw buffer views
	Log       *klog.Logger
}

// Cache is a named collection of equal-sized object slabs, front end
// to kmem_cache_alloc/free/reap/destroy.
type Cache struct {
	mu sync.Mutex

	name     string
	objSize  uintptr
	align    uintptr
	slotSize uintptr
	large    bool
	order    uint // page-run order for large slabs
	numTotal uint

	ctor Ctor
	dtor Dtor

	pageArena *arena.Arena
	mem       *pages.Allocator

	empty, partial, full slabList

	smallByPage  map[uintptr]*slabRecord
	bufctlByAddr map[uintptr]*bufctl

	nrCurAlloc uintptr
	log        *klog.Logger
}

// New creates a cache. It does not grow until the first Alloc.
func New(cfg Config) (*Cache, error) {
	if cfg.ObjSize == 0 {
		panic(kerr.Fatalf("slab: zero object size", map[string]any{"name": cfg.Name}))
	}
	if cfg.Align == 0 {
		cfg.Align = 8
	}
	if cfg.PageArena == nil || cfg.Mem == nil {
		panic(kerr.Fatalf("slab: cache requires a page arena and backing memory", map[string]any{"name": cfg.Name}))
	}
	log := cfg.Log
	if log == nil {
		log = klog.Default("slab." + cfg.Name)
	}

	slotSize := roundUp(cfg.ObjSize+linkWordSize, cfg.Align)
	c := &Cache{
		name:         cfg.Name,
		objSize:      cfg.ObjSize,
		align:        cfg.Align,
		slotSize:     slotSize,
		large:        slotSize > LargeCutoff,
		ctor:         cfg.Ctor,
		dtor:         cfg.Dtor,
		pageArena:    cfg.PageArena,
		mem:          cfg.Mem,
		smallByPage:  make(map[uintptr]*slabRecord),
		bufctlByAddr: make(map[uintptr]*bufctl),
		log:          log,
	}
	if c.large {
		needed := bufsPerLargeSlab * slotSize
		pagesNeeded := (needed + pages.PageSize - 1) / pages.PageSize
		c.order = log2Ceil(pagesNeeded)
		c.numTotal = uint(((pages.PageSize << c.order) / slotSize))
	} else {
		c.numTotal = uint(pages.PageSize / slotSize)
	}
	registryAdd(c)
	return c, nil
}

func roundUp(n, mult uintptr) uintptr {
	return (n + mult - 1) &^ (mult - 1)
}

// log2Ceil returns the smallest k with 2^k >= n, n > 0.
func log2Ceil(n uintptr) uint {
	k := uint(0)
	for (uintptr(1) << k) < n {
		k++
	}
	return k
}

// Name returns the cache's diagnostic name.
func (c *Cache) Name() string { return c.name }

// ObjSize returns the caller-visible object size.
func (c *Cache) ObjSize() uintptr { return c.objSize }

// slabByteSize returns how many bytes of page-arena address space one
// slab of this cache consumes.
func (c *Cache) slabByteSize() uintptr {
	return uintptr(pages.PageSize) << c.order
}

// growSlab pulls a fresh slab from the page arena, fully initializes
// its slot bookkeeping and free list, runs constructors, and files it
// on the empty list.
func (c *Cache) growSlab(flags arena.Flags) (*slabRecord, error) {
	base, err := c.pageArena.Alloc(c.slabByteSize(), flags)
	if err != nil {
		return nil, err
	}
	rec := &slabRecord{base: base, order: c.order, numTotal: c.numTotal}

	if c.large {
		rec.bufctls = make([]*bufctl, 0, c.numTotal)
		rec.freeBufctls = make([]*bufctl, 0, c.numTotal)
		for i := uint(0); i < c.numTotal; i++ {
			bc := &bufctl{bufAddr: base + uintptr(i)*c.slotSize, slab: rec}
			rec.bufctls = append(rec.bufctls, bc)
			rec.freeBufctls = append(rec.freeBufctls, bc)
			c.bufctlByAddr[bc.bufAddr] = bc
		}
	} else {
		rec.freeSmall = make([]uintptr, 0, c.numTotal)
		for i := uint(0); i < c.numTotal; i++ {
			rec.freeSmall = append(rec.freeSmall, base+uintptr(i)*c.slotSize)
		}
		c.smallByPage[base] = rec
	}

	if c.ctor != nil {
		for _, addr := range c.slotAddrs(rec) {
			c.ctor(c.mem.Bytes(addr, c.objSize))
		}
	}
	c.empty.pushFront(rec)
	return rec, nil
}

func (c *Cache) slotAddrs(rec *slabRecord) []uintptr {
	addrs := make([]uintptr, 0, rec.numTotal)
	if c.large {
		for _, bc := range rec.bufctls {
			addrs = append(addrs, bc.bufAddr)
		}
	} else {
		for i := uint(0); i < rec.numTotal; i++ {
			addrs = append(addrs, rec.base+uintptr(i)*c.slotSize)
		}
	}
	return addrs
}

// Alloc pops a slot from the partial list's head slab, promoting an
// empty slab (growing one if needed) when the partial list is bare.
func (c *Cache) Alloc(flags arena.Flags) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.partial.head
	if rec == nil {
		if c.empty.head == nil {
			if _, err := c.growSlab(flags); err != nil {
				if flags.ErrorOK() || flags.IsAtomic() {
					return nil, err
				}
				c.log.Fatal("slab cache out of memory", klog.String("cache", c.name), klog.Err(err))
			}
		}
		rec = c.empty.head
		c.empty.remove(rec)
		c.partial.pushFront(rec)
	}

	var addr uintptr
	if c.large {
		last := len(rec.freeBufctls) - 1
		bc := rec.freeBufctls[last]
		rec.freeBufctls = rec.freeBufctls[:last]
		addr = bc.bufAddr
	} else {
		last := len(rec.freeSmall) - 1
		addr = rec.freeSmall[last]
		rec.freeSmall = rec.freeSmall[:last]
	}

	rec.numBusy++
	if rec.numBusy == rec.numTotal {
		c.partial.remove(rec)
		c.full.pushFront(rec)
	}
	c.nrCurAlloc++
	return c.mem.Bytes(addr, c.objSize), nil
}

// Free returns buf, found by page-aligned arithmetic for a small-slab
// buffer or by bufctl lookup for a large-slab one.
func (c *Cache) Free(buf []byte) error {
	addr := bufAddr(buf)

	c.mu.Lock()
	defer c.mu.Unlock()

	var rec *slabRecord
	if c.large {
		bc, ok := c.bufctlByAddr[addr]
		if !ok {
			return kerr.Wrap(kerr.ErrUnknownSegment, "slab: free of address not owned by this cache")
		}
		rec = bc.slab
		rec.freeBufctls = append(rec.freeBufctls, bc)
	} else {
		pageBase := addr &^ (uintptr(pages.PageSize) - 1)
		r, ok := c.smallByPage[pageBase]
		if !ok {
			return kerr.Wrap(kerr.ErrUnknownSegment, "slab: free of address not owned by this cache")
		}
		rec = r
		rec.freeSmall = append(rec.freeSmall, addr)
	}

	wasFull := rec.numBusy == rec.numTotal
	rec.numBusy--
	c.nrCurAlloc--

	switch {
	case wasFull:
		c.full.remove(rec)
		if rec.numBusy == 0 {
			c.empty.pushFront(rec)
		} else {
			c.partial.pushFront(rec)
		}
	case rec.numBusy == 0:
		c.partial.remove(rec)
		c.empty.pushFront(rec)
	}
	return nil
}

// Reap destroys every slab currently on the empty list.
func (c *Cache) Reap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reapLocked()
}

func (c *Cache) reapLocked() {
	for rec := c.empty.head; rec != nil; {
		next := rec.next
		c.destroySlabLocked(rec)
		rec = next
	}
	c.empty.head = nil
}

func (c *Cache) destroySlabLocked(rec *slabRecord) {
	if c.dtor != nil {
		for _, addr := range c.slotAddrs(rec) {
			c.dtor(c.mem.Bytes(addr, c.objSize))
		}
	}
	if c.large {
		for _, bc := range rec.bufctls {
			delete(c.bufctlByAddr, bc.bufAddr)
		}
	} else {
		delete(c.smallByPage, rec.base)
	}
	c.pageArena.Free(rec.base)
}

// Destroy reaps the cache and unregisters it. The full and partial
// lists must already be empty: every outstanding object must have
// been freed first. Reap only ever touches the empty list, so this
// does not itself wait for or reclaim live allocations.
func (c *Cache) Destroy() error {
	c.mu.Lock()
	if !c.full.empty() || !c.partial.empty() {
		c.mu.Unlock()
		return kerr.Wrap(kerr.ErrCacheNotEmpty, "slab: cache destroyed with non-empty partial/full slabs")
	}
	c.reapLocked()
	c.mu.Unlock()
	registryRemove(c)
	return nil
}
