// Package arena implements a vmem-style segregated-fit arena
// allocator: boundary-tag bookkeeping over an address range, pluggable
// fit policies, and source/sink span import so arenas can be stacked
// into a hierarchy the way kernel page, virtual-address, and per-CPU
// object allocators are in the system this design is grounded on.
package arena

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/nyxkernel/vmem/internal/kerr"
	"github.com/nyxkernel/vmem/internal/klog"
	"github.com/nyxkernel/vmem/internal/xhash"
)

const (
	// NumFreeLists buckets free segments by floor(log2(size)); 64
	// covers every size a 64-bit address space can express.
	NumFreeLists = 64
	// NumHashLists is the (intentionally static, never resized) width
	// of the allocated-segment hash table.
	NumHashLists = 193
	// MaxName is the diagnostic-name width of the original arena
	// record. New neither truncates nor rejects longer names.
	MaxName = 32
)

// ImportFunc pulls a span of at least size bytes from source, honoring
// flags' memory-behavior bits. It returns the span's base and true, or
// false if source could not satisfy the request.
type ImportFunc func(source *Arena, size uintptr, flags Flags) (uintptr, bool)

// ExportFunc returns a span previously obtained from ImportFunc back
// to source. Called with the arena's own lock NOT held.
type ExportFunc func(source *Arena, base uintptr, size uintptr)

// Config describes a new arena. At most one of (Size > 0) or Source
// may be set: a span-backed arena owns its own base memory, an
// imported arena pulls spans from a parent on demand, and an arena
// with neither starts empty and grows only through AddSpan.
type Config struct {
	Name       string
	Quantum    uintptr
	Base       uintptr
	Size       uintptr
	Source     *Arena
	Import     ImportFunc
	Export     ExportFunc
	QCacheMax  uintptr
	Log        *klog.Logger
}

// Arena is one segregated-fit address range, optionally backed by
// imports from a parent arena.
type Arena struct {
	mu sync.Mutex

	name    string
	quantum uintptr
	isBase  bool

	source    *Arena
	importFn  ImportFunc
	exportFn  ExportFunc
	qcacheMax uintptr

	root     *boundaryTag // all_segs, ordered by start
	freeSegs [NumFreeLists]btagList
	allocHash [NumHashLists]btagList
	unused   btagList

	amtTotalSegs uintptr
	amtAllocSegs uintptr
	nrAllocs     uintptr
	nrSegs       uintptr

	nextfitCursor uintptr
	haveCursor    bool

	hasher  *xhash.Hasher
	breaker *gobreaker.CircuitBreaker[importedSpan]
	log     *klog.Logger
}

type importedSpan struct {
	base uintptr
	size uintptr
}

// New creates an arena per cfg. A span-backed arena (Size > 0) adds
// that span immediately; an imported arena starts empty and pulls
// spans lazily on first allocation.
func New(cfg Config) (*Arena, error) {
	if cfg.Source != nil && cfg.Size > 0 {
		panic(kerr.Fatalf("arena: both a base span and a source were supplied", map[string]any{
			"name": cfg.Name, "size": cfg.Size,
		}))
	}
	if cfg.Quantum == 0 {
		cfg.Quantum = 1
	}
	if !isPowerOfTwo(cfg.Quantum) {
		panic(kerr.Fatalf("arena: quantum must be a power of two", map[string]any{
			"name": cfg.Name, "quantum": cfg.Quantum,
		}))
	}
	log := cfg.Log
	if log == nil {
		log = klog.Default("arena." + cfg.Name)
	}

	a := &Arena{
		name:      cfg.Name,
		quantum:   cfg.Quantum,
		isBase:    cfg.Source == nil,
		source:    cfg.Source,
		importFn:  cfg.Import,
		exportFn:  cfg.Export,
		qcacheMax: cfg.QCacheMax,
		hasher:    xhash.New(),
		log:       log,
	}
	if cfg.Source != nil && cfg.Import != nil {
		a.breaker = gobreaker.NewCircuitBreaker[importedSpan](gobreaker.Settings{
			Name: fmt.Sprintf("arena-import-%s", cfg.Name),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	registryAdd(a)

	if cfg.Size > 0 {
		if err := a.AddSpan(cfg.Base, cfg.Size); err != nil {
			registryRemove(a)
			return nil, err
		}
	}
	return a, nil
}

// Destroy releases an arena. All memory must already be free; a
// non-empty arena is a programmer error, matching the original's
// KASSERT(amt_alloc_segs == 0) precondition.
func (a *Arena) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.amtAllocSegs != 0 {
		return kerr.Wrap(kerr.ErrCacheNotEmpty, fmt.Sprintf("arena %q destroyed with outstanding allocations", a.name))
	}
	registryRemove(a)
	return nil
}

// Name returns the arena's diagnostic name.
func (a *Arena) Name() string { return a.name }

// Quantum returns the arena's allocation granularity.
func (a *Arena) Quantum() uintptr { return a.quantum }

func isPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// log2Floor returns floor(log2(n)) for n > 0.
func log2Floor(n uintptr) int {
	if n == 0 {
		return 0
	}
	return bits.Len64(uint64(n)) - 1
}

// log2Ceil returns ceil(log2(n)) for n > 0.
func log2Ceil(n uintptr) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(uint64(n - 1))
}

// roundUp rounds n up to the next multiple of mult (mult a power of two).
func roundUp(n, mult uintptr) uintptr {
	return (n + mult - 1) &^ (mult - 1)
}
