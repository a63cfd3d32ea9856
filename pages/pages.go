// Package pages stands in for the kernel's page allocator — the
// out-of-scope collaborator spec.md §1 describes as exposing
// "kpage_alloc, free_cont_pages, and a kva -> page mapping". In this
// module the whole region is handed to a base arena as one span, and
// slab caches obtain pages through the arena hierarchy built on it;
// a cache uses this package only for Bytes views of those addresses.
//
// A real kernel hands out physical frames it already owns. A userspace
// Go process has no frames of its own, so this package carves a single
// large anonymous mmap into fixed PageSize chunks and tracks occupancy
// with a bitset, which is the closest userspace analogue.
package pages

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sys/unix"
)

// PageSize matches the kernel source's PGSIZE.
const PageSize = 4096

// Allocator owns one contiguous mmap'd region, doled out page-at-a-time
// or as contiguous power-of-two runs.
type Allocator struct {
	mu         sync.Mutex
	region     []byte
	base       uintptr
	totalPages uint
	used       *bitset.BitSet
	nextScan   uint
}

// New mmaps totalPages worth of anonymous memory and returns an
// Allocator ready to serve kpage_alloc-style requests.
func New(totalPages uint) (*Allocator, error) {
	if totalPages == 0 {
		return nil, fmt.Errorf("pages: totalPages must be > 0")
	}
	length := int(totalPages) * PageSize
	region, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pages: mmap %d bytes: %w", length, err)
	}
	return &Allocator{
		region:     region,
		base:       uintptr(unsafe.Pointer(&region[0])),
		totalPages: totalPages,
		used:       bitset.New(totalPages),
	}, nil
}

// Close releases the backing mmap. Callers must not touch any kva
// handed out by this Allocator after Close.
func (a *Allocator) Close() error {
	return unix.Munmap(a.region)
}

// Base returns the kva of the first byte of the backing region, the
// address find_my_base-rooted bootstrap code anchors quantum alignment
// checks against.
func (a *Allocator) Base() uintptr { return a.base }

// TotalPages returns the number of PageSize chunks this Allocator owns.
func (a *Allocator) TotalPages() uint { return a.totalPages }

// Alloc hands back a single free page's kva, the kpage_alloc contract.
func (a *Allocator) Alloc() (uintptr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.findClearFrom(a.nextScan, 1)
	if !ok {
		return 0, false
	}
	a.used.Set(idx)
	a.nextScan = idx + 1
	return a.indexToKVA(idx), true
}

// AllocContig hands back the kva of 2^order contiguous free pages, the
// get_cont_pages contract for multi-page runs.
func (a *Allocator) AllocContig(order uint) (uintptr, bool) {
	run := uint(1) << order
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.findClearRun(run)
	if !ok {
		return 0, false
	}
	for i := uint(0); i < run; i++ {
		a.used.Set(idx + i)
	}
	return a.indexToKVA(idx), true
}

// Free returns a single page, the counterpart to Alloc.
func (a *Allocator) Free(kva uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.kvaToIndex(kva)
	if !ok {
		return fmt.Errorf("pages: free of out-of-range kva %#x", kva)
	}
	if !a.used.Test(idx) {
		return fmt.Errorf("pages: double free of kva %#x", kva)
	}
	a.used.Clear(idx)
	return nil
}

// FreeCont returns 2^order contiguous pages starting at kva, the
// free_cont_pages contract.
func (a *Allocator) FreeCont(kva uintptr, order uint) error {
	run := uint(1) << order
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.kvaToIndex(kva)
	if !ok {
		return fmt.Errorf("pages: free_cont of out-of-range kva %#x", kva)
	}
	for i := uint(0); i < run; i++ {
		if !a.used.Test(idx + i) {
			return fmt.Errorf("pages: free_cont double free at kva %#x", kva)
		}
	}
	for i := uint(0); i < run; i++ {
		a.used.Clear(idx + i)
	}
	return nil
}

// Bytes returns the live, read/writable backing memory for [kva,
// kva+size), the view slab object constructors, destructors, and
// callers need into whatever address an arena built on this Allocator
// handed out. The slice aliases the Allocator's mmap directly.
func (a *Allocator) Bytes(kva uintptr, size uintptr) []byte {
	off := kva - a.base
	return a.region[off : off+size]
}

// KVA2Index is the kva2page contract, returning a stable page index
// (the Go analogue of a `struct page *`) for reverse-mapping a buffer
// back to its owning page.
func (a *Allocator) KVA2Index(kva uintptr) (uint, bool) {
	return a.kvaToIndex(kva)
}

func (a *Allocator) indexToKVA(idx uint) uintptr {
	return a.base + uintptr(idx)*PageSize
}

func (a *Allocator) kvaToIndex(kva uintptr) (uint, bool) {
	if kva < a.base {
		return 0, false
	}
	off := kva - a.base
	if off%PageSize != 0 {
		return 0, false
	}
	idx := uint(off / PageSize)
	if idx >= a.totalPages {
		return 0, false
	}
	return idx, true
}

// findClearFrom scans for a single clear bit starting at 'from',
// wrapping once. Used by Alloc to spread allocations instead of always
// restarting at index 0.
func (a *Allocator) findClearFrom(from uint, _ uint) (uint, bool) {
	for i := from; i < a.totalPages; i++ {
		if !a.used.Test(i) {
			return i, true
		}
	}
	for i := uint(0); i < from; i++ {
		if !a.used.Test(i) {
			return i, true
		}
	}
	return 0, false
}

// findClearRun finds the first run of 'run' consecutive clear bits.
func (a *Allocator) findClearRun(run uint) (uint, bool) {
	if run == 0 || run > a.totalPages {
		return 0, false
	}
	streak := uint(0)
	for i := uint(0); i < a.totalPages; i++ {
		if a.used.Test(i) {
			streak = 0
			continue
		}
		streak++
		if streak == run {
			return i - run + 1, true
		}
	}
	return 0, false
}
