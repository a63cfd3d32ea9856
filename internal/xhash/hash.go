// Package xhash is the __generic_hash collaborator spec.md names: an
// integer hash on pointer-valued (here, uintptr-valued) keys, used by
// the arena's allocation hash table. Grounded on
// flier-goutil/pkg/arena/swiss/map.go's use of dolthub/maphash for
// exactly this role — hashing a comparable key for a chained table.
package xhash

import "github.com/dolthub/maphash"

// Hasher hashes uintptr keys (segment start addresses).
type Hasher struct {
	h maphash.Hasher[uintptr]
}

// New builds a Hasher with a fresh random seed.
func New() *Hasher {
	return &Hasher{h: maphash.NewHasher[uintptr]()}
}

// Hash returns a 64-bit hash of addr. Callers reduce it mod their
// table size.
func (h *Hasher) Hash(addr uintptr) uint64 {
	return h.h.Hash(addr)
}
