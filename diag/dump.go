package diag

import (
	"github.com/davecgh/go-spew/spew"

	"github.com/nyxkernel/vmem/arena"
	"github.com/nyxkernel/vmem/slab"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	SortKeys:                true,
}

// DumpArena renders a's full segment graph for human debugging, the
// structured replacement for a direct print_arena_stats console write.
func DumpArena(a *arena.Arena) string {
	snap := a.Snapshot()
	return dumpConfig.Sdump(snap)
}

// DumpCache renders c's summary and every live slab, the structured
// replacement for print_kmem_cache.
func DumpCache(c *slab.Cache) string {
	return dumpConfig.Sdump(c.Snapshot(), c.Slabs())
}
