package arena

// Status is the residence state of a boundary tag: spec.md's three
// mutually exclusive states for a non-SPAN BT, plus SPAN itself.
type Status uint8

const (
	// Free means the BT sits on all_segs and exactly one free_segs[k]
	// list, with k = floor(log2(size)).
	Free Status = iota
	// Alloc means the BT sits on all_segs and one alloc_hash chain.
	Alloc
	// Span brackets a contiguous range imported from a source arena.
	// Spans never merge with anything and never sit on a free/alloc
	// list — only on all_segs.
	Span
)

func (s Status) String() string {
	switch s {
	case Free:
		return "FREE"
	case Alloc:
		return "ALLOC"
	case Span:
		return "SPAN"
	default:
		return "UNKNOWN"
	}
}

// boundaryTag is the unit of bookkeeping: a record describing segment
// [start, start+size) of an arena's address space. Every BT lives on
// the all_segs tree (via left/right/parent/height) except while on the
// unused list. Exactly one "misc" link (miscPrev/miscNext) is active at
// a time, and which list it threads through is a function of status:
// FREE -> a free_segs[k] bucket, ALLOC -> an alloc_hash chain, and an
// unused record -> the unused list. SPAN records use neither; they are
// tree-only.
type boundaryTag struct {
	start  uintptr
	size   uintptr
	status Status

	// all_segs tree linkage, keyed by start (see segtree.go).
	left, right, parent *boundaryTag
	height              int8

	// mode-dependent misc list linkage; see the table above.
	miscPrev, miscNext *boundaryTag
}

// end returns the exclusive end address of the segment.
func (bt *boundaryTag) end() uintptr {
	return bt.start + bt.size
}
