package arena

// Flags controls both allocation fit policy and out-of-memory behavior
// for a single call. The two bit ranges are disjoint by construction
// (see the array-bound assertion below).
type Flags uint32

const (
	// BestFit scans the matching free_segs bucket for the smallest
	// sufficient segment before falling back to instant-fit semantics.
	BestFit Flags = 1 << 8
	// InstantFit grabs the first BT from the ceil(log2(size)) bucket
	// or higher without scanning.
	InstantFit Flags = 1 << 9
	// NextFit walks all_segs circularly from the cursor left behind by
	// the previous next-fit allocation.
	NextFit Flags = 1 << 10

	fitStyleMask = BestFit | InstantFit | NextFit
)

const (
	// Atomic makes a call that still finds no memory after trying its
	// source (if any) return an error instead of panicking.
	Atomic Flags = 1 << 16
	// Wait is passed through to nested calls unchanged. No call here
	// blocks: an exhausted Wait call panics like any other call that
	// sets neither Atomic nor ErrorOK.
	Wait Flags = 1 << 17
	// ErrorOK suppresses the fatal panic an exhausted non-atomic
	// allocation would otherwise raise.
	ErrorOK Flags = 1 << 18

	memBehaviorMask = Atomic | Wait | ErrorOK
)

// fitStyleMask and memBehaviorMask must never overlap: a nonzero
// intersection here produces a negative array length, which fails to
// compile.
var _ [1 - int(fitStyleMask&memBehaviorMask)]struct{}

func (f Flags) fitStyle() Flags { return f & fitStyleMask }

// IsAtomic reports whether f carries Atomic: an exhausted call returns
// an error instead of panicking.
func (f Flags) IsAtomic() bool { return f&Atomic != 0 }

// AllowsWait reports whether f carries the Wait bit. No allocation
// path consults it.
func (f Flags) AllowsWait() bool { return f&Wait != 0 }

// ErrorOK reports whether f suppresses the fatal panic an exhausted
// non-atomic call would otherwise raise.
func (f Flags) ErrorOK() bool { return f&ErrorOK != 0 }
