// Package arena implements the bump allocator used to lay out a Director's
// internal metadata inside a single reserved region. It runs in one of two
// modes: Sizing, a dry run that only totals up byte requirements so the
// Director knows how large a reservation to make, and Live, which hands out
// real addresses inside an already-reserved (and, for the commit pass,
// already-committed) region for placement construction.
//
// A Live arena driven with the same sequence of Alloc calls against the
// same base address always reproduces the same offsets. That determinism
// is what lets a second process attach to an existing shared-memory
// Director: it replays the identical Alloc sequence and recovers the same
// component addresses without re-initializing anything.
package arena

import "github.com/qba-project/qba/internal/debugutil"

// Mode selects whether an Arena is measuring or placing.
type Mode int

const (
	// Sizing only accumulates the byte count; Alloc never dereferences
	// base and the returned address is meaningless.
	Sizing Mode = iota
	// Live hands out real addresses within a reserved region, for either
	// fresh construction or attach-mode re-derivation.
	Live
)

// Arena is a simple bump allocator over a (conceptual or real) span of
// memory starting at base.
type Arena struct {
	mode   Mode
	base   uintptr
	offset int
}

// NewSizing creates an arena that only totals up the bytes a layout would
// require.
func NewSizing() *Arena {
	return &Arena{mode: Sizing}
}

// NewLive creates an arena that hands out real addresses inside the region
// starting at base. Used both for fresh construction and for attach-mode
// re-derivation; the caller decides which based on context the arena does
// not track.
func NewLive(base uintptr) *Arena {
	return &Arena{mode: Live, base: base}
}

// Alloc reserves size bytes aligned to alignment (a power of two) and
// returns the address of the start of that reservation. In Sizing mode the
// returned address is not a real pointer; only Size() is meaningful
// afterward.
func (a *Arena) Alloc(size int, alignment uint) uintptr {
	debugutil.DebugCheckPow2(alignment, "alignment")
	a.offset = debugutil.AlignUp(a.offset, alignment)
	addr := a.base + uintptr(a.offset)
	a.offset += size
	return addr
}

// Size returns the total number of bytes consumed so far, rounded up to no
// particular alignment; the Director rounds the grand total up to a page
// boundary itself.
func (a *Arena) Size() int {
	return a.offset
}

// Mode reports whether this arena is measuring or placing.
func (a *Arena) Mode() Mode {
	return a.mode
}
