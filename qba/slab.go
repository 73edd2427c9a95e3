package qba

import (
	"github.com/qba-project/qba/internal/arena"
	"github.com/qba-project/qba/internal/bitutil"
	"github.com/qba-project/qba/internal/registry"
	"github.com/qba-project/qba/internal/sysmem"
)

const slabAlignment = 1 << 20 // slabs are rounded up to the megabyte

// slabRecord is one slot in the SlabAllocator's table: a reservation that
// may or may not currently be backing a live allocation.
type slabRecord struct {
	base     uintptr
	size     int
	reserved bool // true once any reservation has ever been made for this slot
}

// SlabAllocator handles requests above the largest quantum order. Each slot
// is recycled on deallocate: the virtual reservation is kept around so a
// same-or-smaller-size request can reuse it without paying for a fresh OS
// reservation, and only released when a larger request supersedes it or the
// Director is destroyed.
type SlabAllocator struct {
	records      []slabRecord
	inUse        *registry.Registry
	sideDataSize int
	sideDataBase uintptr
	secure       bool
	mem          sysmem.Facade
}

func slabAllocatorLayout(a *arena.Arena, maxSlabCount, sideDataSize int) {
	regWords := registry.WordsNeeded(maxSlabCount)
	a.Alloc(regWords*8, 8)
	if sideDataSize > 0 {
		a.Alloc(maxSlabCount*sideDataSize, 8)
	}
}

func newSlabAllocator(a *arena.Arena, maxSlabCount, sideDataSize int, secure bool, mem sysmem.Facade) *SlabAllocator {
	regWords := registry.WordsNeeded(maxSlabCount)
	regBase := a.Alloc(regWords*8, 8)
	s := &SlabAllocator{
		records:      make([]slabRecord, maxSlabCount),
		inUse:        registry.Attach(regBase, maxSlabCount),
		sideDataSize: sideDataSize,
		secure:       secure,
		mem:          mem,
	}
	if sideDataSize > 0 {
		s.sideDataBase = a.Alloc(maxSlabCount*sideDataSize, 8)
	}
	return s
}

func roundUpToMB(size int) int {
	const mb = 1 << 20
	return (size + mb - 1) &^ (mb - 1)
}

// Allocate claims a free slot, rounds size up to the nearest megabyte, and
// reuses the slot's existing reservation if it's large enough (releasing
// any surplus tail), or releases a too-small one and reserves fresh.
func (s *SlabAllocator) Allocate(size int) uintptr {
	rounded := roundUpToMB(size)
	i := s.inUse.FindFree()
	if i == registry.NotFound {
		return 0
	}

	rec := &s.records[i]
	switch {
	case rec.reserved && rec.size >= rounded:
		if rec.size > rounded {
			s.mem.Release(rec.base+uintptr(rounded), rec.size-rounded, false)
			rec.size = rounded
		}
	case rec.reserved:
		s.mem.Release(rec.base, rec.size, false)
		base, err := s.mem.ReserveAligned(rounded, slabAlignment)
		if err != nil {
			s.inUse.Free(i)
			return 0
		}
		rec.base = base
		rec.size = rounded
	default:
		base, err := s.mem.ReserveAligned(rounded, slabAlignment)
		if err != nil {
			s.inUse.Free(i)
			return 0
		}
		rec.base = base
		rec.size = rounded
		rec.reserved = true
	}

	if err := s.mem.Commit(rec.base, rec.size); err != nil {
		s.inUse.Free(i)
		return 0
	}
	if s.secure {
		s.mem.Zero(rec.base, rec.size, sysmem.Private)
	}
	return rec.base
}

// Deallocate clears the in-use bit for the slot containing addr but keeps
// the reservation around for reuse.
func (s *SlabAllocator) Deallocate(addr uintptr) {
	i := s.slotFor(addr)
	if i < 0 {
		return
	}
	if s.secure {
		s.mem.Zero(s.records[i].base, s.records[i].size, sysmem.Private)
	}
	s.inUse.Free(i)
}

func (s *SlabAllocator) slotFor(addr uintptr) int {
	for i := range s.records {
		if !s.inUse.IsSet(i) {
			continue
		}
		r := &s.records[i]
		if addr >= r.base && addr < r.base+uintptr(r.size) {
			return i
		}
	}
	return -1
}

func (s *SlabAllocator) Contains(addr uintptr) bool {
	return s.slotFor(addr) >= 0
}

func (s *SlabAllocator) Size(addr uintptr) int {
	if i := s.slotFor(addr); i >= 0 {
		return s.records[i].size
	}
	return 0
}

func (s *SlabAllocator) Base(addr uintptr) uintptr {
	if i := s.slotFor(addr); i >= 0 {
		return s.records[i].base
	}
	return 0
}

func (s *SlabAllocator) SideData(addr uintptr) uintptr {
	if s.sideDataSize == 0 {
		return 0
	}
	i := s.slotFor(addr)
	if i < 0 {
		return 0
	}
	return s.sideDataBase + uintptr(i*s.sideDataSize)
}

// NextAllocation iterates slots in table order, returning the first
// in-use slot's base after the one containing addr.
func (s *SlabAllocator) NextAllocation(addr uintptr) uintptr {
	start := 0
	if addr != 0 {
		if i := s.slotFor(addr); i >= 0 {
			start = i + 1
		}
	}
	for i := start; i < len(s.records); i++ {
		if s.inUse.IsSet(i) {
			return s.records[i].base
		}
	}
	return 0
}

// addStats attributes each in-use slot to the order its rounded size falls
// under, so a diagnostic dump shows slab usage alongside quantum usage in
// the same per-order breakdown. Reserved-but-idle slots are recorded as
// recyclable unused ranges rather than live allocations, matching the
// recycle-on-deallocate semantics in Allocate/Deallocate above.
func (s *SlabAllocator) addStats(stats *Stats) {
	for i := range s.records {
		rec := &s.records[i]
		if s.inUse.IsSet(i) {
			order := bitutil.SizeToOrder(uint64(rec.size))
			stats.addOrder(order, 1, uint64(rec.size))
			stats.Detailed.AddAllocation(rec.size)
		} else if rec.reserved {
			stats.Detailed.AddUnusedRange(rec.size)
		}
	}
}

// Release returns every slot's outstanding reservation to the OS. Called
// only when the owning Director is destroyed.
func (s *SlabAllocator) Release() {
	for i := range s.records {
		if s.records[i].reserved {
			s.mem.Release(s.records[i].base, s.records[i].size, false)
			s.records[i].reserved = false
		}
	}
}
