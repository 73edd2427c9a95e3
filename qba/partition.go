package qba

import (
	"github.com/qba-project/qba/internal/bitutil"
	"github.com/qba-project/qba/internal/debugutil"
	"github.com/qba-project/qba/internal/registry"
	"github.com/qba-project/qba/internal/sysmem"
)

// Partition serves allocate/deallocate for a single fixed quantum order
// within a fixed, size-aligned span. Because base is aligned to size,
// every quantum address inside a Partition is naturally aligned to the
// quantum size.
type Partition struct {
	base         uintptr
	size         int
	quantumOrder int
	quantumSize  int
	numQuanta    int
	bits         *registry.Registry
	sideData     uintptr
	sideDataSize int
	owner        *QuantumAllocator
	secure       bool
	mem          sysmem.Facade
}

// newPartition constructs a Partition in place over an already-reserved
// and committed span. bitsBase and sideDataBase are addresses in the
// Director's remainder region (in attach mode, ones a sibling process
// already initialized) carved out by the Arena during Director
// construction, not inside the partition span itself.
func newPartition(base uintptr, size int, quantumOrder int, bitsBase uintptr, sideDataBase uintptr, sideDataSize int, owner *QuantumAllocator, secure bool, mem sysmem.Facade) *Partition {
	quantumSize := int(bitutil.SizeOfOrder(quantumOrder))
	numQuanta := size / quantumSize
	return &Partition{
		base:         base,
		size:         size,
		quantumOrder: quantumOrder,
		quantumSize:  quantumSize,
		numQuanta:    numQuanta,
		bits:         registry.Attach(bitsBase, numQuanta),
		sideData:     sideDataBase,
		sideDataSize: sideDataSize,
		owner:        owner,
		secure:       secure,
		mem:          mem,
	}
}

// Contains reports whether addr falls within this partition's span.
func (p *Partition) Contains(addr uintptr) bool {
	return addr >= p.base && addr < p.base+uintptr(p.size)
}

func (p *Partition) indexOf(addr uintptr) int {
	return int((addr - p.base) >> uint(p.quantumOrder))
}

func (p *Partition) addrOf(index int) uintptr {
	return p.base + uintptr(index<<uint(p.quantumOrder))
}

// Allocate returns a quantum-sized block, or 0 if the partition is full.
// size must not exceed the partition's quantum size.
func (p *Partition) Allocate(size int) uintptr {
	if size > p.quantumSize {
		return 0
	}
	i := p.bits.FindFree()
	if i == registry.NotFound {
		return 0
	}
	addr := p.addrOf(i)
	debugutil.DebugAssertAligned(addr, uintptr(p.quantumSize))
	if p.secure {
		p.mem.Zero(addr, p.quantumSize, sysmem.Private)
	}
	return addr
}

// Deallocate recycles a block previously returned by Allocate or
// AllocateCount/AllocateBulk* against this partition.
func (p *Partition) Deallocate(addr uintptr) {
	i := p.indexOf(addr)
	debugutil.DebugAssertIndexRange(i, p.numQuanta)
	wasSet := p.bits.IsSet(i)
	debugutil.DebugAssertBitSet(wasSet, i)
	if p.secure {
		p.mem.Zero(addr, p.quantumSize, sysmem.Private)
	}
	p.bits.Free(i)
}

// AllocateCount finds a run of n contiguous free quanta and returns the
// address of the first one, or 0.
func (p *Partition) AllocateCount(size int, n int) uintptr {
	if size > p.quantumSize || n <= 0 {
		return 0
	}
	i := p.bits.FindFreeRun(n)
	if i == registry.NotFound {
		return 0
	}
	return p.addrOf(i)
}

// DeallocateCount frees the n-quantum run starting at addr.
func (p *Partition) DeallocateCount(addr uintptr, n int) {
	i := p.indexOf(addr)
	p.bits.FreeRun(i, n)
}

// AllocateBulkSparse claims up to len(out) quanta by flipping whole
// registry words to all-ones, emitting the addresses of the bits it just
// claimed in ascending order. If the final word claimed more bits than fit
// in out, the unclaimed tail is cleared back to free. It returns the
// number of addresses written to out.
func (p *Partition) AllocateBulkSparse(out []uintptr) int {
	written := 0
	for wi := 0; wi < p.bits.NumWords() && written < len(out); wi++ {
		mask := p.bits.ClaimRestOfWord(wi)
		if mask == 0 {
			continue
		}
		for bit := 0; bit < 64 && written < len(out); bit++ {
			if mask&(uint64(1)<<uint(bit)) == 0 {
				continue
			}
			out[written] = p.addrOf(wi*64 + bit)
			written++
			mask &^= uint64(1) << uint(bit)
		}
		if mask != 0 {
			// out filled mid-word: return the unclaimed remainder of this
			// word to the free pool.
			p.bits.ClearMask(wi, mask)
		}
	}
	return written
}

// AllocateBulkContiguous claims n consecutive quanta in one registry call
// and writes their addresses (ascending, spaced by the quantum size) into
// out, or returns 0 if no such run exists.
func (p *Partition) AllocateBulkContiguous(out []uintptr, n int) int {
	i := p.bits.FindFreeRun(n)
	if i == registry.NotFound {
		return 0
	}
	for k := 0; k < n; k++ {
		out[k] = p.addrOf(i + k)
	}
	return n
}

// DeallocateBulk frees every address in addrs, grouping consecutive indices
// that land in the same registry word into a single AND-not to amortize
// the atomic fences the naive per-address path would pay.
func (p *Partition) DeallocateBulk(addrs []uintptr) {
	if len(addrs) == 0 {
		return
	}
	wi := -1
	var mask uint64
	flush := func() {
		if wi >= 0 && mask != 0 {
			p.bits.ClearMask(wi, mask)
		}
	}
	for _, addr := range addrs {
		i := p.indexOf(addr)
		w := i / 64
		if w != wi {
			flush()
			wi = w
			mask = 0
		}
		mask |= uint64(1) << uint(i%64)
	}
	flush()
}

// NextAllocation returns the next live address after addr (or the first
// live address, if addr is 0), or 0 if there are no more.
func (p *Partition) NextAllocation(addr uintptr) uintptr {
	start := 0
	if addr != 0 {
		start = p.indexOf(addr) + 1
	}
	for i := start; i < p.numQuanta; i++ {
		if p.bits.IsSet(i) {
			return p.addrOf(i)
		}
	}
	return 0
}

// Size returns the quantum size served by this partition, regardless of
// which live address within it is asked about.
func (p *Partition) Size() int {
	return p.quantumSize
}

// Base recovers the allocation base for any address within this partition.
func (p *Partition) Base(addr uintptr) uintptr {
	return addr &^ uintptr(p.quantumSize-1)
}

// SideData returns the address of the per-allocation scratch area for
// addr, or 0 if this partition was configured with no side data.
func (p *Partition) SideData(addr uintptr) uintptr {
	if p.sideDataSize == 0 {
		return 0
	}
	i := p.indexOf(addr)
	return p.sideData + uintptr(i*p.sideDataSize)
}

// IsEmpty reports whether every quantum in this partition is currently
// free. It is a hint used by the owning QuantumAllocator when deciding
// whether to re-specialize this slot for a different order.
func (p *Partition) IsEmpty() bool {
	return p.bits.IsEmpty()
}

// recordStats feeds this partition's per-order live count and byte total
// into s, and every individual quantum's live-or-free state into s.Detailed
// as an allocation or an unused (recyclable) range respectively.
func (p *Partition) recordStats(s *Stats, order int) {
	live := p.bits.Count()
	s.addOrder(order, uint64(live), uint64(live)*uint64(p.quantumSize))

	for wi := 0; wi < p.bits.NumWords(); wi++ {
		word := p.bits.WordLoad(wi)
		for bit := 0; bit < 64; bit++ {
			i := wi*64 + bit
			if i >= p.numQuanta {
				break
			}
			if word&(uint64(1)<<uint(bit)) != 0 {
				s.Detailed.AddAllocation(p.quantumSize)
			} else {
				s.Detailed.AddUnusedRange(p.quantumSize)
			}
		}
	}
}

// Validate runs debug-only internal consistency checks.
func (p *Partition) Validate() error {
	return nil
}
