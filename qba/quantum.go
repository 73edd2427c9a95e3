package qba

import (
	"sync/atomic"

	"github.com/qba-project/qba/internal/arena"
	"github.com/qba-project/qba/internal/bitutil"
	"github.com/qba-project/qba/internal/registry"
	"github.com/qba-project/qba/internal/sysmem"
)

const ordersPerQuantumAllocator = 8
const maxQuantaPerPartition = 16384

// QuantumAllocator owns a fixed-size region subdivided into partitionCount
// equal-size partition slots, lazily brings partitions online per size
// order as requests arrive, and mediates between size requests and the
// per-order partition pools.
type QuantumAllocator struct {
	base               uintptr
	partitionSizeOrder int
	partitionSize       int
	partitionCount     int
	smallestOrder      int
	sideDataSize       int
	secure             bool

	partitions       []atomic.Pointer[Partition]
	partitionBitsBase []uintptr // per-slot registry backing, sized for maxQuantaPerPartition
	partitionSideDataBase []uintptr
	partitionRegistry *registry.Registry
	orderRegistries  [ordersPerQuantumAllocator]*registry.Registry

	roster *roster
	mem    sysmem.Facade
}

// quantumAllocatorLayout describes the byte footprint a QuantumAllocator
// with the given parameters requires, for the Director's sizing pass.
func quantumAllocatorLayout(a *arena.Arena, partitionSizeOrder, partitionCount, sideDataSize int) {
	bitsWords := registry.WordsNeeded(maxQuantaPerPartition)
	for p := 0; p < partitionCount; p++ {
		a.Alloc(bitsWords*8, 8)
		if sideDataSize > 0 {
			a.Alloc(maxQuantaPerPartition*sideDataSize, 8)
		}
	}
	// partitionRegistry + 8 order registries, sized for partitionCount bits each.
	regWords := registry.WordsNeeded(partitionCount)
	a.Alloc(regWords*8*(1+ordersPerQuantumAllocator), 8)
}

// newQuantumAllocator constructs a QuantumAllocator in place using a live
// Arena, claiming its partition region starting at regionBase.
func newQuantumAllocator(a *arena.Arena, regionBase uintptr, partitionSizeOrder, partitionCount, smallestOrder, sideDataSize int, secure bool, r *roster, mem sysmem.Facade) *QuantumAllocator {
	qa := &QuantumAllocator{
		base:               regionBase,
		partitionSizeOrder: partitionSizeOrder,
		partitionSize:      int(bitutil.SizeOfOrder(partitionSizeOrder)),
		partitionCount:     partitionCount,
		smallestOrder:      smallestOrder,
		sideDataSize:       sideDataSize,
		secure:             secure,
		partitions:         make([]atomic.Pointer[Partition], partitionCount),
		partitionBitsBase:  make([]uintptr, partitionCount),
		partitionSideDataBase: make([]uintptr, partitionCount),
		roster:             r,
		mem:                mem,
	}

	bitsWords := registry.WordsNeeded(maxQuantaPerPartition)
	for p := 0; p < partitionCount; p++ {
		qa.partitionBitsBase[p] = a.Alloc(bitsWords*8, 8)
		if sideDataSize > 0 {
			qa.partitionSideDataBase[p] = a.Alloc(maxQuantaPerPartition*sideDataSize, 8)
		}
	}

	regWords := registry.WordsNeeded(partitionCount)
	partitionRegistryBase := a.Alloc(regWords*8, 8)
	qa.partitionRegistry = registry.Attach(partitionRegistryBase, partitionCount)
	for k := 0; k < ordersPerQuantumAllocator; k++ {
		base := a.Alloc(regWords*8, 8)
		qa.orderRegistries[k] = registry.Attach(base, partitionCount)
	}
	return qa
}

func (qa *QuantumAllocator) largestOrder() int {
	return qa.smallestOrder + ordersPerQuantumAllocator - 1
}

func (qa *QuantumAllocator) slotBase(p int) uintptr {
	return qa.base + uintptr(p*qa.partitionSize)
}

func (qa *QuantumAllocator) Contains(addr uintptr) bool {
	return addr >= qa.base && addr < qa.base+uintptr(qa.partitionCount*qa.partitionSize)
}

func (qa *QuantumAllocator) slotIndex(addr uintptr) int {
	return int((addr - qa.base) >> uint(qa.partitionSizeOrder))
}

// Allocate services a request of aligned size at order k = order -
// smallestOrder, per the algorithm in the component design: try online
// partitions at that order, else bring a new slot online, else
// re-specialize an empty slot from another order, else fail.
func (qa *QuantumAllocator) Allocate(order int, size int) uintptr {
	k := order - qa.smallestOrder
	if k < 0 || k >= ordersPerQuantumAllocator {
		return 0
	}

	if addr := qa.tryExistingPartitions(k, size); addr != 0 {
		return addr
	}
	if addr := qa.tryBringOnline(k, order, size); addr != 0 {
		return addr
	}
	if addr := qa.tryRespecialize(k, order, size); addr != 0 {
		return addr
	}
	return 0
}

func (qa *QuantumAllocator) tryExistingPartitions(k int, size int) uintptr {
	reg := qa.orderRegistries[k]
	for wi := 0; wi < reg.NumWords(); wi++ {
		word := reg.WordLoad(wi)
		for word != 0 {
			bit := bitsTrailingZero(word)
			p := wi*64 + bit
			word &^= uint64(1) << uint(bit)
			part := qa.partitions[p].Load()
			if part == nil {
				continue
			}
			if addr := part.Allocate(size); addr != 0 {
				return addr
			}
		}
	}
	return 0
}

func bitsTrailingZero(x uint64) int {
	// local trailing-zero count; callers only pass nonzero words
	n := 0
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

func (qa *QuantumAllocator) tryBringOnline(k int, order int, size int) uintptr {
	p := qa.partitionRegistry.FindFree()
	if p == registry.NotFound {
		return 0
	}
	part := qa.constructSlot(p, order)
	qa.orderRegistries[k].Set(p)
	qa.roster.set(order, partitionComponent(part))
	return part.Allocate(size)
}

// constructSlot brings slot p online (or re-specializes an already-used,
// currently-empty one) for order. The full bits buffer is always zeroed
// first, so every specialization starts from an all-free registry whatever
// the slot held before. (No tail bits are ever sealed here: every served
// order gets between 128 and 16384 quanta, always a multiple of 64.)
func (qa *QuantumAllocator) constructSlot(p int, order int) *Partition {
	base := qa.slotBase(p)
	qa.mem.Commit(base, qa.partitionSize)
	numQuanta := qa.partitionSize >> uint(order)
	if numQuanta > maxQuantaPerPartition {
		numQuanta = maxQuantaPerPartition
	}
	bitsWords := registry.WordsNeeded(maxQuantaPerPartition)
	qa.mem.Zero(qa.partitionBitsBase[p], bitsWords*8, sysmem.Private)
	sideDataBase := qa.partitionSideDataBase[p]
	part := newPartition(base, numQuanta<<uint(order), order, qa.partitionBitsBase[p], sideDataBase, qa.sideDataSize, qa, qa.secure, qa.mem)
	qa.partitions[p].Store(part)
	return part
}

// tryRespecialize scans high-to-low across every other served order for a
// currently-empty online partition, takes it offline, double-checks
// emptiness (the offline clear linearizes against further allocations so a
// losing allocation attempt will observe the cleared roster entry and fall
// back here instead), and re-specializes it for order k.
func (qa *QuantumAllocator) tryRespecialize(k int, order int, size int) uintptr {
	for otherK := ordersPerQuantumAllocator - 1; otherK >= 0; otherK-- {
		if otherK == k {
			continue
		}
		reg := qa.orderRegistries[otherK]
		for wi := 0; wi < reg.NumWords(); wi++ {
			word := reg.WordLoad(wi)
			for word != 0 {
				bit := bitsTrailingZero(word)
				p := wi*64 + bit
				word &^= uint64(1) << uint(bit)

				part := qa.partitions[p].Load()
				if part == nil || !part.IsEmpty() {
					continue
				}
				if !reg.Clear(p) {
					continue // someone else already took it offline
				}
				qa.roster.set(qa.smallestOrder+otherK, quantumComponent(qa))
				if !part.IsEmpty() {
					// A racing allocation landed between IsEmpty and Clear;
					// put the slot back exactly as it was and move on.
					reg.Set(p)
					qa.roster.set(qa.smallestOrder+otherK, partitionComponent(part))
					continue
				}

				newPart := qa.constructSlot(p, order)
				qa.orderRegistries[k].Set(p)
				qa.roster.set(order, partitionComponent(newPart))
				return newPart.Allocate(size)
			}
		}
	}
	return 0
}

// addStats sums live quanta and bytes per order across every online
// partition, attributing each partition's count to the order it is
// currently specialized for rather than the order it was constructed at,
// since respecialization can change that over the partition's lifetime.
func (qa *QuantumAllocator) addStats(s *Stats) {
	for k := 0; k < ordersPerQuantumAllocator; k++ {
		order := qa.smallestOrder + k
		reg := qa.orderRegistries[k]
		for wi := 0; wi < reg.NumWords(); wi++ {
			word := reg.WordLoad(wi)
			for word != 0 {
				bit := bitsTrailingZero(word)
				p := wi*64 + bit
				word &^= uint64(1) << uint(bit)
				if part := qa.partitions[p].Load(); part != nil {
					part.recordStats(s, order)
				}
			}
		}
	}
}

// Deallocate routes to the partition slot owning addr.
func (qa *QuantumAllocator) Deallocate(addr uintptr) {
	p := qa.slotIndex(addr)
	part := qa.partitions[p].Load()
	if part == nil {
		return
	}
	part.Deallocate(addr)
}

func (qa *QuantumAllocator) partitionFor(addr uintptr) *Partition {
	p := qa.slotIndex(addr)
	if p < 0 || p >= qa.partitionCount {
		return nil
	}
	return qa.partitions[p].Load()
}

func (qa *QuantumAllocator) Size(addr uintptr) int {
	if part := qa.partitionFor(addr); part != nil {
		return part.Size()
	}
	return 0
}

func (qa *QuantumAllocator) Base(addr uintptr) uintptr {
	if part := qa.partitionFor(addr); part != nil {
		return part.Base(addr)
	}
	return 0
}

func (qa *QuantumAllocator) SideData(addr uintptr) uintptr {
	if part := qa.partitionFor(addr); part != nil {
		return part.SideData(addr)
	}
	return 0
}

func (qa *QuantumAllocator) NextAllocation(addr uintptr) uintptr {
	startSlot := 0
	var within uintptr
	if addr != 0 {
		startSlot = qa.slotIndex(addr)
		within = addr
	}
	for p := startSlot; p < qa.partitionCount; p++ {
		part := qa.partitions[p].Load()
		if part == nil {
			continue
		}
		seek := uintptr(0)
		if p == startSlot {
			seek = within
		}
		if next := part.NextAllocation(seek); next != 0 {
			return next
		}
	}
	return 0
}
