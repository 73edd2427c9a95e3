package qba

import (
	"sync/atomic"

	cerrors "github.com/cockroachdb/errors"

	"github.com/qba-project/qba/internal/arena"
	"github.com/qba-project/qba/internal/bitutil"
	"github.com/qba-project/qba/internal/sysmem"
)

// reservation records one OS-level span the Director must release on
// Destroy.
type reservation struct {
	base   uintptr
	size   int
	shared bool
}

// Director is the top-level orchestrator: it holds the roster, the three
// QuantumAllocators for small/medium/large orders, one SlabAllocator, and
// process-global state (the user reference and link name). Each call-site
// obtains a Director handle explicitly via Create; the Director itself is
// never process-global, and multiple Directors may coexist.
type Director struct {
	config Config
	mem    sysmem.Facade

	roster *roster
	small  *QuantumAllocator
	medium *QuantumAllocator
	large  *QuantumAllocator
	slab   *SlabAllocator

	userReference atomic.Uintptr

	reservations []reservation
	attached     bool // true if this handle attached to an existing shared Director rather than creating one
}

const (
	smallSmallestOrder  = bitutil.SmallestSizeOrder // 3
	mediumSmallestOrder = smallSmallestOrder + ordersPerQuantumAllocator
	largeSmallestOrder  = mediumSmallestOrder + ordersPerQuantumAllocator
)

// partitionSizeOrderFor picks a partition span large enough that, at this
// QuantumAllocator's smallest (and therefore most populous) served order,
// the partition holds exactly maxQuantaPerPartition quanta; at every larger
// order it served fewer, never more.
func partitionSizeOrderFor(quantumAllocatorSmallestOrder int) int {
	return quantumAllocatorSmallestOrder + 14 // log2(maxQuantaPerPartition) == 14
}

// regionLayout describes one QuantumAllocator's address-space needs.
type regionLayout struct {
	smallestOrder      int
	partitionCount     int
	partitionSizeOrder int
}

func (r regionLayout) partitionSize() int {
	return int(bitutil.SizeOfOrder(r.partitionSizeOrder))
}

func (r regionLayout) regionSize() int {
	return r.partitionCount * r.partitionSize()
}

func regionLayouts(cfg Config) [3]regionLayout {
	return [3]regionLayout{
		{smallestOrder: smallSmallestOrder, partitionCount: cfg.SmallPartitionCount, partitionSizeOrder: partitionSizeOrderFor(smallSmallestOrder)},
		{smallestOrder: mediumSmallestOrder, partitionCount: cfg.MediumPartitionCount, partitionSizeOrder: partitionSizeOrderFor(mediumSmallestOrder)},
		{smallestOrder: largeSmallestOrder, partitionCount: cfg.LargePartitionCount, partitionSizeOrder: partitionSizeOrderFor(largeSmallestOrder)},
	}
}

// administrativeSize runs a Sizing arena through the same sequence of
// allocations Create will make against a Live one, so CreateSize and
// Create always agree on the remainder's byte count.
func administrativeSize(cfg Config) int {
	a := arena.NewSizing()
	for _, region := range regionLayouts(cfg) {
		quantumAllocatorLayout(a, region.partitionSizeOrder, region.partitionCount, cfg.SideDataSize)
	}
	slabAllocatorLayout(a, cfg.MaxSlabCount, cfg.SideDataSize)
	return a.Size()
}

// CreateSize returns the number of bytes the remainder (non-quantum
// administrative metadata: registries, side-data pools, slab table) will
// require for the given configuration, rounded up to a page multiple. It
// does not include the quantum regions themselves, which are separate,
// far larger virtual reservations committed only a partition at a time.
func CreateSize(cfg Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	size := administrativeSize(cfg)
	return alignUpPage(size, cfg.mem().PageSize()), nil
}

func alignUpPage(size int, page int) int {
	return (size + page - 1) &^ (page - 1)
}

// Create builds a new Director, or attaches to an existing shared one if
// cfg.LinkName names an object that already exists.
func Create(cfg Config) (*Director, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if existing, ok := lookupLink(cfg.LinkName); ok {
		return existing, nil
	}

	d := &Director{config: cfg, roster: &roster{}}
	for i := range d.roster.slots {
		d.roster.slots[i].Store(nullComponent)
	}

	remainderSize, err := CreateSize(cfg)
	if err != nil {
		return nil, err
	}

	mem := cfg.mem()
	d.mem = mem

	var remainderBase uintptr
	attached := false
	if cfg.LinkName != "" {
		// The remainder sits directly after the quantum regions, which are
		// laid out from cfg.Address below, so the two never overlap.
		remainderAddr := cfg.Address
		for _, region := range regionLayouts(cfg) {
			remainderAddr += uintptr(region.regionSize())
		}
		base, created, err := mem.MapShared(remainderAddr, remainderSize, cfg.LinkName)
		if err != nil {
			return nil, cerrors.Wrap(ErrOutOfAddressSpace, err.Error())
		}
		remainderBase = base
		attached = !created
		d.reservations = append(d.reservations, reservation{base: base, size: remainderSize, shared: true})
	} else {
		base, err := mem.ReserveAligned(remainderSize, mem.PageSize())
		if err != nil {
			return nil, cerrors.Wrap(ErrOutOfAddressSpace, err.Error())
		}
		if err := mem.Commit(base, remainderSize); err != nil {
			mem.Release(base, remainderSize, false)
			return nil, cerrors.Wrap(ErrOutOfAddressSpace, err.Error())
		}
		remainderBase = base
		d.reservations = append(d.reservations, reservation{base: base, size: remainderSize})
	}
	d.attached = attached

	live := arena.NewLive(remainderBase)
	layouts := regionLayouts(cfg)

	regions := make([]uintptr, 3)
	if cfg.LinkName != "" {
		// Quantum regions are carved largest to smallest starting at the
		// caller-supplied fixed address: since each partition size divides
		// the one before it, every region boundary lands naturally aligned
		// for the region that follows, and every sibling process that
		// supplies the same Config and Address recovers identical region
		// bases without any coordination beyond the shared link names.
		next := cfg.Address
		suffixes := [3]string{"large", "medium", "small"}
		order := [3]int{2, 1, 0}
		for _, i := range order {
			region := layouts[i]
			if region.partitionCount == 0 {
				continue
			}
			base, _, err := mem.MapShared(next, region.regionSize(), cfg.LinkName+"-"+suffixes[i])
			if err != nil {
				d.releaseAll(false)
				return nil, cerrors.Wrap(ErrOutOfAddressSpace, err.Error())
			}
			regions[i] = base
			d.reservations = append(d.reservations, reservation{base: base, size: region.regionSize(), shared: true})
			next += uintptr(region.regionSize())
		}
	} else {
		for i, region := range layouts {
			if region.partitionCount == 0 {
				continue
			}
			regionBase, err := mem.ReserveAligned(region.regionSize(), region.partitionSize())
			if err != nil {
				d.releaseAll(false)
				return nil, cerrors.Wrap(ErrOutOfAddressSpace, err.Error())
			}
			regions[i] = regionBase
			d.reservations = append(d.reservations, reservation{base: regionBase, size: region.regionSize()})
		}
	}

	d.small = newQuantumAllocator(live, regions[0], layouts[0].partitionSizeOrder, layouts[0].partitionCount, layouts[0].smallestOrder, cfg.SideDataSize, cfg.Secure, d.roster, mem)
	d.medium = newQuantumAllocator(live, regions[1], layouts[1].partitionSizeOrder, layouts[1].partitionCount, layouts[1].smallestOrder, cfg.SideDataSize, cfg.Secure, d.roster, mem)
	d.large = newQuantumAllocator(live, regions[2], layouts[2].partitionSizeOrder, layouts[2].partitionCount, layouts[2].smallestOrder, cfg.SideDataSize, cfg.Secure, d.roster, mem)
	d.slab = newSlabAllocator(live, cfg.MaxSlabCount, cfg.SideDataSize, cfg.Secure, mem)

	d.installRoster()
	registerLink(cfg.LinkName, d)
	cfg.logger().Debug("director created", "linkName", cfg.LinkName, "attached", attached, "remainderBytes", remainderSize)
	return d, nil
}

// installRoster sets the initial dispatch table: orders below the smallest
// size order and above the max allocation order go to the null sink; each
// QuantumAllocator claims its own contiguous order range; the range above
// the largest quantum order up to the max allocation order goes to the
// slab allocator.
func (d *Director) installRoster() {
	for o := 0; o < smallSmallestOrder; o++ {
		d.roster.set(o, nullComponent)
	}
	for o := smallSmallestOrder; o < mediumSmallestOrder; o++ {
		d.roster.set(o, quantumComponent(d.small))
	}
	for o := mediumSmallestOrder; o < largeSmallestOrder; o++ {
		d.roster.set(o, quantumComponent(d.medium))
	}
	for o := largeSmallestOrder; o <= bitutil.LargestQuantumOrder; o++ {
		d.roster.set(o, quantumComponent(d.large))
	}
	for o := bitutil.LargestQuantumOrder + 1; o <= bitutil.MaxAllocationOrder; o++ {
		d.roster.set(o, slabComponent(d.slab))
	}
	for o := bitutil.MaxAllocationOrder + 1; o < rosterSize; o++ {
		d.roster.set(o, nullComponent)
	}
}

func (d *Director) releaseAll(unlink bool) {
	for _, r := range d.reservations {
		d.mem.Release(r.base, r.size, unlink && r.shared)
	}
	d.reservations = nil
}

// Destroy releases every reservation this Director holds. It is
// unconditional: even a partially-initialized Director (one whose Create
// call failed partway through) must release what it managed to acquire.
// unlink is passed on to the facade's Release for shared reservations; the
// default facade unmaps them but does not remove the named shared-memory
// objects.
func (d *Director) Destroy(unlink bool) {
	d.config.logger().Debug("director destroyed", "linkName", d.config.LinkName, "unlink", unlink)
	unregisterLink(d.config.LinkName)
	if d.slab != nil {
		d.slab.Release()
	}
	d.releaseAll(unlink)
}

// GetReference atomically loads the user reference slot. The Director
// never interprets this value; it is opaque storage for the caller.
func (d *Director) GetReference() uintptr {
	return d.userReference.Load()
}

// SetReference conditionally stores newValue if the slot currently holds
// oldValue, returning whether the swap succeeded.
func (d *Director) SetReference(oldValue, newValue uintptr) bool {
	return d.userReference.CompareAndSwap(oldValue, newValue)
}

// Allocate returns a block of at least size bytes, or 0 if size is 0, size
// exceeds the maximum allocation size, or the responsible component could
// not satisfy the request.
func (d *Director) Allocate(size int) uintptr {
	if size <= 0 {
		return 0
	}
	aligned := bitutil.RoundUpPow2(uint64(size))
	if bitutil.SizeToOrder(aligned) > bitutil.MaxAllocationOrder {
		return 0
	}
	return d.allocateAligned(int(aligned))
}

func (d *Director) allocateAligned(aligned int) uintptr {
	order := bitutil.SizeToOrder(uint64(aligned))
	c := d.roster.get(order)
	switch c.kind {
	case kindPartition:
		if addr := c.partition.Allocate(aligned); addr != 0 {
			return addr
		}
		return c.partition.owner.Allocate(order, aligned)
	case kindQuantum:
		return c.quantum.Allocate(order, aligned)
	case kindSlab:
		return c.slab.Allocate(aligned)
	default:
		return 0
	}
}

// locate finds the component owning addr by address-range containment,
// checking the quantum regions and the slab table.
func (d *Director) locate(addr uintptr) *component {
	if d.small.Contains(addr) {
		return quantumComponent(d.small)
	}
	if d.medium.Contains(addr) {
		return quantumComponent(d.medium)
	}
	if d.large.Contains(addr) {
		return quantumComponent(d.large)
	}
	if d.slab.Contains(addr) {
		return slabComponent(d.slab)
	}
	return nullComponent
}

// Deallocate recycles addr. An address not managed by this Director is a
// no-op.
func (d *Director) Deallocate(addr uintptr) {
	if addr == 0 {
		return
	}
	switch c := d.locate(addr); c.kind {
	case kindQuantum:
		c.quantum.Deallocate(addr)
	case kindSlab:
		c.slab.Deallocate(addr)
	}
}

// Size returns the allocated size of addr, or 0 if addr is not managed by
// this Director.
func (d *Director) Size(addr uintptr) int {
	if addr == 0 {
		return 0
	}
	switch c := d.locate(addr); c.kind {
	case kindQuantum:
		return c.quantum.Size(addr)
	case kindSlab:
		return c.slab.Size(addr)
	default:
		return 0
	}
}

// Base recovers the allocation base for any address within a live block.
func (d *Director) Base(addr uintptr) uintptr {
	if addr == 0 {
		return 0
	}
	switch c := d.locate(addr); c.kind {
	case kindQuantum:
		return c.quantum.Base(addr)
	case kindSlab:
		return c.slab.Base(addr)
	default:
		return 0
	}
}

// SideData returns the address of the per-allocation scratch area for
// addr, or 0.
func (d *Director) SideData(addr uintptr) uintptr {
	if addr == 0 {
		return 0
	}
	switch c := d.locate(addr); c.kind {
	case kindQuantum:
		return c.quantum.SideData(addr)
	case kindSlab:
		return c.slab.SideData(addr)
	default:
		return 0
	}
}

// Next walks every currently-live allocation across all three quantum
// regions and the slab table. Passing 0 starts the walk; passing the
// result of a previous call continues it; a result of 0 means no further
// blocks.
func (d *Director) Next(addr uintptr) uintptr {
	regionOf := func(a uintptr) int {
		switch {
		case a == 0:
			return -1
		case d.small.Contains(a):
			return 0
		case d.medium.Contains(a):
			return 1
		case d.large.Contains(a):
			return 2
		case d.slab.Contains(a):
			return 3
		default:
			return -1
		}
	}

	start := regionOf(addr)
	regions := []func(uintptr) uintptr{d.small.NextAllocation, d.medium.NextAllocation, d.large.NextAllocation, d.slab.NextAllocation}

	if start >= 0 {
		if next := regions[start](addr); next != 0 {
			return next
		}
		start++
	} else {
		start = 0
	}
	for i := start; i < len(regions); i++ {
		if next := regions[i](0); next != 0 {
			return next
		}
	}
	return 0
}

// Clear zeros the content of a live block.
func (d *Director) Clear(addr uintptr) {
	size := d.Size(addr)
	if size == 0 {
		return
	}
	sharing := sysmem.Private
	if d.config.LinkName != "" {
		sharing = sysmem.Shared
	}
	d.mem.Zero(addr, size, sharing)
}

// Reallocate ensures addr refers to a block of at least newSize bytes. If
// the existing block already fits (same or larger order), it is returned
// unchanged. Otherwise a new block is allocated, the old content copied,
// and the old block freed; if the new allocation fails, the old block is
// left untouched and 0 is returned.
func (d *Director) Reallocate(addr uintptr, newSize int) uintptr {
	if addr == 0 {
		return d.Allocate(newSize)
	}
	oldSize := d.Size(addr)
	newOrder := bitutil.SizeToOrder(bitutil.RoundUpPow2(uint64(newSize)))
	oldOrder := bitutil.SizeToOrder(uint64(oldSize))
	if oldSize >= int(bitutil.RoundUpPow2(uint64(newSize))) && newOrder <= oldOrder {
		return addr
	}

	newAddr := d.Allocate(newSize)
	if newAddr == 0 {
		return 0
	}
	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	d.mem.Copy(newAddr, addr, copySize)
	d.Deallocate(addr)
	return newAddr
}

// Stats samples the current allocation state across every component.
func (d *Director) Stats() Stats {
	var s Stats
	s.Detailed.Clear()
	s.addOrder(statsSlotAdministrative, 0, uint64(administrativeSize(d.config)))
	for _, qa := range []*QuantumAllocator{d.small, d.medium, d.large} {
		qa.addStats(&s)
	}
	d.slab.addStats(&s)
	s.finalizeSum()
	return s
}

// AllocateBulk quickly allocates count blocks of size bytes. If contiguous
// is true, it either returns count contiguous ascending addresses or 0
// (partial results are not permitted in contiguous mode); otherwise it
// returns however many it managed, which may be less than count.
func (d *Director) AllocateBulk(size int, count int, out []uintptr, contiguous bool) int {
	if count <= 0 || size <= 0 {
		return 0
	}
	aligned := int(bitutil.RoundUpPow2(uint64(size)))
	order := bitutil.SizeToOrder(uint64(aligned))
	part := d.ensurePartition(order)
	if part == nil {
		return 0
	}

	if contiguous {
		n := part.AllocateBulkContiguous(out, count)
		if n != count {
			if n > 0 {
				part.DeallocateBulk(out[:n])
			}
			return 0
		}
		return n
	}

	return part.AllocateBulkSparse(out[:count])
}

// ensurePartition resolves the roster entry for order to a concrete
// Partition, bringing one online via the owning QuantumAllocator (by
// performing and immediately reversing a single allocation, which is
// enough to trigger tryBringOnline) if the roster still points at the
// QuantumAllocator itself.
func (d *Director) ensurePartition(order int) *Partition {
	c := d.roster.get(order)
	switch c.kind {
	case kindPartition:
		return c.partition
	case kindQuantum:
		size := int(bitutil.SizeOfOrder(order))
		addr := c.quantum.Allocate(order, size)
		if addr == 0 {
			return nil
		}
		part := c.quantum.partitionFor(addr)
		part.Deallocate(addr)
		return part
	default:
		return nil
	}
}

// DeallocateBulk frees every address in addrs, each routed to its owning
// component.
func (d *Director) DeallocateBulk(addrs []uintptr) {
	for _, addr := range addrs {
		d.Deallocate(addr)
	}
}

// AllocateCount finds n contiguous power-of-two blocks of size bytes and
// returns the address of the first, or 0.
func (d *Director) AllocateCount(size int, n int) uintptr {
	order := bitutil.SizeToOrder(uint64(size))
	part := d.ensurePartition(order)
	if part == nil {
		return 0
	}
	return part.AllocateCount(size, n)
}

// DeallocateCount recycles n consecutive blocks allocated by AllocateCount.
func (d *Director) DeallocateCount(addr uintptr, size int, n int) {
	switch c := d.locate(addr); c.kind {
	case kindQuantum:
		if part := c.quantum.partitionFor(addr); part != nil {
			part.DeallocateCount(addr, n)
		}
	}
}

// AllocateFit allocates enough blocks to keep internal fragmentation to
// the requested degree (1 = ~25%, down to 4 = ~3.125%), per FitSize.
func (d *Director) AllocateFit(size int, degree int) uintptr {
	if err := validateFitDegree(degree); err != nil {
		return 0
	}
	plan := fitSize(size, degree)
	if plan.blockCount == 1 {
		return d.Allocate(size)
	}
	return d.AllocateCount(int(bitutil.SizeOfOrder(plan.blockOrder)), plan.blockCount)
}

// DeallocateFit recycles blocks allocated by AllocateFit.
func (d *Director) DeallocateFit(addr uintptr, size int, degree int) {
	plan := fitSize(size, degree)
	if plan.blockCount == 1 {
		d.Deallocate(addr)
		return
	}
	d.DeallocateCount(addr, int(bitutil.SizeOfOrder(plan.blockOrder)), plan.blockCount)
}
