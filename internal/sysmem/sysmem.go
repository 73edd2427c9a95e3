// Package sysmem is the OS facade: the only part of the allocator core that
// talks to the operating system's virtual memory manager. Every other
// component works in terms of this package's addresses and never calls
// mmap/munmap/VirtualAlloc directly.
//
// Sizes and addresses passed to Reserve, ReserveAligned, MapShared,
// Release, Commit and Uncommit must be page multiples / page-aligned;
// callers round up before calling in. Copy, and Zero on its direct-write
// path, accept any size and address.
package sysmem

import (
	cerrors "github.com/cockroachdb/errors"
)

// ErrOutOfAddressSpace is returned when the OS refuses a reservation,
// mapping, or commit request.
var ErrOutOfAddressSpace = cerrors.New("sysmem: out of address space")

// ErrUnsupported is returned for operations this platform cannot perform,
// such as named shared mappings on a platform with no such facility wired
// up.
var ErrUnsupported = cerrors.New("sysmem: operation unsupported on this platform")

// Sharing describes whether a region of memory is backed by process-private
// or shared storage. It affects the policy Zero uses to clear pages.
type Sharing int

const (
	// Private means the region is anonymous, process-local memory.
	Private Sharing = iota
	// Shared means the region is backed by a named shared-memory object
	// that may be mapped into more than one process.
	Shared
)

// PageSize returns the platform's page size in bytes. Addresses and sizes
// given to the reservation, mapping and commit calls must be multiples of
// it.
func PageSize() int {
	return pageSize()
}

// Reserve reserves size bytes of address space, optionally at a fixed
// address (addr != 0), backing it anonymously and privately. The returned
// region carries no read/write protection until Commit is called. It fails
// with ErrOutOfAddressSpace if the OS cannot satisfy the request.
func Reserve(addr uintptr, size int) (uintptr, error) {
	return reserve(addr, size)
}

// ReserveAligned reserves size bytes such that the returned base is a
// multiple of alignment. It over-reserves by size+alignment-pageSize,
// excises the aligned middle, and releases the prefix and suffix back to
// the OS.
func ReserveAligned(size int, alignment int) (uintptr, error) {
	return reserveAligned(size, alignment)
}

// MapShared creates (or attaches to, if it already exists) a named shared
// memory object of size bytes and maps it read-write at addr. linkName
// identifies the object across processes. created reports whether this
// call created the object (true) or attached to an existing one (false).
func MapShared(addr uintptr, size int, linkName string) (base uintptr, created bool, err error) {
	return mapShared(addr, size, linkName)
}

// Release returns a previously reserved region to the OS. unlink is
// accepted but not acted on: the named object behind a shared region is
// not removed.
func Release(addr uintptr, size int, unlink bool) error {
	return release(addr, size, unlink)
}

// Commit makes a previously reserved region's pages readable and writable,
// backing them with physical memory on first touch.
func Commit(addr uintptr, size int) error {
	return commit(addr, size)
}

// Uncommit returns a region to the reserved-but-no-backing state. The
// address range remains reserved but accessing it is undefined until the
// next Commit.
func Uncommit(addr uintptr, size int) error {
	return uncommit(addr, size)
}

// Zero clears size bytes at addr. For small regions it writes zeros
// directly; for larger private regions it prefers to re-commit the pages
// (discarding physical backing and resetting to copy-on-write zero pages);
// shared regions always take the direct-write path since there is no
// private zero page to reset to.
const zeroDirectThreshold = 32 * 1024

func Zero(addr uintptr, size int, sharing Sharing) error {
	if size <= zeroDirectThreshold || sharing == Shared {
		zeroDirect(addr, size)
		return nil
	}
	return zeroByRecommit(addr, size)
}

// Copy copies size bytes from src to dst. The two regions must not overlap.
func Copy(dst, src uintptr, size int) {
	copyMemory(dst, src, size)
}

// Facade is the OS virtual-memory surface the Director depends on. The
// package-level functions above are the real implementation; Facade exists
// so a caller (tests, primarily) can substitute a fake that fails on
// command instead of depending on actually exhausting address space.
type Facade interface {
	PageSize() int
	Reserve(addr uintptr, size int) (uintptr, error)
	ReserveAligned(size int, alignment int) (uintptr, error)
	MapShared(addr uintptr, size int, linkName string) (base uintptr, created bool, err error)
	Release(addr uintptr, size int, unlink bool) error
	Commit(addr uintptr, size int) error
	Uncommit(addr uintptr, size int) error
	Zero(addr uintptr, size int, sharing Sharing) error
	Copy(dst, src uintptr, size int)
}

type defaultFacade struct{}

func (defaultFacade) PageSize() int                       { return PageSize() }
func (defaultFacade) Reserve(addr uintptr, size int) (uintptr, error) { return Reserve(addr, size) }
func (defaultFacade) ReserveAligned(size, alignment int) (uintptr, error) {
	return ReserveAligned(size, alignment)
}
func (defaultFacade) MapShared(addr uintptr, size int, linkName string) (uintptr, bool, error) {
	return MapShared(addr, size, linkName)
}
func (defaultFacade) Release(addr uintptr, size int, unlink bool) error {
	return Release(addr, size, unlink)
}
func (defaultFacade) Commit(addr uintptr, size int) error   { return Commit(addr, size) }
func (defaultFacade) Uncommit(addr uintptr, size int) error { return Uncommit(addr, size) }
func (defaultFacade) Zero(addr uintptr, size int, sharing Sharing) error {
	return Zero(addr, size, sharing)
}
func (defaultFacade) Copy(dst, src uintptr, size int) { Copy(dst, src, size) }

// Default is the real OS-backed Facade implementation.
var Default Facade = defaultFacade{}
