//go:build windows

package sysmem

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"
)

func pageSize() int {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	return int(info.PageSize)
}

func reserve(addr uintptr, size int) (uintptr, error) {
	base, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return 0, cerrors.Mark(cerrors.Wrapf(err, "VirtualAlloc reserve %d at %#x", size, addr), ErrOutOfAddressSpace)
	}
	return base, nil
}

func reserveAligned(size int, alignment int) (uintptr, error) {
	oversize := size + alignment - pageSize()
	base, err := reserve(0, oversize)
	if err != nil {
		return 0, err
	}
	if err := release(base, oversize, false); err != nil {
		return 0, err
	}

	alignedBase := (base + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)
	// Windows offers no equivalent of excising a sub-range of a mapping;
	// the oversized reservation above is released wholesale and a fresh,
	// precisely-sized reservation is made at the computed aligned address.
	// This races with other threads/processes claiming that address between
	// the release and the re-reserve; accept the narrow window, matching
	// the platform-policy gap called out for shared mode below.
	return reserve(alignedBase, size)
}

// mapShared is intentionally unimplemented: named shared memory on Windows
// requires CreateFileMapping/MapViewOfFileEx plumbing this port does not
// carry. Shared mode is rejected outright rather than silently downgraded
// to process-private memory.
func mapShared(addr uintptr, size int, linkName string) (uintptr, bool, error) {
	return 0, false, cerrors.Wrap(ErrUnsupported, "shared-memory backing is not implemented on windows")
}

func release(addr uintptr, size int, unlink bool) error {
	_ = size
	_ = unlink
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func commit(addr uintptr, size int) error {
	_, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return cerrors.Mark(cerrors.Wrapf(err, "VirtualAlloc commit %#x/%d", addr, size), ErrOutOfAddressSpace)
	}
	return nil
}

func uncommit(addr uintptr, size int) error {
	return windows.VirtualFree(addr, uintptr(size), windows.MEM_DECOMMIT)
}

func zeroDirect(addr uintptr, size int) {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	for i := range slice {
		slice[i] = 0
	}
}

func zeroByRecommit(addr uintptr, size int) error {
	if err := uncommit(addr, size); err != nil {
		return err
	}
	return commit(addr, size)
}

func copyMemory(dst, src uintptr, size int) {
	dstSlice := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	srcSlice := unsafe.Slice((*byte)(unsafe.Pointer(src)), size)
	copy(dstSlice, srcSlice)
}
