//go:build unix

package sysmem

import (
	"os"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func pageSize() int {
	return os.Getpagesize()
}

// mmapAt wraps the mmap(2) syscall directly rather than unix.Mmap, which
// has no way to request a fixed address. addr == 0 lets the kernel choose.
func mmapAt(addr uintptr, size int, prot, flags, fd int) (uintptr, error) {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(size),
		uintptr(prot),
		uintptr(flags),
		uintptr(fd),
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func mmapFlags(addr uintptr) int {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if addr != 0 {
		flags |= unix.MAP_FIXED
	}
	return flags
}

func reserve(addr uintptr, size int) (uintptr, error) {
	data, err := mmapAt(addr, size, unix.PROT_NONE, mmapFlags(addr), -1)
	if err != nil {
		return 0, cerrors.Mark(cerrors.Wrapf(err, "reserve %d bytes at %#x", size, addr), ErrOutOfAddressSpace)
	}
	return data, nil
}

func reserveAligned(size int, alignment int) (uintptr, error) {
	oversize := size + alignment - pageSize()
	base, err := reserve(0, oversize)
	if err != nil {
		return 0, err
	}

	alignedBase := (base + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)
	prefix := int(alignedBase - base)
	suffix := oversize - prefix - size

	if prefix > 0 {
		if err := release(base, prefix, false); err != nil {
			return 0, err
		}
	}
	if suffix > 0 {
		if err := release(alignedBase+uintptr(size), suffix, false); err != nil {
			return 0, err
		}
	}
	return alignedBase, nil
}

// shmPath mirrors what glibc's shm_open does under the hood on Linux: a
// named shared memory object is just a file in the tmpfs mounted at
// /dev/shm, keyed by name.
func shmPath(linkName string) string {
	return "/dev/shm/" + linkName
}

func mapShared(addr uintptr, size int, linkName string) (uintptr, bool, error) {
	if linkName == "" {
		return 0, false, cerrors.Wrap(ErrUnsupported, "mapShared: empty link name")
	}

	path := shmPath(linkName)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	created := true
	if err != nil {
		if !cerrors.Is(err, unix.EEXIST) {
			return 0, false, cerrors.Mark(cerrors.Wrapf(err, "open %s", path), ErrOutOfAddressSpace)
		}
		created = false
		fd, err = unix.Open(path, unix.O_RDWR, 0600)
		if err != nil {
			return 0, false, cerrors.Mark(cerrors.Wrapf(err, "attach %s", path), ErrOutOfAddressSpace)
		}
	}
	defer unix.Close(fd)

	if created {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return 0, false, cerrors.Mark(cerrors.Wrapf(err, "ftruncate %s to %d", linkName, size), ErrOutOfAddressSpace)
		}
	}

	flags := unix.MAP_SHARED
	if addr != 0 {
		flags |= unix.MAP_FIXED
	}
	data, err := mmapAt(addr, size, unix.PROT_READ|unix.PROT_WRITE, flags, fd)
	if err != nil {
		return 0, false, cerrors.Mark(cerrors.Wrapf(err, "mmap shared %s", linkName), ErrOutOfAddressSpace)
	}
	return data, created, nil
}

func release(addr uintptr, size int, unlink bool) error {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Munmap(slice); err != nil {
		return cerrors.Wrapf(err, "munmap %#x/%d", addr, size)
	}
	_ = unlink // the named shared object under /dev/shm is left in place
	return nil
}

func commit(addr uintptr, size int) error {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Mprotect(slice, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return cerrors.Mark(cerrors.Wrapf(err, "commit %#x/%d", addr, size), ErrOutOfAddressSpace)
	}
	return nil
}

func uncommit(addr uintptr, size int) error {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Madvise(slice, unix.MADV_DONTNEED); err != nil {
		return cerrors.Wrapf(err, "madvise dontneed %#x/%d", addr, size)
	}
	return unix.Mprotect(slice, unix.PROT_NONE)
}

func zeroDirect(addr uintptr, size int) {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	for i := range slice {
		slice[i] = 0
	}
}

func zeroByRecommit(addr uintptr, size int) error {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Madvise(slice, unix.MADV_DONTNEED); err != nil {
		return cerrors.Wrapf(err, "zero-by-recommit %#x/%d", addr, size)
	}
	return nil
}

func copyMemory(dst, src uintptr, size int) {
	dstSlice := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	srcSlice := unsafe.Slice((*byte)(unsafe.Pointer(src)), size)
	copy(dstSlice, srcSlice)
}
