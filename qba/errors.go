package qba

import (
	cerrors "github.com/cockroachdb/errors"
)

// ErrOutOfAddressSpace means the OS refused a virtual memory reservation,
// commit, or mapping. Surfaces as a nil handle from Create, or a zero
// address from Allocate/Reallocate (with the original block left intact on
// a failed Reallocate).
var ErrOutOfAddressSpace = cerrors.New("qba: out of address space")

// ErrOutOfAllocatorCapacity means every partition slot at the requested
// order is full and no empty slot could be repurposed. Surfaces as a zero
// address from Allocate.
var ErrOutOfAllocatorCapacity = cerrors.New("qba: out of allocator capacity")

// ErrInvalidConfiguration means a count, size, or degree parameter fell
// outside its documented domain. Surfaces as an error returned before any
// state changes.
var ErrInvalidConfiguration = cerrors.New("qba: invalid configuration")

// ErrInvalidAddress means a pointer was not managed by this Director.
// Queries (Size, Base, SideData) return zero; Deallocate and Next treat it
// as a no-op / end-of-walk rather than an error.
var ErrInvalidAddress = cerrors.New("qba: address not managed by this allocator")
