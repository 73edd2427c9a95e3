package qba_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/qba-project/qba/internal/bitutil"
	"github.com/qba-project/qba/qba"
)

func newTestDirector(t *testing.T, secure bool) *qba.Director {
	t.Helper()
	cfg := qba.DefaultConfig(secure)
	d, err := qba.Create(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Destroy(false) })
	return d
}

func bytesAt(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func fill(addr uintptr, size int, v byte) {
	b := bytesAt(addr, size)
	for i := range b {
		b[i] = v
	}
}

func allZero(addr uintptr, size int) bool {
	for _, v := range bytesAt(addr, size) {
		if v != 0 {
			return false
		}
	}
	return true
}

// S1: a deallocated block is recycled by the very next same-size allocate,
// and in secure mode the recycled memory comes back zeroed.
func TestSmallRecycle(t *testing.T) {
	d := newTestDirector(t, true)

	a := d.Allocate(8)
	require.NotZero(t, a)
	fill(a, 8, 0xFF)
	d.Deallocate(a)

	b := d.Allocate(8)
	require.Equal(t, a, b)
	require.True(t, allZero(b, 8))
}

// S2: growing past the current block's order allocates a new, larger block
// and preserves the original content.
func TestReallocateGrowPreservesContent(t *testing.T) {
	d := newTestDirector(t, false)

	a := d.Allocate(8)
	require.NotZero(t, a)
	fill(a, 8, 0xFF)

	b := d.Reallocate(a, 9)
	require.NotZero(t, b)
	require.NotEqual(t, a, b)
	require.GreaterOrEqual(t, d.Size(b), 9)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, bytesAt(b, 8))
}

// S3: shrinking within the same order returns the same address.
func TestReallocateShrinkInPlace(t *testing.T) {
	d := newTestDirector(t, false)

	a := d.Allocate(8)
	require.NotZero(t, a)
	b := d.Reallocate(a, 7)
	require.Equal(t, a, b)
}

// S4: every interior pointer within a live block recovers the block's base.
func TestBaseOfInteriorPointer(t *testing.T) {
	d := newTestDirector(t, false)

	a := d.Allocate(1024)
	require.NotZero(t, a)
	for i := uintptr(1); i < 1024; i++ {
		require.Equal(t, a, d.Base(a+i), "offset %d", i)
	}
}

// S5: a contiguous bulk request returns addresses spaced by the block size.
func TestAllocateBulkContiguous(t *testing.T) {
	d := newTestDirector(t, false)

	out := make([]uintptr, 8)
	n := d.AllocateBulk(16, 8, out, true)
	require.Equal(t, 8, n)
	for i := 1; i < 8; i++ {
		require.Equal(t, out[i-1]+16, out[i])
	}
}

// S6: stats reflect live allocations and return to zero once they are
// deallocated.
func TestStatsRoundTrip(t *testing.T) {
	d := newTestDirector(t, false)
	order := bitutil.SizeToOrder(1024)

	a := d.Allocate(1024)
	b := d.Allocate(1024)
	require.NotZero(t, a)
	require.NotZero(t, b)

	s := d.Stats()
	require.Equal(t, uint64(2), s.Counts[order])
	require.Equal(t, uint64(2048), s.Sizes[order])

	d.Deallocate(a)
	d.Deallocate(b)

	s = d.Stats()
	require.Equal(t, uint64(0), s.Counts[order])
}

// S7: Next walks every live allocation exactly once and then returns 0.
func TestNextWalkEnumeratesLiveAllocations(t *testing.T) {
	d := newTestDirector(t, false)

	a := d.Allocate(8)
	b := d.Allocate(1024)
	c := d.Allocate(1 << 20)
	require.NotZero(t, a)
	require.NotZero(t, b)
	require.NotZero(t, c)

	want := map[uintptr]bool{a: true, b: true, c: true}
	seen := map[uintptr]bool{}
	addr := d.Next(0)
	for addr != 0 {
		require.False(t, seen[addr], "address %x visited twice", addr)
		require.True(t, want[addr], "unexpected address %x in walk", addr)
		seen[addr] = true
		addr = d.Next(addr)
	}
	require.Len(t, seen, len(want))
}

// S8: operations on an invalid address are no-ops rather than errors.
func TestInvalidAddressIsNoOp(t *testing.T) {
	d := newTestDirector(t, false)

	require.NotPanics(t, func() { d.Deallocate(0) })
	require.Equal(t, 0, d.Size(0))
	require.Equal(t, uintptr(0), d.Base(0))

	outside := uintptr(0xdead0000)
	require.NotPanics(t, func() { d.Deallocate(outside) })
}

// Secure mode zeroes a block's content the moment it is handed out, even on
// its very first allocation (no prior tenant to have dirtied it).
func TestSecureAllocateZeroesFreshMemory(t *testing.T) {
	d := newTestDirector(t, true)

	a := d.Allocate(64)
	require.NotZero(t, a)
	require.True(t, allZero(a, 64))
}
