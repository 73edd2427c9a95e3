//go:build qba_debug

package debugutil

import (
	"fmt"
	"unsafe"
)

const (
	// DebugMargin is the number of guard bytes WriteMagicValue fills with
	// corruptionMagic and ValidateMagicValue checks. No allocator path calls
	// either helper, so quanta and slabs carry no guard bytes. Zero in
	// release builds.
	DebugMargin int = 16

	corruptionMagic uint32 = 0x7F84E666
)

// WriteMagicValue stamps DebugMargin bytes at data+offset with an
// easy-to-spot marker. No-op unless built with qba_debug.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	words := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < words; i++ {
		*(*uint32)(dest) = corruptionMagic
		dest = unsafe.Add(dest, unsafe.Sizeof(uint32(0)))
	}
}

// ValidateMagicValue reports whether the marker written by WriteMagicValue
// is still intact at data+offset.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	words := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < words; i++ {
		if *(*uint32)(source) != corruptionMagic {
			return false
		}
		source = unsafe.Add(source, unsafe.Sizeof(uint32(0)))
	}
	return true
}

// DebugValidate panics if validatable.Validate() returns an error.
func DebugValidate(validatable Validatable) {
	if err := validatable.Validate(); err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if value is not a power of two.
func DebugCheckPow2[T Number](value T, name string) {
	if err := CheckPow2[T](value, name); err != nil {
		panic(err)
	}
}

// DebugAssertBitSet panics if a registry bit expected to be set (an address
// about to be freed must currently be marked in-use) was observed clear.
// This is the double-free assertion.
func DebugAssertBitSet(set bool, index int) {
	if !set {
		panic(fmt.Sprintf("double free: bit %d already clear", index))
	}
}

// DebugAssertIndexRange panics if index is outside [0, count).
func DebugAssertIndexRange(index, count int) {
	if index < 0 || index >= count {
		panic(fmt.Sprintf("index %d out of range [0, %d)", index, count))
	}
}

// DebugAssertAligned panics if addr is not aligned to alignment, which must
// be a power of two.
func DebugAssertAligned(addr uintptr, alignment uintptr) {
	if addr&(alignment-1) != 0 {
		panic(fmt.Sprintf("address %#x not aligned to %d", addr, alignment))
	}
}
