package debugutil

import (
	cerrors "github.com/cockroachdb/errors"
)

// Number is any integer type the allocator core does arithmetic on. Both
// sizes and orders are represented with plain int/uint, but keeping this
// generic lets the same helper serve both without a cast at every call site.
type Number interface {
	~int | ~uint | ~uint64
}

// CheckPow2 returns ErrNotPowerOfTwo, wrapped with the offending value and
// name, if number is not a power of two. Zero is not a power of two.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment, which must
// be a power of two.
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the nearest multiple of alignment, which
// must be a power of two.
func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}
