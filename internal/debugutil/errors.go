// Package debugutil holds small, dependency-light helpers shared across the
// allocator core: power-of-two validation, alignment arithmetic, running
// statistics, and the debug/release assertion split used on hot paths.
package debugutil

import cerrors "github.com/cockroachdb/errors"

// ErrNotPowerOfTwo is returned by CheckPow2 when the tested value is not a
// power of two.
var ErrNotPowerOfTwo error = cerrors.New("value must be a power of two")
