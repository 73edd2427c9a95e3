package qba

import (
	"io"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/qba-project/qba/internal/sysmem"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard))

// Config describes how to size and construct a Director.
type Config struct {
	// Address, if nonzero, is the fixed base address the reservation must
	// land at. Required when LinkName is set.
	Address uintptr
	// LinkName, if non-empty, names a shared-memory object backing the
	// entire reservation; multiple processes supplying identical Config
	// values and the same LinkName and Address co-manage one Director.
	LinkName string
	// Secure, if true, zeroes every block before it is handed out by
	// Allocate, and zeroes blocks again on Deallocate.
	Secure bool
	// SmallPartitionCount, MediumPartitionCount, and LargePartitionCount are
	// the partition slot counts for the three QuantumAllocators. Each must
	// be in [0, 16384].
	SmallPartitionCount  int
	MediumPartitionCount int
	LargePartitionCount  int
	// MaxSlabCount bounds the SlabAllocator's slot table. Must be in
	// [0, 16384].
	MaxSlabCount int
	// SideDataSize is the size in bytes of the per-allocation scratch area
	// maintained alongside every quantum and slab. Must be in [0, 64].
	SideDataSize int

	// Logger receives Debug-level lifecycle events (Director construction
	// and destruction). A nil Logger discards everything.
	Logger *slog.Logger

	// backend substitutes the real OS facade; nil means sysmem.Default.
	// Unexported: only tests within this package can set it.
	backend sysmem.Facade
}

func (c Config) mem() sysmem.Facade {
	if c.backend != nil {
		return c.backend
	}
	return sysmem.Default
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return discardLogger
}

// DefaultConfig returns the configuration used when a caller wants sensible
// defaults, varying only secure mode: (0, "", secure, 32, 16, 8, 2048, 0).
func DefaultConfig(secure bool) Config {
	return Config{
		Secure:               secure,
		SmallPartitionCount:  32,
		MediumPartitionCount: 16,
		LargePartitionCount:  8,
		MaxSlabCount:         2048,
		SideDataSize:         0,
	}
}

const maxPartitionCount = 16384
const maxSideDataSize = 64

// Validate checks every count, size, and degree-adjacent field against its
// documented domain. It never mutates state; it is called before any
// reservation is attempted.
func (c Config) Validate() error {
	if c.SmallPartitionCount < 0 || c.SmallPartitionCount > maxPartitionCount {
		return cerrors.Wrapf(ErrInvalidConfiguration, "smallPartitionCount %d out of [0, %d]", c.SmallPartitionCount, maxPartitionCount)
	}
	if c.MediumPartitionCount < 0 || c.MediumPartitionCount > maxPartitionCount {
		return cerrors.Wrapf(ErrInvalidConfiguration, "mediumPartitionCount %d out of [0, %d]", c.MediumPartitionCount, maxPartitionCount)
	}
	if c.LargePartitionCount < 0 || c.LargePartitionCount > maxPartitionCount {
		return cerrors.Wrapf(ErrInvalidConfiguration, "largePartitionCount %d out of [0, %d]", c.LargePartitionCount, maxPartitionCount)
	}
	if c.MaxSlabCount < 0 || c.MaxSlabCount > maxPartitionCount {
		return cerrors.Wrapf(ErrInvalidConfiguration, "maxSlabCount %d out of [0, %d]", c.MaxSlabCount, maxPartitionCount)
	}
	if c.SideDataSize < 0 || c.SideDataSize > maxSideDataSize {
		return cerrors.Wrapf(ErrInvalidConfiguration, "sideDataSize %d out of [0, %d]", c.SideDataSize, maxSideDataSize)
	}
	if c.LinkName != "" && c.Address == 0 {
		return cerrors.Wrap(ErrInvalidConfiguration, "sharing requires a fixed Address")
	}
	return nil
}

// validateFitDegree checks the degree parameter to AllocateFit/DeallocateFit.
func validateFitDegree(degree int) error {
	if degree < 1 || degree > 4 {
		return cerrors.Wrapf(ErrInvalidConfiguration, "fit degree %d out of [1, 4]", degree)
	}
	return nil
}
