package qba

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/qba-project/qba/internal/debugutil"
)

// StatsSlots matches the stable size of the counts/sizes arrays in the
// external interface: slot 0 is the sum of all other slots, slot 1 is
// administrative overhead, slot 2 is reserved, slots 3-52 are per-order
// totals, and slots 53-63 are reserved.
const StatsSlots = 64

const (
	statsSlotSum           = 0
	statsSlotAdministrative = 1
)

// Stats is populated by Director.Stats: Counts[o] and Sizes[o] hold the
// live allocation count and byte total for order o, for o in [3, 48].
// Counts[0]/Sizes[0] hold the sum across all slots; Counts[1]/Sizes[1] hold
// each component's own structural footprint. Detailed tracks the same live
// allocations and recycled-but-free ranges at finer grain (min/max sizes),
// the way the teacher's own statistics type does.
type Stats struct {
	Counts   [StatsSlots]uint64
	Sizes    [StatsSlots]uint64
	Detailed debugutil.DetailedStatistics
}

func (s *Stats) addOrder(order int, count, size uint64) {
	if order < 0 || order >= StatsSlots {
		return
	}
	s.Counts[order] += count
	s.Sizes[order] += size
}

func (s *Stats) finalizeSum() {
	var countSum, sizeSum uint64
	for i := 1; i < StatsSlots; i++ {
		countSum += s.Counts[i]
		sizeSum += s.Sizes[i]
	}
	s.Counts[statsSlotSum] = countSum
	s.Sizes[statsSlotSum] = sizeSum
}

// WriteJSON serializes the stats into an object with "counts" and "sizes"
// arrays, for the diagnostic dump surface.
func (s *Stats) WriteJSON(w *jwriter.Writer) {
	obj := w.Object()
	counts := obj.Name("counts").Array()
	for _, c := range s.Counts {
		counts.Int(int(c))
	}
	counts.End()
	sizes := obj.Name("sizes").Array()
	for _, sz := range s.Sizes {
		sizes.Int(int(sz))
	}
	sizes.End()
	obj.End()
}
