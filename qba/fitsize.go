package qba

import "github.com/qba-project/qba/internal/bitutil"

// fitPlan is the result of FitSize: the number of blocks to allocate and
// the order of each one. All blocks are the same size.
type fitPlan struct {
	blockOrder int
	blockCount int
}

// fitSize computes how to satisfy a request of size bytes while holding
// internal fragmentation to the degree requested (1 = ~25% average, down to
// 4 = ~3.125%), per the algorithm in the component design: round the
// request up to a multiple of a smaller block size, then see how many
// trailing zero bits that multiple has — each one lets the plan double the
// block size and halve the block count without changing the total, which
// is exactly the freedom needed to collapse back to a single block when
// the request was already a clean power of two.
func fitSize(size int, degree int) fitPlan {
	order := bitutil.SizeToOrder(uint64(size))
	lowOrder := order - degree
	if lowOrder < bitutil.SmallestSizeOrder {
		lowOrder = bitutil.SmallestSizeOrder
	}

	blockSize := int(bitutil.SizeOfOrder(lowOrder))
	rounded := (size + blockSize - 1) &^ (blockSize - 1)
	scaled := rounded / blockSize
	zeros := trailingZeroBits(scaled)

	if (scaled >> uint(zeros)) > 1 {
		return fitPlan{
			blockOrder: lowOrder + zeros,
			blockCount: scaled >> uint(zeros),
		}
	}
	return fitPlan{blockOrder: order, blockCount: 1}
}

func trailingZeroBits(x int) int {
	if x == 0 {
		return 0
	}
	n := 0
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}
